package chat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_Members(t *testing.T) {
	type action struct {
		join   bool
		connID string
		ident  Identity
		roomID int64
	}
	tests := []struct {
		name    string
		actions []action
		roomID  int64
		want    []Member
	}{
		{
			name:   "Empty",
			roomID: 1,
			want:   nil,
		},
		{
			name: "MultiTabDedupByIdentity",
			actions: []action{
				{join: true, connID: "tab1", ident: Identity{ID: 7, Name: "ana", Avatar: "a.svg"}, roomID: 1},
				{join: true, connID: "tab2", ident: Identity{ID: 7, Name: "ana", Avatar: "a.svg"}, roomID: 1},
			},
			roomID: 1,
			want:   []Member{{ID: 7, Name: "ana", Avatar: "a.svg"}},
		},
		{
			name: "SameNameDistinctIdentities",
			actions: []action{
				{join: true, connID: "c1", ident: Identity{ID: 1, Name: "ana"}, roomID: 1},
				{join: true, connID: "c2", ident: Identity{ID: 2, Name: "ana"}, roomID: 1},
			},
			roomID: 1,
			want:   []Member{{ID: 1, Name: "ana"}, {ID: 2, Name: "ana"}},
		},
		{
			name: "GuestsDedupByName",
			actions: []action{
				{join: true, connID: "c1", ident: Identity{Name: "ana"}, roomID: 1},
				{join: true, connID: "c2", ident: Identity{Name: "beto"}, roomID: 1},
			},
			roomID: 1,
			want:   []Member{{Name: "ana"}, {Name: "beto"}},
		},
		{
			name: "LeaveRemoves",
			actions: []action{
				{join: true, connID: "c1", ident: Identity{ID: 1, Name: "ana"}, roomID: 1},
				{join: true, connID: "c2", ident: Identity{ID: 2, Name: "beto"}, roomID: 1},
				{join: false, connID: "c1"},
			},
			roomID: 1,
			want:   []Member{{ID: 2, Name: "beto"}},
		},
		{
			name: "RejoinMovesRoom",
			actions: []action{
				{join: true, connID: "c1", ident: Identity{ID: 1, Name: "ana"}, roomID: 1},
				{join: true, connID: "c1", ident: Identity{ID: 1, Name: "ana"}, roomID: 2},
			},
			roomID: 1,
			want:   nil,
		},
		{
			name: "OtherRoomInvisible",
			actions: []action{
				{join: true, connID: "c1", ident: Identity{ID: 1, Name: "ana"}, roomID: 1},
				{join: true, connID: "c2", ident: Identity{ID: 2, Name: "beto"}, roomID: 2},
			},
			roomID: 1,
			want:   []Member{{ID: 1, Name: "ana"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			for _, a := range tt.actions {
				if a.join {
					reg.Join(&testconn{id: a.connID, ident: a.ident, authed: true}, a.ident, a.roomID)
				} else {
					reg.Leave(a.connID)
				}
			}
			if diff := cmp.Diff(tt.want, reg.Members(tt.roomID)); diff != "" {
				t.Errorf("Members mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry_JoinReturnsPreviousRoom(t *testing.T) {
	reg := NewRegistry()
	conn := &testconn{id: "c1", ident: Identity{ID: 1, Name: "ana"}, authed: true}

	if _, hadPrev := reg.Join(conn, conn.ident, 1); hadPrev {
		t.Error("First join reported a previous room")
	}
	prev, hadPrev := reg.Join(conn, conn.ident, 2)
	if !hadPrev || prev != 1 {
		t.Errorf("Got (%d, %v), want (1, true)", prev, hadPrev)
	}
}

func TestRegistry_Leave(t *testing.T) {
	reg := NewRegistry()
	conn := &testconn{id: "c1", ident: Identity{ID: 1, Name: "ana"}, authed: true}
	reg.Join(conn, conn.ident, 1)

	entry, ok := reg.Leave("c1")
	if !ok || entry.RoomID != 1 || entry.Identity.Name != "ana" {
		t.Errorf("Leave = (%+v, %v), want ana's entry in room 1", entry, ok)
	}
	if _, ok := reg.Leave("c1"); ok {
		t.Error("Second leave still found an entry")
	}
}

func TestRegistry_NameInUse(t *testing.T) {
	reg := NewRegistry()
	reg.Join(&testconn{id: "c1"}, Identity{Name: "Ana"}, 1)

	tests := []struct {
		name   string
		probe  string
		except string
		roomID int64
		want   bool
	}{
		{name: "Collision", probe: "Ana", except: "c2", roomID: 1, want: true},
		{name: "SelfIsNotCollision", probe: "Ana", except: "c1", roomID: 1, want: false},
		{name: "OtherRoom", probe: "Ana", except: "c2", roomID: 2, want: false},
		{name: "FreeName", probe: "Beto", except: "c2", roomID: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.NameInUse(tt.roomID, tt.probe, tt.except); got != tt.want {
				t.Errorf("NameInUse = %v, want %v", got, tt.want)
			}
		})
	}
}
