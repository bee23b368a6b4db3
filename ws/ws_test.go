package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"

	"github.com/salachat/salachat/chat"
	"github.com/salachat/salachat/chat/validator"
)

func TestHandler_GuestJoin(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv, "?nick=ana", nil)
	defer conn.Close()

	send(t, conn, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})

	first := awaitEvent(t, conn, chat.EventHistory)
	var history chat.HistoryPayload
	if err := json.Unmarshal(first.Payload, &history); err != nil {
		t.Fatal(err)
	}
	if history.RoomID != 1 || len(history.Messages) != 0 {
		t.Errorf("History = %+v, want empty snapshot for room 1", history)
	}

	second := awaitEvent(t, conn, chat.EventPresence)
	var presence chat.PresencePayload
	if err := json.Unmarshal(second.Payload, &presence); err != nil {
		t.Fatal(err)
	}
	if len(presence.Members) != 1 || presence.Members[0].Name != "ana" {
		t.Errorf("Members = %+v, want only ana", presence.Members)
	}
}

func TestHandler_AuthenticatedJoin(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	header := http.Header{"X-User-ID": []string{"42"}}
	conn := dial(t, srv, "", header)
	defer conn.Close()

	send(t, conn, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})

	ev := awaitEvent(t, conn, chat.EventPresence)
	var presence chat.PresencePayload
	if err := json.Unmarshal(ev.Payload, &presence); err != nil {
		t.Fatal(err)
	}
	if len(presence.Members) != 1 || presence.Members[0].ID != 42 {
		t.Errorf("Members = %+v, want the resolved identity 42", presence.Members)
	}
}

func TestHandler_UnauthenticatedJoin(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	conn := dial(t, srv, "", nil)
	defer conn.Close()

	send(t, conn, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})

	ev := awaitEvent(t, conn, chat.EventAuthRequired)
	if ev.Type != chat.EventAuthRequired {
		t.Fatal("Expected an auth required reply")
	}
}

func TestHandler_MessageReachesRoom(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	sender := dial(t, srv, "?nick=ana", nil)
	defer sender.Close()
	receiver := dial(t, srv, "?nick=beto", nil)
	defer receiver.Close()

	send(t, sender, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})
	awaitEvent(t, sender, chat.EventPresence)
	send(t, receiver, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})
	awaitEvent(t, receiver, chat.EventPresence)

	send(t, sender, chat.Inbound{Type: chat.InboundMessage, RoomID: 1, Body: "hola"})

	for name, conn := range map[string]*websocket.Conn{"sender": sender, "receiver": receiver} {
		ev := awaitEvent(t, conn, chat.EventMessage)
		var msg chat.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Body != "hola" || msg.AuthorName != "ana" {
			t.Errorf("%s got %+v, want ana's hola", name, msg)
		}
	}
}

func TestHandler_DisconnectUpdatesPresence(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	leaver := dial(t, srv, "?nick=ana", nil)
	stayer := dial(t, srv, "?nick=beto", nil)
	defer stayer.Close()

	send(t, leaver, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})
	awaitEvent(t, leaver, chat.EventPresence)
	send(t, stayer, chat.Inbound{Type: chat.InboundJoin, RoomID: 1})
	awaitEvent(t, stayer, chat.EventPresence)

	leaver.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := awaitEvent(t, stayer, chat.EventPresence)
		var presence chat.PresencePayload
		if err := json.Unmarshal(ev.Payload, &presence); err != nil {
			t.Fatal(err)
		}
		if len(presence.Members) == 1 && presence.Members[0].Name == "beto" {
			return
		}
	}
	t.Fatal("Stayer never saw ana leave")
}

// wireEvent mirrors chat.Event with an undecoded payload.
type wireEvent struct {
	Type    chat.EventType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := chat.NewRegistry()
	logger := slogt.New(t)
	dispatcher := &chat.Dispatcher{
		Logger:    logger,
		Store:     &fakeStore{},
		Cache:     &fakeCache{},
		Presence:  registry,
		Broadcast: &chat.Broadcaster{Presence: registry, Logger: logger},
		Rooms:     &fakeRooms{},
		Val:       validator.New(),
	}
	handler := &Handler{
		Logger:     logger,
		Dispatcher: dispatcher,
		Identities: &fakeIdentities{},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	return httptest.NewServer(handler)
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Could not dial %s: %v", url, err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, in chat.Inbound) {
	t.Helper()
	if err := conn.WriteJSON(in); err != nil {
		t.Fatalf("Could not write event: %v", err)
	}
}

// awaitEvent reads events until one of the wanted type arrives.
func awaitEvent(t *testing.T, conn *websocket.Conn, want chat.EventType) wireEvent {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("No %s event arrived: %v", want, err)
		}
		if ev.Type == want {
			return ev
		}
	}
}

// fakeStore keeps appended messages in memory; history starts empty.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
}

func (s *fakeStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	return msg, nil
}

func (s *fakeStore) History(_ context.Context, _ int64, _ int, _ ...int64) ([]chat.Message, error) {
	return nil, nil
}

func (s *fakeStore) Message(_ context.Context, _ int64) (chat.Message, error) {
	return chat.Message{}, chat.ErrNotFound
}

func (s *fakeStore) Delete(_ context.Context, _ int64) error {
	return nil
}

func (s *fakeStore) ToggleReaction(_ context.Context, _ int64, _ chat.Identity, _ string) (map[string]int, error) {
	return nil, chat.ErrNotFound
}

type fakeCache struct{}

func (c *fakeCache) History(_ context.Context, _ int64) ([]chat.Message, error) { return nil, nil }
func (c *fakeCache) Add(_ context.Context, _ chat.Message) error                { return nil }
func (c *fakeCache) Remove(_ context.Context, _, _ int64) error                 { return nil }

type fakeRooms struct{}

func (r *fakeRooms) RoomExists(_ context.Context, roomID int64) (bool, error) {
	return roomID == 1, nil
}

func (r *fakeRooms) Room(_ context.Context, roomID int64) (chat.Room, error) {
	if roomID != 1 {
		return chat.Room{}, chat.ErrNotFound
	}
	return chat.Room{ID: 1, Name: "general"}, nil
}

func (r *fakeRooms) Rooms(_ context.Context) ([]chat.Room, error) {
	return []chat.Room{{ID: 1, Name: "general"}}, nil
}

type fakeIdentities struct{}

func (f *fakeIdentities) Identity(_ context.Context, userID int64) (chat.Identity, error) {
	if userID != 42 {
		return chat.Identity{}, chat.ErrNotFound
	}
	return chat.Identity{ID: 42, Name: "ana", Avatar: "a.svg"}, nil
}
