package redis

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/salachat/salachat/chat"
)

func TestMessageRoundTrip(t *testing.T) {
	in := chat.Message{
		ID:         7,
		RoomID:     1,
		AuthorID:   42,
		AuthorName: "ana",
		Body:       "hola",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Avatar:     "a.svg",
		Reactions:  map[string]int{"👍": 2, "❤️": 1},
	}

	m, err := fromChatMessage(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.chatMessage()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageEmptyReactions(t *testing.T) {
	m := message{ID: 1, RoomID: 1, AuthorName: "ana", Body: "hola"}
	out, err := m.chatMessage()
	if err != nil {
		t.Fatal(err)
	}
	if out.Reactions == nil || len(out.Reactions) != 0 {
		t.Errorf("Reactions = %v, want empty map", out.Reactions)
	}
}
