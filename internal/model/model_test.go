package model

import (
	"testing"
	"time"
)

func TestStatusAdvances(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSending, StatusRead, true},
		{StatusSent, StatusRead, true},
		{StatusRead, StatusSent, false},
		{StatusSent, StatusSending, false},
		{StatusSent, StatusSent, false},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusFailed, false},
		{StatusFailed, StatusSending, true},
		{StatusSent, "", false},
	}
	for _, tt := range tests {
		if got := tt.from.Advances(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMessagePatchKeepsStatusMonotonic(t *testing.T) {
	m := ChatMessage{ID: "m1", Status: StatusRead, Content: "hi"}
	content := "edited"
	sent := StatusSent
	MessagePatch{Status: &sent, Content: &content}.Apply(&m)

	if m.Status != StatusRead {
		t.Fatalf("expected status to stay READ, got %s", m.Status)
	}
	if m.Content != "edited" {
		t.Fatalf("expected content applied, got %q", m.Content)
	}
}

func TestMessageIdentity(t *testing.T) {
	m := ChatMessage{LocalID: "local-1"}
	if !m.IsOptimistic() || m.Key() != "local-1" || !m.Matches("local-1") {
		t.Fatalf("unexpected optimistic identity %+v", m)
	}
	m.ID = "m-42"
	if m.IsOptimistic() || m.Key() != "m-42" || !m.Matches("local-1") || m.Matches("") {
		t.Fatalf("unexpected confirmed identity %+v", m)
	}
}

func TestRoomHelpers(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := ChatRoom{ID: "r1", AgentID: "a1", UpdatedAt: ts}

	if r.Key() != "r1" {
		t.Fatalf("expected record id as key, got %s", r.Key())
	}
	r.RoomID = "chan-1"
	if r.Key() != "chan-1" || !r.Matches("r1") || !r.Matches("chan-1") {
		t.Fatalf("unexpected room identity %+v", r)
	}
	if r.SenderRole("a1", false) != RoleAgent || r.SenderRole("u1", false) != RoleUser {
		t.Fatal("unexpected sender roles")
	}
	if !r.ActivityTime().Equal(ts) {
		t.Fatalf("expected UpdatedAt as activity, got %v", r.ActivityTime())
	}

	r.AddUnread(RoleUser, 2)
	r.AddUnread(RoleUser, -5)
	r.AddUnread(RoleAgent, 1)
	if r.Unread(RoleUser) != 0 || r.Unread(RoleAgent) != 1 {
		t.Fatalf("unexpected counters user=%d agent=%d", r.UnreadCountUser, r.UnreadCountAgent)
	}
	if RoleUser.Other() != RoleAgent || RoleAgent.Other() != RoleUser {
		t.Fatal("unexpected Other")
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message.created","roomId":"r1","data":{"id":"m1","senderId":"a1","content":"hello","status":"SENT"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Message == nil || ev.Message.ID != "m1" || ev.Message.RoomID != "r1" {
		t.Fatalf("unexpected message payload %+v", ev.Message)
	}

	ev, err = DecodeEvent([]byte(`{"type":"typing","roomId":"r1","userId":"a1","data":{"isTyping":true}}`))
	if err != nil {
		t.Fatalf("DecodeEvent typing: %v", err)
	}
	if ev.Typing == nil || ev.Typing.UserID != "a1" || !ev.Typing.IsTyping {
		t.Fatalf("unexpected typing payload %+v", ev.Typing)
	}
}

func TestDecodeEventRejectsBadInput(t *testing.T) {
	inputs := map[string]string{
		"not json":     `{`,
		"unknown type": `{"type":"nope","data":{}}`,
		"missing data": `{"type":"presence"}`,
		"bad payload":  `{"type":"presence","data":"oops"}`,
	}
	for name, in := range inputs {
		if _, err := DecodeEvent([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestNewEventRoundTrip(t *testing.T) {
	ev, err := NewEvent(EventPresence, "", "u2", PresenceEvent{UserID: "u2", IsOnline: true})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if ev.Type != EventPresence || len(ev.Data) == 0 || ev.SentAt.IsZero() {
		t.Fatalf("unexpected envelope %+v", ev)
	}
}
