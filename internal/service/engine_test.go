package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/remote"
)

func TestSendMessageConfirmsOptimisticEntry(t *testing.T) {
	api := &fakeAPI{}
	api.sendMessage = func(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
		m := serverMsg("m-42", req.RoomID, "u1", 100)
		m.Content = req.Content
		return &m, nil
	}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	got, err := e.SendMessage(context.Background(), "A", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.ID != "m-42" || got.Status != model.StatusSent || got.LocalID != "local-1" {
		t.Fatalf("unexpected confirmed message %+v", got)
	}
	if api.sends[0].LocalID != "local-1" {
		t.Fatalf("expected local id on the wire, got %+v", api.sends[0])
	}

	// The pushed echo of the same message must not add a copy.
	echo := serverMsg("m-42", "A", "u1", 100)
	echo.Content = "hello"
	e.HandleEvent(&model.Event{Type: model.EventMessageCreated, RoomID: "A", Message: &echo})

	log := st.Messages("A")
	if len(log) != 1 || log[0].Content != "hello" {
		t.Fatalf("expected exactly one message, got %+v", log)
	}
	r, _ := st.Room("A")
	if r.UnreadCountAgent != 1 {
		t.Fatalf("expected agent unread 1, got %d", r.UnreadCountAgent)
	}
}

func TestSendMessageFailureRollsBack(t *testing.T) {
	api := &fakeAPI{}
	api.sendMessage = func(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
		return nil, &remote.APIError{StatusCode: http.StatusServiceUnavailable, Message: "down"}
	}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10), testRoom("B", 20)})
	st.SetMessages("A", []model.ChatMessage{serverMsg("m1", "A", "a1", 10)})
	before, _ := st.Room("A")

	_, err := e.SendMessage(context.Background(), "A", "hello", model.MessageTypeText)
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}

	if n := len(st.Messages("A")); n != 1 {
		t.Fatalf("expected temp message removed, got %d messages", n)
	}
	after, _ := st.Room("A")
	if after.UnreadCountAgent != before.UnreadCountAgent || !after.LastMessageTime.Equal(*before.LastMessageTime) {
		t.Fatalf("room changed: before=%+v after=%+v", before, after)
	}
	if st.Rooms()[0].ID != "B" {
		t.Fatalf("expected B to stay first, got %s", st.Rooms()[0].ID)
	}
	if st.MessagesState("A").Error == "" {
		t.Fatal("expected an error notice on the room")
	}
}

func TestSendMessageRejectsInvalidContent(t *testing.T) {
	api := &fakeAPI{}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	for _, content := range []string{"", "   ", string([]byte{0xff, 0xfe}), string(make([]byte, MaxContentBytes+1))} {
		_, err := e.SendMessage(context.Background(), "A", content, "")
		if Classify(err) != KindValidation {
			t.Fatalf("content %q: expected validation error, got %v", content, err)
		}
	}
	_, err := e.SendMessage(context.Background(), "A", "", "")
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if api.sendCount() != 0 {
		t.Fatalf("expected no remote calls, got %d", api.sendCount())
	}
	if n := len(st.Messages("A")); n != 0 {
		t.Fatalf("expected no local messages, got %d", n)
	}
}

func TestSelectRoomLoadsAndSubscribes(t *testing.T) {
	api := &fakeAPI{}
	api.fetchMessages = func(ctx context.Context, roomID string) (*model.MessagePage, error) {
		return &model.MessagePage{Messages: []model.ChatMessage{
			serverMsg("m2", roomID, "a1", 20),
			serverMsg("m1", roomID, "u1", 10),
		}}, nil
	}
	push := newFakePush()
	e, st := newTestEngine(t, api, push)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10), testRoom("B", 5)})

	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	if st.SelectedRoom() != "A" {
		t.Fatalf("expected A selected, got %q", st.SelectedRoom())
	}
	log := st.Messages("A")
	if len(log) != 2 || log[0].ID != "m1" {
		t.Fatalf("unexpected log %+v", log)
	}
	if push.handler("room:A") == nil {
		t.Fatal("expected room subscription")
	}

	if err := e.SelectRoom(context.Background(), "B"); err != nil {
		t.Fatalf("SelectRoom B: %v", err)
	}
	if push.handler("room:A") != nil {
		t.Fatal("expected previous room subscription closed")
	}

	e.DeselectRoom()
	if push.handler("room:B") != nil || st.SelectedRoom() != "" {
		t.Fatal("expected deselect to tear everything down")
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{}
	api.fetchMessages = func(ctx context.Context, roomID string) (*model.MessagePage, error) {
		if roomID == "A" {
			close(started)
			<-release
		}
		return &model.MessagePage{Messages: []model.ChatMessage{serverMsg("m-"+roomID, roomID, "a1", 10)}}, nil
	}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10), testRoom("B", 5)})

	done := make(chan error, 1)
	go func() { done <- e.SelectRoom(context.Background(), "A") }()
	<-started

	if err := e.SelectRoom(context.Background(), "B"); err != nil {
		t.Fatalf("SelectRoom B: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale SelectRoom should not fail, got %v", err)
	}

	if n := len(st.Messages("A")); n != 0 {
		t.Fatalf("expected stale page discarded, got %d messages", n)
	}
	if n := len(st.Messages("B")); n != 1 {
		t.Fatalf("expected B loaded, got %d messages", n)
	}
	if st.SelectedRoom() != "B" {
		t.Fatalf("expected B selected, got %q", st.SelectedRoom())
	}
}

func TestPushAfterDeselectIsIgnored(t *testing.T) {
	push := newFakePush()
	e, st := newTestEngine(t, &fakeAPI{}, push)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	h := push.handler("room:A")
	e.DeselectRoom()

	m := serverMsg("late", "A", "a1", 50)
	h(&model.Event{Type: model.EventMessageCreated, RoomID: "A", Message: &m})
	if n := len(st.Messages("A")); n != 0 {
		t.Fatalf("expected late event dropped, got %d messages", n)
	}
}

func TestPollRestoresAuthoritativeLog(t *testing.T) {
	api := &fakeAPI{}
	api.fetchMessages = func(ctx context.Context, roomID string) (*model.MessagePage, error) {
		return &model.MessagePage{Messages: []model.ChatMessage{serverMsg("m1", roomID, "a1", 10)}}, nil
	}
	e, st := newTestEngine(t, api, nil)
	e.cfg.MessagePollInterval = 10 * time.Millisecond
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	st.ReconcileMessage("A", serverMsg("m-ghost", "A", "a1", 50))

	eventually(t, func() bool {
		_, ok := st.Message("A", "m-ghost")
		return !ok
	}, "poll never removed the entry the server does not have")

	if n := len(st.Messages("A")); n != 1 {
		t.Fatalf("expected the fetched page only, got %d messages", n)
	}
	r, _ := st.Room("A")
	if !r.LastMessageTime.Equal(at(10)) {
		t.Fatalf("expected snapshot back at m1, got %v", r.LastMessageTime)
	}
}

func TestPollKeepsInFlightSend(t *testing.T) {
	api := &fakeAPI{}
	api.fetchMessages = func(ctx context.Context, roomID string) (*model.MessagePage, error) {
		return &model.MessagePage{Messages: []model.ChatMessage{serverMsg("m1", roomID, "a1", 10)}}, nil
	}
	e, st := newTestEngine(t, api, nil)
	e.cfg.MessagePollInterval = 10 * time.Millisecond
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}
	st.AddMessage("A", model.ChatMessage{LocalID: "local-x", RoomID: "A", SenderID: "u1", Content: "pending", Status: model.StatusSending, CreatedAt: at(20)})

	api.mu.Lock()
	api.fetchMessages = func(ctx context.Context, roomID string) (*model.MessagePage, error) {
		return &model.MessagePage{Messages: []model.ChatMessage{
			serverMsg("m1", roomID, "a1", 10),
			serverMsg("m2", roomID, "a1", 30),
		}}, nil
	}
	api.mu.Unlock()

	eventually(t, func() bool {
		_, ok := st.Message("A", "m2")
		return ok
	}, "poll never picked up m2")

	if _, ok := st.Message("A", "local-x"); !ok {
		t.Fatal("poll dropped the optimistic message")
	}
	if n := len(st.Messages("A")); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestSelectionWaitsForPageApply(t *testing.T) {
	e, st := newTestEngine(t, &fakeAPI{}, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10), testRoom("B", 5)})
	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom A: %v", err)
	}
	token := e.current.Load()

	applying := make(chan struct{})
	release := make(chan struct{})
	applied := make(chan bool, 1)
	go func() {
		applied <- e.applyCurrent(token, func() {
			close(applying)
			<-release
			st.SetMessages("A", []model.ChatMessage{serverMsg("m1", "A", "a1", 10)})
		})
	}()
	<-applying

	selected := make(chan struct{})
	go func() {
		_ = e.SelectRoom(context.Background(), "B")
		close(selected)
	}()

	select {
	case <-selected:
		t.Fatal("selection switched while a page was being applied")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if !<-applied {
		t.Fatal("expected the apply to run for the current session")
	}
	<-selected

	if e.applyCurrent(token, func() { t.Fatal("stale apply ran") }) {
		t.Fatal("expected the old session to be stale")
	}
	if st.SelectedRoom() != "B" {
		t.Fatalf("expected B selected, got %q", st.SelectedRoom())
	}
}

func TestTypingEvents(t *testing.T) {
	push := newFakePush()
	e, st := newTestEngine(t, &fakeAPI{}, push)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})

	e.HandleEvent(&model.Event{Type: model.EventTyping, RoomID: "A", Typing: &model.TypingEvent{UserID: "u1", IsTyping: true}})
	if got := st.TypingUsers("A"); len(got) != 0 {
		t.Fatalf("expected own typing ignored, got %v", got)
	}

	e.HandleEvent(&model.Event{Type: model.EventTyping, RoomID: "A", Typing: &model.TypingEvent{UserID: "a1", IsTyping: true}})
	if got := st.TypingUsers("A"); len(got) != 1 || got[0] != "a1" {
		t.Fatalf("expected a1 typing, got %v", got)
	}

	m := serverMsg("m1", "A", "a1", 20)
	e.HandleEvent(&model.Event{Type: model.EventMessageCreated, RoomID: "A", Message: &m})
	if got := st.TypingUsers("A"); len(got) != 0 {
		t.Fatalf("expected typing cleared by delivered message, got %v", got)
	}

	if err := e.SetTyping(context.Background(), "A", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if len(push.typing) != 1 || push.typing[0] != (typingCall{"A", "u1", true}) {
		t.Fatalf("unexpected publishes %+v", push.typing)
	}
}

func TestPresenceEvents(t *testing.T) {
	e, st := newTestEngine(t, &fakeAPI{}, nil)

	e.HandleEvent(&model.Event{Type: model.EventPresence, Presence: &model.PresenceEvent{UserID: "a1", IsOnline: true}})
	if !st.IsOnline("a1") {
		t.Fatal("expected a1 online")
	}
	e.HandleEvent(&model.Event{Type: model.EventPresence, Presence: &model.PresenceEvent{UserID: "a1", IsOnline: false}})
	if st.IsOnline("a1") {
		t.Fatal("expected a1 offline")
	}
}

func TestRoomUpdateMovesRoomToFront(t *testing.T) {
	e, st := newTestEngine(t, &fakeAPI{}, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10), testRoom("B", 20)})

	updated := testRoom("A", 30)
	updated.LastMessageContent = "new"
	e.HandleEvent(&model.Event{Type: model.EventRoomUpdated, RoomID: "A", Room: &updated})

	rooms := st.Rooms()
	if rooms[0].ID != "A" || rooms[1].ID != "B" {
		t.Fatalf("expected [A B], got [%s %s]", rooms[0].ID, rooms[1].ID)
	}

	// An update without newer activity keeps the rank.
	same := testRoom("B", 20)
	same.Title = "renamed"
	e.HandleEvent(&model.Event{Type: model.EventRoomUpdated, RoomID: "B", Room: &same})
	if st.Rooms()[0].ID != "A" {
		t.Fatal("expected A to stay first")
	}
}

func TestReadReceiptFromAgent(t *testing.T) {
	e, st := newTestEngine(t, &fakeAPI{}, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})
	st.AddMessage("A", serverMsg("m1", "A", "u1", 20))

	e.HandleEvent(&model.Event{Type: model.EventMessagesRead, RoomID: "A", Read: &model.ReadReceipt{ReaderID: "a1"}})

	m, _ := st.Message("A", "m1")
	if m.Status != model.StatusRead {
		t.Fatalf("expected READ, got %s", m.Status)
	}
	r, _ := st.Room("A")
	if r.UnreadCountAgent != 0 {
		t.Fatalf("expected agent unread 0, got %d", r.UnreadCountAgent)
	}
}

func TestMarkAsReadUpdatesLocallyAndRemotely(t *testing.T) {
	api := &fakeAPI{}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})
	st.AddMessage("A", serverMsg("m1", "A", "a1", 20))
	st.AddMessage("A", serverMsg("m2", "A", "a1", 30))

	n, err := e.MarkAsRead(context.Background(), "A", nil)
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if n != 2 || len(api.reads) != 1 {
		t.Fatalf("expected 2 local transitions and 1 remote call, got %d and %d", n, len(api.reads))
	}
	r, _ := st.Room("A")
	if r.UnreadCountUser != 0 {
		t.Fatalf("expected user unread 0, got %d", r.UnreadCountUser)
	}
}

func TestStartLoadsRoomsAndSubscribes(t *testing.T) {
	api := &fakeAPI{}
	api.fetchRooms = func(ctx context.Context) (*model.RoomPage, error) {
		return &model.RoomPage{Rooms: []model.ChatRoom{testRoom("A", 10), testRoom("B", 20)}}, nil
	}
	push := newFakePush()
	e, st := newTestEngine(t, api, push)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rooms := st.Rooms(); len(rooms) != 2 || rooms[0].ID != "B" {
		t.Fatalf("unexpected rooms %+v", rooms)
	}
	if push.handler("user:u1") == nil {
		t.Fatal("expected user subscription")
	}

	e.Stop()
	if push.handler("user:u1") != nil {
		t.Fatal("expected user subscription closed")
	}
}

func TestRefreshRoomsFailureSetsNotice(t *testing.T) {
	api := &fakeAPI{}
	api.fetchRooms = func(ctx context.Context) (*model.RoomPage, error) {
		return nil, &remote.APIError{StatusCode: http.StatusForbidden}
	}
	e, st := newTestEngine(t, api, nil)

	err := e.RefreshRooms(context.Background())
	if Classify(err) != KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if st.RoomsState().Error == "" || st.RoomsState().Loading {
		t.Fatalf("unexpected rooms state %+v", st.RoomsState())
	}
}

func TestResetClearsState(t *testing.T) {
	push := newFakePush()
	e, st := newTestEngine(t, &fakeAPI{}, push)
	st.SetChatRooms([]model.ChatRoom{testRoom("A", 10)})
	if err := e.SelectRoom(context.Background(), "A"); err != nil {
		t.Fatalf("SelectRoom: %v", err)
	}

	e.Reset()
	if len(st.Rooms()) != 0 || st.SelectedRoom() != "" || push.handler("room:A") != nil {
		t.Fatal("expected empty state after reset")
	}
}
