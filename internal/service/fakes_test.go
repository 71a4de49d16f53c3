package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/store"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
)

type fakeAPI struct {
	mu sync.Mutex

	fetchMessages func(ctx context.Context, roomID string) (*model.MessagePage, error)
	fetchRooms    func(ctx context.Context) (*model.RoomPage, error)
	sendMessage   func(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error)
	createRoom    func(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error)
	markRead      func(ctx context.Context, roomID string, ids []string) error

	sends   []model.SendMessageRequest
	creates []model.CreateRoomRequest
	reads   []string
}

func (f *fakeAPI) FetchMessages(ctx context.Context, roomID string, page, limit int) (*model.MessagePage, error) {
	f.mu.Lock()
	fn := f.fetchMessages
	f.mu.Unlock()
	if fn == nil {
		return &model.MessagePage{}, nil
	}
	return fn(ctx, roomID)
}

func (f *fakeAPI) FetchRooms(ctx context.Context, filter model.RoomFilter) (*model.RoomPage, error) {
	f.mu.Lock()
	fn := f.fetchRooms
	f.mu.Unlock()
	if fn == nil {
		return &model.RoomPage{}, nil
	}
	return fn(ctx)
}

func (f *fakeAPI) SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	f.mu.Unlock()
	if f.sendMessage == nil {
		return nil, fmt.Errorf("no send handler")
	}
	return f.sendMessage(ctx, req)
}

func (f *fakeAPI) CreateRoom(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	f.mu.Unlock()
	if f.createRoom == nil {
		return nil, fmt.Errorf("no create handler")
	}
	return f.createRoom(ctx, req)
}

func (f *fakeAPI) MarkRead(ctx context.Context, roomID string, ids []string) error {
	f.mu.Lock()
	f.reads = append(f.reads, roomID)
	f.mu.Unlock()
	if f.markRead == nil {
		return nil
	}
	return f.markRead(ctx, roomID, ids)
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type fakeSub struct {
	push *fakePush
	key  string
}

func (s *fakeSub) Unsubscribe() error {
	s.push.mu.Lock()
	defer s.push.mu.Unlock()
	delete(s.push.handlers, s.key)
	return nil
}

type typingCall struct {
	roomID, userID string
	typing         bool
}

type fakePush struct {
	mu       sync.Mutex
	handlers map[string]EventHandler
	typing   []typingCall
}

func newFakePush() *fakePush {
	return &fakePush{handlers: make(map[string]EventHandler)}
}

func (p *fakePush) SubscribeRoom(ctx context.Context, roomID string, h EventHandler) (Subscription, error) {
	return p.add("room:"+roomID, h), nil
}

func (p *fakePush) SubscribeUser(ctx context.Context, userID string, h EventHandler) (Subscription, error) {
	return p.add("user:"+userID, h), nil
}

func (p *fakePush) PublishTyping(ctx context.Context, roomID, userID string, typing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, typingCall{roomID, userID, typing})
	return nil
}

func (p *fakePush) add(key string, h EventHandler) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[key] = h
	return &fakeSub{push: p, key: key}
}

func (p *fakePush) handler(key string) EventHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers[key]
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func testRoom(id string, sec int) model.ChatRoom {
	ts := at(sec)
	return model.ChatRoom{
		ID:              id,
		RoomID:          id,
		RoomType:        model.RoomTypeListingInquiry,
		Status:          model.RoomStatusActive,
		ListingID:       "listing-" + id,
		UserID:          "u1",
		AgentID:         "a1",
		LastMessageTime: &ts,
		CreatedAt:       at(0),
		UpdatedAt:       ts,
	}
}

func serverMsg(id, roomID, sender string, sec int) model.ChatMessage {
	return model.ChatMessage{
		ID:          id,
		RoomID:      roomID,
		SenderID:    sender,
		MessageType: model.MessageTypeText,
		Content:     "content " + id,
		Status:      model.StatusSent,
		IsAgent:     sender == "a1",
		CreatedAt:   at(sec),
		UpdatedAt:   at(sec),
	}
}

func newTestEngine(t *testing.T, api *fakeAPI, push PushSource) (*Engine, *store.Store) {
	t.Helper()
	st := store.New()
	clock := at(100)
	n := 0
	e := NewEngine(api, push, st, Config{
		UserID:              "u1",
		Role:                model.RoleUser,
		MessagePollInterval: time.Hour,
		RoomPollInterval:    time.Hour,
	}, &logger.Logger{Logger: zaptest.NewLogger(t)},
		WithClock(func() time.Time { return clock }),
		WithLocalIDs(func() string {
			n++
			return fmt.Sprintf("local-%d", n)
		}),
	)
	t.Cleanup(e.Stop)
	return e, st
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
