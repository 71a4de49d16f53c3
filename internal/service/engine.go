package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/store"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
	"github.com/sherzod992/Ta-Go-sub000/pkg/metrics"
)

// LocalIDPrefix marks temporary ids of messages not yet acknowledged.
const LocalIDPrefix = "local-"

// Config tunes an Engine.
type Config struct {
	UserID              string
	Role                model.Role
	MessagePageSize     int
	RoomPageSize        int
	MessagePollInterval time.Duration
	RoomPollInterval    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for optimistic message timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocalIDs replaces the temporary id generator.
func WithLocalIDs(next func() string) Option {
	return func(e *Engine) { e.newLocalID = next }
}

// Engine keeps the store in sync with the remote API and the push channel.
type Engine struct {
	api    API
	push   PushSource
	store  *store.Store
	logger *logger.Logger
	tracer trace.Tracer
	cfg    Config

	now        func() time.Time
	newLocalID func() string

	mu       sync.Mutex
	base     context.Context
	stopBase context.CancelFunc
	session  *roomSession
	userSub  Subscription
	roomPoll *poller

	// current is the token of the active room session; 0 means none.
	current   atomic.Uint64
	nextToken atomic.Uint64
	// roomsGen changes on Reset so in-flight room list fetches are dropped.
	roomsGen atomic.Uint64
}

// roomSession is everything scoped to the selected room.
type roomSession struct {
	token  uint64
	roomID string
	cancel context.CancelFunc
	sub    Subscription
	poll   *poller
}

// NewEngine creates an engine. push may be nil, in which case the engine
// relies on polling alone.
func NewEngine(api API, push PushSource, st *store.Store, cfg Config, log *logger.Logger, opts ...Option) *Engine {
	if cfg.Role == "" {
		cfg.Role = model.RoleUser
	}
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = 50
	}
	if cfg.RoomPageSize <= 0 {
		cfg.RoomPageSize = 100
	}
	if cfg.MessagePollInterval <= 0 {
		cfg.MessagePollInterval = 3 * time.Second
	}
	if cfg.RoomPollInterval <= 0 {
		cfg.RoomPollInterval = 30 * time.Second
	}

	e := &Engine{
		api:    api,
		push:   push,
		store:  st,
		logger: log.With(zap.String("user_id", cfg.UserID)),
		tracer: otel.Tracer("github.com/sherzod992/Ta-Go-sub000/internal/service"),
		cfg:    cfg,
		now:    time.Now,
		newLocalID: func() string {
			return LocalIDPrefix + ulid.Make().String()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the state container the engine writes to.
func (e *Engine) Store() *store.Store {
	return e.store
}

// UserID returns the participant the engine acts for.
func (e *Engine) UserID() string {
	return e.cfg.UserID
}

// Start loads the room list, subscribes to the user's push channel and starts
// the room list poll. A failed initial load is returned but the poll keeps
// retrying. Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopBase != nil {
		e.mu.Unlock()
		return nil
	}
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.base, e.stopBase = base, cancel
	e.mu.Unlock()

	loadErr := e.RefreshRooms(ctx)
	if loadErr != nil {
		e.logger.Warn("initial room list fetch failed", zap.Error(loadErr))
	}

	var sub Subscription
	if e.push != nil {
		var err error
		sub, err = e.push.SubscribeUser(base, e.cfg.UserID, e.HandleEvent)
		if err != nil {
			e.logger.Warn("user subscription failed, relying on poll", zap.Error(err))
			sub = nil
		}
	}

	poll := startPoller(base, e.cfg.RoomPollInterval, func(ctx context.Context) {
		metrics.PollCyclesTotal.WithLabelValues("rooms").Inc()
		if err := e.RefreshRooms(ctx); err != nil && ctx.Err() == nil {
			e.logger.Debug("room poll failed", zap.Error(err))
		}
	})

	e.mu.Lock()
	if e.base != base {
		// Stopped while starting.
		e.mu.Unlock()
		poll.stop()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return loadErr
	}
	e.userSub = sub
	e.roomPoll = poll
	e.mu.Unlock()

	e.logger.Info("chat engine started")
	return loadErr
}

// Stop tears down the room session, the user subscription and the room poll.
func (e *Engine) Stop() {
	e.DeselectRoom()

	e.mu.Lock()
	cancel := e.stopBase
	sub := e.userSub
	poll := e.roomPoll
	e.base, e.stopBase, e.userSub, e.roomPoll = nil, nil, nil, nil
	e.mu.Unlock()

	poll.stop()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Warn("failed to close user subscription", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
		e.logger.Info("chat engine stopped")
	}
}

// Reset stops the engine and empties the store. Start may be called again.
func (e *Engine) Reset() {
	e.Stop()
	e.roomsGen.Add(1)
	e.store.Reset()
}

// SelectRoom makes roomID the active room: the previous room's subscription
// and poll are torn down, page one of the history is loaded and a push
// subscription plus a message poll are opened for the new room. If the load
// fails the session stays open and the poll keeps retrying.
func (e *Engine) SelectRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return newError("select room", ErrInvalidRoom)
	}

	token := e.nextToken.Add(1)
	sessCtx, cancel := context.WithCancel(e.baseContext())

	e.mu.Lock()
	e.store.SetSelectedRoom(roomID)
	sess := &roomSession{token: token, roomID: e.store.SelectedRoom(), cancel: cancel}
	old := e.session
	e.session = sess
	e.current.Store(token)
	e.mu.Unlock()

	e.teardown(old)
	log := e.logger.WithRoom(sess.roomID)

	var sub Subscription
	if e.push != nil {
		var err error
		sub, err = e.push.SubscribeRoom(sessCtx, sess.roomID, e.sessionHandler(token))
		if err != nil {
			log.Warn("room subscription failed, relying on poll", zap.Error(err))
			sub = nil
		}
	}
	poll := startPoller(sessCtx, e.cfg.MessagePollInterval, func(ctx context.Context) {
		metrics.PollCyclesTotal.WithLabelValues("messages").Inc()
		e.pollMessages(ctx, sess)
	})

	e.mu.Lock()
	if e.session != sess {
		// Another selection won the race; this session is already torn down.
		e.mu.Unlock()
		poll.stop()
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return nil
	}
	sess.sub, sess.poll = sub, poll
	if sub != nil {
		metrics.RoomSubscriptionsActive.Inc()
	}
	e.mu.Unlock()

	log.Debug("room selected")
	return e.loadMessages(ctx, sess)
}

// DeselectRoom closes the active room session and clears the selection.
func (e *Engine) DeselectRoom() {
	e.mu.Lock()
	old := e.session
	e.session = nil
	e.current.Store(0)
	e.store.ClearSelectedRoom()
	e.mu.Unlock()

	e.teardown(old)
}

func (e *Engine) teardown(s *roomSession) {
	if s == nil {
		return
	}
	s.cancel()

	e.mu.Lock()
	sub, poll := s.sub, s.poll
	s.sub, s.poll = nil, nil
	e.mu.Unlock()

	if sub != nil {
		metrics.RoomSubscriptionsActive.Dec()
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Warn("failed to close room subscription", zap.String("room_id", s.roomID), zap.Error(err))
		}
	}
	poll.stop()
	e.store.ClearTypingUsers(s.roomID)
}

func (e *Engine) baseContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base != nil {
		return e.base
	}
	return context.Background()
}

func (e *Engine) stale(token uint64) bool {
	return e.current.Load() != token
}

// sessionHandler drops events that arrive after their session ended.
func (e *Engine) sessionHandler(token uint64) EventHandler {
	return func(ev *model.Event) {
		if e.stale(token) {
			metrics.StaleResponsesTotal.WithLabelValues("push").Inc()
			return
		}
		e.HandleEvent(ev)
	}
}

func (e *Engine) loadMessages(ctx context.Context, sess *roomSession) error {
	e.store.SetMessagesLoading(sess.roomID, true)
	page, err := e.fetchMessages(ctx, sess.roomID)
	e.store.SetMessagesLoading(sess.roomID, false)

	var se *Error
	applied := e.applyCurrent(sess.token, func() {
		if err != nil {
			se = newError("fetch messages", err)
			e.store.SetMessagesError(sess.roomID, notice(se.Kind))
			return
		}
		e.store.SetMessagesError(sess.roomID, "")
		e.store.ReplaceMessages(sess.roomID, page.Messages)
	})
	if !applied {
		metrics.StaleResponsesTotal.WithLabelValues("fetch").Inc()
		e.logger.Debug("discarding stale message page", zap.String("room_id", sess.roomID))
		return nil
	}
	if se != nil {
		return se
	}
	return nil
}

// pollMessages replaces the log with the latest page. Sends still in flight
// keep their optimistic entries.
func (e *Engine) pollMessages(ctx context.Context, sess *roomSession) {
	page, err := e.fetchMessages(ctx, sess.roomID)
	if err != nil && ctx.Err() != nil {
		return
	}
	applied := e.applyCurrent(sess.token, func() {
		if err != nil {
			e.store.SetMessagesError(sess.roomID, notice(Classify(err)))
			return
		}
		if e.store.MessagesState(sess.roomID).Error != "" {
			e.store.SetMessagesError(sess.roomID, "")
		}
		e.store.ReplaceMessages(sess.roomID, page.Messages)
	})
	if !applied {
		metrics.StaleResponsesTotal.WithLabelValues("poll").Inc()
		return
	}
	if err != nil {
		e.logger.Debug("message poll failed", zap.String("room_id", sess.roomID), zap.String("kind", string(Classify(err))), zap.Error(err))
	}
}

// applyCurrent runs fn only while token is the active session. Selection
// changes wait for fn to finish.
func (e *Engine) applyCurrent(token uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale(token) {
		return false
	}
	fn()
	return true
}

func (e *Engine) fetchMessages(ctx context.Context, roomID string) (*model.MessagePage, error) {
	var page *model.MessagePage
	err := e.traced(ctx, "fetch_messages", roomID, func(ctx context.Context) error {
		var err error
		page, err = e.api.FetchMessages(ctx, roomID, 1, e.cfg.MessagePageSize)
		if err == nil && page == nil {
			page = &model.MessagePage{}
		}
		return err
	})
	return page, err
}

// RefreshRooms replaces the room list with the remote one.
func (e *Engine) RefreshRooms(ctx context.Context) error {
	gen := e.roomsGen.Load()
	e.store.SetRoomsLoading(true)

	var page *model.RoomPage
	err := e.traced(ctx, "fetch_rooms", "", func(ctx context.Context) error {
		var err error
		page, err = e.api.FetchRooms(ctx, model.RoomFilter{Page: 1, Limit: e.cfg.RoomPageSize})
		if err == nil && page == nil {
			page = &model.RoomPage{}
		}
		return err
	})

	if e.roomsGen.Load() != gen {
		metrics.StaleResponsesTotal.WithLabelValues("rooms").Inc()
		return nil
	}
	e.store.SetRoomsLoading(false)
	if err != nil {
		se := newError("refresh rooms", err)
		e.store.SetRoomsError(notice(se.Kind))
		return se
	}
	e.store.SetRoomsError("")
	e.store.SetChatRooms(page.Rooms)
	return nil
}

// SendMessage sends content to a room. The message shows up immediately as
// SENDING under a temporary id and is resolved against the server record when
// the write returns; on failure it is removed again, the room is restored and
// the room's error notice is set.
func (e *Engine) SendMessage(ctx context.Context, roomID, content string, msgType model.MessageType) (*model.ChatMessage, error) {
	const op = "send message"
	if roomID == "" {
		return nil, newError(op, ErrInvalidRoom)
	}
	if err := ValidateContent(content); err != nil {
		return nil, newError(op, err)
	}
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	key := e.roomKey(roomID)

	now := e.now()
	localID := e.newLocalID()
	e.store.AddMessage(key, model.ChatMessage{
		LocalID:     localID,
		RoomID:      key,
		SenderID:    e.cfg.UserID,
		MessageType: msgType,
		Content:     content,
		Status:      model.StatusSending,
		IsAgent:     e.cfg.Role == model.RoleAgent,
		IsSystem:    msgType == model.MessageTypeSystem,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	e.store.SetMessagesError(key, "")

	var auth *model.ChatMessage
	err := e.traced(ctx, "send_message", key, func(ctx context.Context) error {
		var err error
		auth, err = e.api.SendMessage(ctx, model.SendMessageRequest{
			RoomID:      key,
			Content:     content,
			MessageType: msgType,
			LocalID:     localID,
		})
		if err == nil && auth == nil {
			err = errors.New("empty send response")
		}
		return err
	})
	if err != nil {
		e.store.DeleteMessage(key, localID)
		se := newError(op, err)
		e.store.SetMessagesError(key, notice(se.Kind))
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn("message send failed",
			zap.String("room_id", key),
			zap.String("local_id", localID),
			zap.String("kind", string(se.Kind)),
			zap.Error(err),
		)
		return nil, se
	}

	if auth.RoomID == "" {
		auth.RoomID = key
	}
	confirmed := e.store.ConfirmMessage(key, localID, *auth)
	metrics.SendsTotal.WithLabelValues("sent").Inc()
	return &confirmed, nil
}

// MarkAsRead marks messages read locally, then tells the server. With no ids
// everything addressed to the local user is marked. It returns how many
// messages changed state locally.
func (e *Engine) MarkAsRead(ctx context.Context, roomID string, messageIDs []string) (int, error) {
	const op = "mark read"
	if roomID == "" {
		return 0, newError(op, ErrInvalidRoom)
	}
	key := e.roomKey(roomID)
	n := e.store.MarkAsRead(key, e.cfg.Role, messageIDs)

	err := e.traced(ctx, "mark_read", key, func(ctx context.Context) error {
		return e.api.MarkRead(ctx, key, messageIDs)
	})
	if err != nil {
		return n, newError(op, err)
	}
	return n, nil
}

// SetTyping announces the local user's typing state in a room.
func (e *Engine) SetTyping(ctx context.Context, roomID string, typing bool) error {
	if roomID == "" {
		return newError("set typing", ErrInvalidRoom)
	}
	if e.push == nil {
		return nil
	}
	if err := e.push.PublishTyping(ctx, e.roomKey(roomID), e.cfg.UserID, typing); err != nil {
		return newError("set typing", err)
	}
	return nil
}

// HandleEvent applies one push event to the store.
func (e *Engine) HandleEvent(ev *model.Event) {
	if ev == nil {
		return
	}
	metrics.PushEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case model.EventMessageCreated:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		outcome := e.store.ReconcileMessage(m.RoomID, m)
		metrics.ReconcileOutcomes.WithLabelValues(string(outcome)).Inc()
		if m.SenderID != "" && m.SenderID != e.cfg.UserID {
			// A delivered message ends that sender's typing indicator.
			e.store.RemoveTypingUser(m.RoomID, m.SenderID)
		}

	case model.EventMessageUpdated:
		if ev.Update == nil || ev.Update.MessageID == "" {
			return
		}
		if !e.store.UpdateMessage(ev.RoomID, ev.Update.MessageID, ev.Update.Patch) {
			e.logger.Debug("update for unknown message",
				zap.String("room_id", ev.RoomID),
				zap.String("message_id", ev.Update.MessageID),
			)
		}

	case model.EventMessagesRead:
		if ev.Read == nil {
			return
		}
		role := ev.Read.ReaderRole
		if !role.Valid() {
			role = model.RoleUser
			if room, ok := e.store.Room(ev.RoomID); ok {
				role = room.SenderRole(ev.Read.ReaderID, false)
			}
		}
		e.store.MarkAsRead(ev.RoomID, role, ev.Read.MessageIDs)

	case model.EventRoomUpdated:
		if ev.Room == nil || ev.Room.Key() == "" {
			return
		}
		e.applyRoomUpdate(*ev.Room)

	case model.EventTyping:
		t := ev.Typing
		if t == nil || t.UserID == "" || t.UserID == e.cfg.UserID {
			return
		}
		if t.IsTyping {
			e.store.AddTypingUser(ev.RoomID, t.UserID)
		} else {
			e.store.RemoveTypingUser(ev.RoomID, t.UserID)
		}

	case model.EventPresence:
		p := ev.Presence
		if p == nil || p.UserID == "" {
			return
		}
		if p.IsOnline {
			e.store.AddOnlineUser(p.UserID)
		} else {
			e.store.RemoveOnlineUser(p.UserID)
		}

	default:
		e.logger.Debug("ignoring push event", zap.String("type", string(ev.Type)))
	}
}

func (e *Engine) applyRoomUpdate(room model.ChatRoom) {
	prev, had := e.store.Room(room.Key())
	e.store.AddChatRoom(room)
	if had && room.ActivityTime().After(prev.ActivityTime()) {
		e.store.MoveRoomToFront(room.Key())
	}
}

// roomKey resolves a record id to the channel key when the room is known.
func (e *Engine) roomKey(roomID string) string {
	if room, ok := e.store.Room(roomID); ok {
		return room.Key()
	}
	return roomID
}

func (e *Engine) traced(ctx context.Context, op, roomID string, fn func(context.Context) error) error {
	var attrs []attribute.KeyValue
	if roomID != "" {
		attrs = append(attrs, attribute.String("chat.room_id", roomID))
	}
	ctx, span := e.tracer.Start(ctx, "chat."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordFetch(op, err, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
