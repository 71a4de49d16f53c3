// Package store holds the in-memory chat state: room logs, the ranked room list,
// presence and typing sets, and per-room loading/error flags.
//
// Every exported operation takes the store mutex for its whole duration, so each
// one runs to completion before another starts no matter which goroutine (push
// callback, poller, HTTP handler) invoked it. Operations never fail; lookups
// that miss are reported through boolean results.
package store

import (
	"sync"
	"time"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// ChangeKind tells subscribers which part of the state moved.
type ChangeKind string

const (
	ChangeMessages  ChangeKind = "messages"
	ChangeRooms     ChangeKind = "rooms"
	ChangeSelection ChangeKind = "selection"
	ChangePresence  ChangeKind = "presence"
	ChangeTyping    ChangeKind = "typing"
	ChangeStatus    ChangeKind = "status"
	ChangeReset     ChangeKind = "reset"
)

// Change is a notification that state changed. Consumers re-read the store.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	RoomID string     `json:"roomId,omitempty"`
}

// LoadState is the loading flag and last error of a fetch target.
type LoadState struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// pendingSend remembers what an optimistic AddMessage changed so a failed
// send can put the room back exactly as it was.
type pendingSend struct {
	roomKey     string
	role        model.Role
	counted     bool
	hadRoom     bool
	prevIndex   int
	prevContent string
	prevSender  string
	prevTime    *time.Time
}

// Store is the chat state container.
type Store struct {
	mu sync.Mutex

	now         func() time.Time
	presenceTTL time.Duration
	typingTTL   time.Duration

	messages map[string][]model.ChatMessage
	rooms    []model.ChatRoom
	selected string
	pending  map[string]pendingSend

	online *expirySet
	typing map[string]*expirySet

	messagesState map[string]LoadState
	roomsState    LoadState

	subsMu  sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPresenceTTL sets how long an online mark lives without re-affirmation.
// Zero keeps entries until an explicit offline event.
func WithPresenceTTL(ttl time.Duration) Option {
	return func(s *Store) { s.presenceTTL = ttl }
}

// WithTypingTTL sets how long a typing mark lives without re-affirmation.
func WithTypingTTL(ttl time.Duration) Option {
	return func(s *Store) { s.typingTTL = ttl }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.init()
	return s
}

func (s *Store) init() {
	s.messages = make(map[string][]model.ChatMessage)
	s.rooms = nil
	s.selected = ""
	s.pending = make(map[string]pendingSend)
	s.online = newExpirySet()
	s.typing = make(map[string]*expirySet)
	s.messagesState = make(map[string]LoadState)
	s.roomsState = LoadState{}
}

// Reset restores the empty initial state. Subscribers stay attached.
func (s *Store) Reset() {
	s.mu.Lock()
	s.init()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeReset})
}

// Subscribe registers for change notifications. Delivery never blocks the
// store: when the buffer is full the notice is dropped, and the consumer is
// expected to re-read state on the next one it does get.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) notify(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// SetSelectedRoom marks roomID as the active room. An empty id clears it.
func (s *Store) SetSelectedRoom(roomID string) {
	s.mu.Lock()
	if roomID != "" {
		roomID = s.logKey(roomID)
	}
	changed := s.selected != roomID
	s.selected = roomID
	s.mu.Unlock()
	if changed {
		s.notify(Change{Kind: ChangeSelection, RoomID: roomID})
	}
}

// ClearSelectedRoom deselects the active room.
func (s *Store) ClearSelectedRoom() {
	s.SetSelectedRoom("")
}

// SelectedRoom returns the active room key, or "" when none is selected.
func (s *Store) SelectedRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetMessagesLoading sets the loading flag for a room's messages.
func (s *Store) SetMessagesLoading(roomID string, loading bool) {
	s.mu.Lock()
	key := s.logKey(roomID)
	st := s.messagesState[key]
	st.Loading = loading
	s.messagesState[key] = st
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeStatus, RoomID: key})
}

// SetMessagesError records the last fetch/send error of a room. An empty
// message clears it.
func (s *Store) SetMessagesError(roomID, message string) {
	s.mu.Lock()
	key := s.logKey(roomID)
	st := s.messagesState[key]
	st.Error = message
	s.messagesState[key] = st
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeStatus, RoomID: key})
}

// MessagesState returns the loading flag and error of a room's messages.
func (s *Store) MessagesState(roomID string) LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesState[s.logKey(roomID)]
}

// SetRoomsLoading sets the room list loading flag.
func (s *Store) SetRoomsLoading(loading bool) {
	s.mu.Lock()
	s.roomsState.Loading = loading
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeStatus})
}

// SetRoomsError records the room list error. An empty message clears it.
func (s *Store) SetRoomsError(message string) {
	s.mu.Lock()
	s.roomsState.Error = message
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeStatus})
}

// RoomsState returns the room list loading flag and error.
func (s *Store) RoomsState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsState
}

// logKey resolves a room record id or channel key to the key its log lives
// under. Unknown ids are used as given.
func (s *Store) logKey(roomID string) string {
	if i := s.roomIndex(roomID); i >= 0 {
		return s.rooms[i].Key()
	}
	return roomID
}
