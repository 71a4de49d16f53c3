package store

import (
	"sort"
	"time"
)

// expirySet is a set of ids whose members lapse unless re-affirmed. A zero
// expiry never lapses.
type expirySet struct {
	entries map[string]time.Time
}

func newExpirySet() *expirySet {
	return &expirySet{entries: make(map[string]time.Time)}
}

func (e *expirySet) add(id string, now time.Time, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	e.entries[id] = exp
}

func (e *expirySet) remove(id string) bool {
	if _, ok := e.entries[id]; !ok {
		return false
	}
	delete(e.entries, id)
	return true
}

// sweep drops lapsed entries and reports whether any were dropped.
func (e *expirySet) sweep(now time.Time) bool {
	swept := false
	for id, exp := range e.entries {
		if !exp.IsZero() && !now.Before(exp) {
			delete(e.entries, id)
			swept = true
		}
	}
	return swept
}

func (e *expirySet) members() []string {
	out := make([]string, 0, len(e.entries))
	for id := range e.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddOnlineUser marks a user online, or refreshes the mark.
func (s *Store) AddOnlineUser(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	s.online.add(userID, s.now(), s.presenceTTL)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePresence})
}

// RemoveOnlineUser marks a user offline.
func (s *Store) RemoveOnlineUser(userID string) {
	s.mu.Lock()
	removed := s.online.remove(userID)
	s.mu.Unlock()
	if removed {
		s.notify(Change{Kind: ChangePresence})
	}
}

// SetOnlineUsers replaces the presence set.
func (s *Store) SetOnlineUsers(userIDs []string) {
	s.mu.Lock()
	now := s.now()
	s.online = newExpirySet()
	for _, id := range userIDs {
		if id != "" {
			s.online.add(id, now, s.presenceTTL)
		}
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangePresence})
}

// OnlineUsers returns the users currently considered online, sorted.
func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online.sweep(s.now())
	return s.online.members()
}

// IsOnline reports whether a user is currently considered online.
func (s *Store) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online.sweep(s.now())
	_, ok := s.online.entries[userID]
	return ok
}

// AddTypingUser marks a user as typing in a room, or refreshes the mark.
func (s *Store) AddTypingUser(roomID, userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	key := s.logKey(roomID)
	set, ok := s.typing[key]
	if !ok {
		set = newExpirySet()
		s.typing[key] = set
	}
	set.add(userID, s.now(), s.typingTTL)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeTyping, RoomID: key})
}

// RemoveTypingUser clears a user's typing mark in a room.
func (s *Store) RemoveTypingUser(roomID, userID string) {
	s.mu.Lock()
	key := s.logKey(roomID)
	removed := false
	if set, ok := s.typing[key]; ok {
		removed = set.remove(userID)
		if len(set.entries) == 0 {
			delete(s.typing, key)
		}
	}
	s.mu.Unlock()
	if removed {
		s.notify(Change{Kind: ChangeTyping, RoomID: key})
	}
}

// ClearTypingUsers clears every typing mark in a room.
func (s *Store) ClearTypingUsers(roomID string) {
	s.mu.Lock()
	key := s.logKey(roomID)
	_, had := s.typing[key]
	delete(s.typing, key)
	s.mu.Unlock()
	if had {
		s.notify(Change{Kind: ChangeTyping, RoomID: key})
	}
}

// TypingUsers returns the users currently typing in a room, sorted.
func (s *Store) TypingUsers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.logKey(roomID)
	set, ok := s.typing[key]
	if !ok {
		return []string{}
	}
	set.sweep(s.now())
	if len(set.entries) == 0 {
		delete(s.typing, key)
		return []string{}
	}
	return set.members()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
