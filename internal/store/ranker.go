package store

import (
	"slices"
	"sort"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// AddChatRoom upserts a room. A known room is replaced where it stands; a new
// one goes to the front of the list.
func (s *Store) AddChatRoom(room model.ChatRoom) {
	s.mu.Lock()
	clampUnread(&room)
	syncSnapshot(&room, s.messages[room.Key()])
	if i := s.roomIndexOf(room); i >= 0 {
		s.rooms[i] = room
	} else {
		s.rooms = slices.Insert(s.rooms, 0, room)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms, RoomID: room.Key()})
}

// UpdateChatRoom merges patch into the room named by id.
func (s *Store) UpdateChatRoom(id string, patch model.RoomPatch) bool {
	s.mu.Lock()
	i := s.roomIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	patch.Apply(&s.rooms[i])
	key := s.rooms[i].Key()
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms, RoomID: key})
	return true
}

// RemoveChatRoom drops a room together with its log, typing set and flags.
// The selection is cleared if it pointed at the room.
func (s *Store) RemoveChatRoom(id string) bool {
	s.mu.Lock()
	i := s.roomIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	key := s.rooms[i].Key()
	recordID := s.rooms[i].ID
	s.rooms = slices.Delete(s.rooms, i, i+1)
	delete(s.messages, key)
	delete(s.typing, key)
	delete(s.messagesState, key)
	for localID, p := range s.pending {
		if p.roomKey == key {
			delete(s.pending, localID)
		}
	}
	deselected := s.selected != "" && (s.selected == key || s.selected == recordID)
	if deselected {
		s.selected = ""
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRooms, RoomID: key})
	if deselected {
		s.notify(Change{Kind: ChangeSelection})
	}
	return true
}

// SetChatRooms replaces the room list, ranked by most recent activity.
func (s *Store) SetChatRooms(list []model.ChatRoom) {
	rooms := make([]model.ChatRoom, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, r := range list {
		if seen[r.ID] && r.ID != "" {
			continue
		}
		seen[r.ID] = true
		clampUnread(&r)
		rooms = append(rooms, r)
	}
	rankRooms(rooms)

	s.mu.Lock()
	s.rooms = rooms
	for i := range s.rooms {
		// Rooms keep reflecting messages already present locally.
		syncSnapshot(&s.rooms[i], s.messages[s.rooms[i].Key()])
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms})
}

// ClearChatRooms empties the room list.
func (s *Store) ClearChatRooms() {
	s.mu.Lock()
	s.rooms = nil
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRooms})
}

// MoveRoomToFront promotes a room without touching the order of the rest.
func (s *Store) MoveRoomToFront(id string) bool {
	s.mu.Lock()
	i := s.roomIndex(id)
	if i >= 0 {
		s.moveToFrontLocked(i)
	}
	s.mu.Unlock()
	if i >= 0 {
		s.notify(Change{Kind: ChangeRooms, RoomID: id})
	}
	return i >= 0
}

// MarkAsRead marks messages addressed to reader as READ and takes them off
// the reader's unread counter, which never drops below zero. With no ids every
// message addressed to the reader is marked and the counter is zeroed. It
// returns the number of messages that changed state.
func (s *Store) MarkAsRead(roomID string, reader model.Role, messageIDs []string) int {
	s.mu.Lock()
	key := s.logKey(roomID)
	ri := s.roomIndex(key)
	log := s.messages[key]

	var wanted map[string]bool
	if len(messageIDs) > 0 {
		wanted = make(map[string]bool, len(messageIDs))
		for _, id := range messageIDs {
			wanted[id] = true
		}
	}

	transitioned := 0
	for i := range log {
		m := &log[i]
		if m.Status == model.StatusRead {
			continue
		}
		if wanted != nil && !wanted[m.ID] && !wanted[m.LocalID] {
			continue
		}
		if wanted == nil && ri >= 0 && s.rooms[ri].SenderRole(m.SenderID, m.IsAgent) == reader {
			continue
		}
		if m.IsOptimistic() || m.Status == model.StatusFailed {
			continue
		}
		m.Status = model.StatusRead
		transitioned++
	}

	if ri >= 0 {
		room := &s.rooms[ri]
		if wanted == nil {
			room.AddUnread(reader, -room.Unread(reader))
		} else {
			room.AddUnread(reader, -transitioned)
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessages, RoomID: key})
	s.notify(Change{Kind: ChangeRooms, RoomID: key})
	return transitioned
}

// Rooms returns the ranked room list.
func (s *Store) Rooms() []model.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRooms(s.rooms)
}

// Room returns one room by record id or channel key.
func (s *Store) Room(id string) (model.ChatRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.roomIndex(id); i >= 0 {
		return cloneRoom(s.rooms[i]), true
	}
	return model.ChatRoom{}, false
}

// FindRooms returns every room match accepts, in rank order.
func (s *Store) FindRooms(match func(*model.ChatRoom) bool) []model.ChatRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatRoom
	for i := range s.rooms {
		if match(&s.rooms[i]) {
			out = append(out, cloneRoom(s.rooms[i]))
		}
	}
	return out
}

func (s *Store) roomIndex(id string) int {
	for i := range s.rooms {
		if s.rooms[i].Matches(id) {
			return i
		}
	}
	return -1
}

func (s *Store) roomIndexOf(room model.ChatRoom) int {
	if i := s.roomIndex(room.ID); i >= 0 {
		return i
	}
	return s.roomIndex(room.RoomID)
}

func (s *Store) moveToFrontLocked(i int) {
	s.moveToIndexLocked(i, 0)
}

func (s *Store) moveToIndexLocked(from, to int) {
	if from == to || from < 0 || from >= len(s.rooms) {
		return
	}
	room := s.rooms[from]
	s.rooms = slices.Delete(s.rooms, from, from+1)
	s.rooms = slices.Insert(s.rooms, to, room)
}

func rankRooms(rooms []model.ChatRoom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].ActivityTime().After(rooms[j].ActivityTime())
	})
}

func clampUnread(r *model.ChatRoom) {
	r.UnreadCountUser = max(r.UnreadCountUser, 0)
	r.UnreadCountAgent = max(r.UnreadCountAgent, 0)
}

func cloneRooms(rooms []model.ChatRoom) []model.ChatRoom {
	out := make([]model.ChatRoom, len(rooms))
	for i, r := range rooms {
		out[i] = cloneRoom(r)
	}
	return out
}

func cloneRoom(r model.ChatRoom) model.ChatRoom {
	r.LastMessageTime = cloneTime(r.LastMessageTime)
	return r
}
