package store

import (
	"slices"
	"sort"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// Outcome is what ReconcileMessage did with an incoming record.
type Outcome string

const (
	// OutcomeInserted means the message was new and was appended.
	OutcomeInserted Outcome = "inserted"
	// OutcomeConfirmed means the record was the echo of an optimistic message.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeMerged means the message existed and newer fields were merged.
	OutcomeMerged Outcome = "merged"
	// OutcomeDuplicate means the message existed and nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

// SetMessages replaces a room's log with an authoritative list. Optimistic
// entries are dropped from the log; their sends can still be confirmed or
// rolled back.
func (s *Store) SetMessages(roomID string, list []model.ChatMessage) {
	s.mu.Lock()
	key := s.logKey(roomID)
	s.replaceLocked(key, list, false)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
}

// ReplaceMessages is SetMessages for refreshes that race local sends: the
// log becomes the authoritative list plus the optimistic entries whose sends
// are still in flight and not yet part of the list.
func (s *Store) ReplaceMessages(roomID string, list []model.ChatMessage) {
	s.mu.Lock()
	key := s.logKey(roomID)
	s.replaceLocked(key, list, true)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
}

// AddMessage appends msg to a room's log, refreshes the room's last-message
// snapshot, counts it as unread for the recipient and moves the room to the
// front of the list. It does not deduplicate; use ReconcileMessage for
// records that may already be present.
func (s *Store) AddMessage(roomID string, msg model.ChatMessage) {
	s.mu.Lock()
	key := s.logKey(roomID)
	s.insertLocked(key, msg, true)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
	s.notify(Change{Kind: ChangeRooms, RoomID: key})
}

// UpdateMessage merges patch into the message named by messageID, which may
// be its authoritative id or its local id. A transition to READ decrements
// the recipient's unread counter. If the patch assigns an authoritative id
// that another entry already carries, the two are collapsed into one.
func (s *Store) UpdateMessage(roomID, messageID string, patch model.MessagePatch) bool {
	s.mu.Lock()
	key := s.logKey(roomID)
	ok := s.updateLocked(key, messageID, patch)
	s.mu.Unlock()
	if ok {
		s.notify(Change{Kind: ChangeMessages, RoomID: key})
	}
	return ok
}

// DeleteMessage removes a message by authoritative or local id. Removing an
// unconfirmed optimistic message also undoes what its AddMessage did to the
// room: snapshot, unread counter and rank.
func (s *Store) DeleteMessage(roomID, messageID string) bool {
	s.mu.Lock()
	key := s.logKey(roomID)
	log := s.messages[key]
	i := indexOf(log, messageID)
	if i < 0 {
		// The entry may have been replaced away while its send was in flight.
		p, ok := s.pending[messageID]
		if !ok || p.roomKey != key {
			s.mu.Unlock()
			return false
		}
		delete(s.pending, messageID)
		s.rollbackLocked(key, p)
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeRooms, RoomID: key})
		return true
	}
	removed := log[i]
	log = slices.Delete(log, i, i+1)
	s.messages[key] = log

	if p, ok := s.pending[removed.LocalID]; ok && removed.IsOptimistic() {
		delete(s.pending, removed.LocalID)
		s.rollbackLocked(key, p)
	} else if ri := s.roomIndex(key); ri >= 0 {
		resnapshot(&s.rooms[ri], log, removed)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
	s.notify(Change{Kind: ChangeRooms, RoomID: key})
	return true
}

// ClearMessages drops a room's log.
func (s *Store) ClearMessages(roomID string) {
	s.mu.Lock()
	key := s.logKey(roomID)
	delete(s.messages, key)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
}

// ConfirmMessage resolves the optimistic message localID with the
// authoritative record returned by the remote write. Exactly one entry for
// the message remains whatever order the acknowledgement and the pushed echo
// arrived in.
func (s *Store) ConfirmMessage(roomID, localID string, authoritative model.ChatMessage) model.ChatMessage {
	s.mu.Lock()
	key := s.logKey(roomID)
	if authoritative.LocalID == "" {
		authoritative.LocalID = localID
	}
	if authoritative.ID == "" {
		// Nothing to key the record by; settle for marking the entry sent.
		s.updateLocked(key, localID, model.StatusPatch(model.StatusSent))
		delete(s.pending, localID)
		log := s.messages[key]
		out := authoritative
		if at := indexOf(log, localID); at >= 0 {
			out = log[at]
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeMessages, RoomID: key})
		return out
	}
	out := s.confirmLocked(key, localID, authoritative)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, RoomID: key})
	return out
}

// ReconcileMessage merges a message that arrived from the push channel or a
// poll into the room log. Records are matched by authoritative id first and
// by the local id the echo carries second; only unmatched records are
// inserted.
func (s *Store) ReconcileMessage(roomID string, msg model.ChatMessage) Outcome {
	s.mu.Lock()
	key := s.logKey(roomID)
	outcome := s.reconcileLocked(key, msg)
	s.mu.Unlock()

	switch outcome {
	case OutcomeDuplicate:
	case OutcomeInserted:
		s.notify(Change{Kind: ChangeMessages, RoomID: key})
		s.notify(Change{Kind: ChangeRooms, RoomID: key})
	default:
		s.notify(Change{Kind: ChangeMessages, RoomID: key})
	}
	return outcome
}

// Messages returns a copy of a room's log.
func (s *Store) Messages(roomID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[s.logKey(roomID)])
}

// Message returns one message by authoritative or local id.
func (s *Store) Message(roomID, messageID string) (model.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[s.logKey(roomID)]
	if i := indexOf(log, messageID); i >= 0 {
		return log[i], true
	}
	return model.ChatMessage{}, false
}

func (s *Store) replaceLocked(key string, list []model.ChatMessage, keepPending bool) {
	prev := s.messages[key]

	log := make([]model.ChatMessage, 0, len(list))
	seen := make(map[string]int, len(list))
	locals := make(map[string]bool)
	for _, m := range list {
		if m.RoomID == "" {
			m.RoomID = key
		}
		// A read applied locally survives a page fetched before the server saw it.
		if j := indexByID(prev, m.ID); j >= 0 && prev[j].Status == model.StatusRead && m.Status.Advances(model.StatusRead) {
			m.Status = model.StatusRead
		}
		if m.LocalID != "" {
			locals[m.LocalID] = true
		}
		if k := m.Key(); k != "" {
			if at, ok := seen[k]; ok {
				log[at] = m
				continue
			}
			seen[k] = len(log)
		}
		log = append(log, m)
	}
	sort.SliceStable(log, func(i, j int) bool {
		return log[i].CreatedAt.Before(log[j].CreatedAt)
	})

	if keepPending {
		for _, m := range prev {
			if !m.IsOptimistic() || locals[m.LocalID] {
				continue
			}
			if p, ok := s.pending[m.LocalID]; ok && p.roomKey == key {
				log = insertSorted(log, m)
			}
		}
	}
	s.messages[key] = log

	if i := s.roomIndex(key); i >= 0 && len(log) > 0 {
		setSnapshot(&s.rooms[i], log[len(log)-1])
	}
}

func (s *Store) reconcileLocked(key string, msg model.ChatMessage) Outcome {
	log := s.messages[key]

	if msg.ID != "" {
		if j := indexByID(log, msg.ID); j >= 0 {
			if s.mergeServerLocked(key, j, msg) {
				return OutcomeMerged
			}
			return OutcomeDuplicate
		}
	}

	if msg.LocalID != "" {
		if i := indexByLocalID(log, msg.LocalID); i >= 0 && log[i].IsOptimistic() {
			s.confirmLocked(key, msg.LocalID, msg)
			return OutcomeConfirmed
		}
	}

	// The optimistic entry may already have been dropped by an authoritative
	// replace; its unread increment was applied when it was added.
	counted := false
	if p, ok := s.pending[msg.LocalID]; ok && msg.LocalID != "" {
		counted = p.counted
		delete(s.pending, msg.LocalID)
	}
	s.insertLocked(key, msg, !counted)
	return OutcomeInserted
}

func (s *Store) confirmLocked(key, localID string, auth model.ChatMessage) model.ChatMessage {
	log := s.messages[key]
	i := indexByLocalID(log, localID)
	if i >= 0 && !log[i].IsOptimistic() {
		i = -1
	}
	j := -1
	if auth.ID != "" {
		j = indexByID(log, auth.ID)
	}
	p, hasPending := s.pending[localID]
	delete(s.pending, localID)

	switch {
	case i >= 0 && j >= 0:
		// Echo got in first: drop the optimistic twin and take back its count.
		twin := log[i]
		log = slices.Delete(log, i, i+1)
		if j > i {
			j--
		}
		log[j].LocalID = localID
		s.messages[key] = log
		if ri := s.roomIndex(key); ri >= 0 {
			if hasPending && p.counted {
				s.rooms[ri].AddUnread(p.role, -1)
			}
			resnapshot(&s.rooms[ri], log, twin)
		}
		s.mergeServerLocked(key, j, auth)
		return s.messages[key][j]

	case i >= 0:
		local := log[i]
		merged := mergeConfirmed(local, auth)
		log = slices.Delete(log, i, i+1)
		log = insertSorted(log, merged)
		s.messages[key] = log
		if ri := s.roomIndex(key); ri >= 0 {
			resnapshot(&s.rooms[ri], log, local)
		}
		return merged

	case j >= 0:
		s.mergeServerLocked(key, j, auth)
		return s.messages[key][j]

	default:
		if auth.Status == "" || auth.Status == model.StatusSending {
			auth.Status = model.StatusSent
		}
		s.insertLocked(key, auth, !(hasPending && p.counted))
		log = s.messages[key]
		if at := indexOf(log, auth.Key()); at >= 0 {
			return log[at]
		}
		return auth
	}
}

// insertLocked places msg in time order and applies the room side effects of
// a new message. Optimistic messages are remembered for rollback.
func (s *Store) insertLocked(key string, msg model.ChatMessage, count bool) {
	if msg.RoomID == "" {
		msg.RoomID = key
	}
	ri := s.roomIndex(key)

	role := model.RoleUser
	if msg.IsAgent {
		role = model.RoleAgent
	}
	if ri >= 0 {
		role = s.rooms[ri].SenderRole(msg.SenderID, msg.IsAgent)
	}
	recipient := role.Other()

	if msg.IsOptimistic() {
		p := pendingSend{roomKey: key, role: recipient, counted: count, hadRoom: ri >= 0, prevIndex: ri}
		if ri >= 0 {
			r := s.rooms[ri]
			p.prevContent = r.LastMessageContent
			p.prevSender = r.LastMessageSenderID
			p.prevTime = cloneTime(r.LastMessageTime)
		}
		s.pending[msg.LocalID] = p
	}

	log := insertSorted(s.messages[key], msg)
	s.messages[key] = log

	if ri < 0 {
		return
	}
	room := &s.rooms[ri]
	syncSnapshot(room, log)
	if count {
		room.AddUnread(recipient, 1)
	}
	s.moveToFrontLocked(ri)
}

func (s *Store) updateLocked(key, messageID string, patch model.MessagePatch) bool {
	log := s.messages[key]
	i := indexOf(log, messageID)
	if i < 0 {
		return false
	}

	// Assigning an id another entry already has means the echo was stored
	// first; resolve through the confirm path so only one entry survives.
	if patch.ID != nil && *patch.ID != "" && log[i].IsOptimistic() {
		if j := indexByID(log, *patch.ID); j >= 0 && j != i {
			auth := log[j]
			if patch.Status != nil && auth.Status.Advances(*patch.Status) {
				auth.Status = *patch.Status
			}
			s.confirmLocked(key, log[i].LocalID, auth)
			return true
		}
	}

	before := log[i]
	patch.Apply(&log[i])
	if patch.ID != nil && before.IsOptimistic() && !log[i].IsOptimistic() {
		// Confirmed by id assignment; the optimistic bookkeeping is done.
		delete(s.pending, before.LocalID)
	}
	s.statusSideEffectsLocked(key, before, log[i])
	if ri := s.roomIndex(key); ri >= 0 && i == len(log)-1 {
		syncSnapshot(&s.rooms[ri], log)
	}
	return true
}

// mergeServerLocked folds a server copy of an existing message into the log.
// Content and flags follow the newer record; status only moves forward.
func (s *Store) mergeServerLocked(key string, j int, incoming model.ChatMessage) bool {
	log := s.messages[key]
	before := log[j]
	cur := &log[j]

	if incoming.UpdatedAt.After(cur.UpdatedAt) {
		cur.Content = incoming.Content
		cur.IsEdited = incoming.IsEdited
		cur.IsDeleted = incoming.IsDeleted
		cur.IsPinned = incoming.IsPinned
		cur.UpdatedAt = incoming.UpdatedAt
	}
	if cur.Status.Advances(incoming.Status) && incoming.Status != model.StatusFailed {
		cur.Status = incoming.Status
	}
	if cur.LocalID == "" && incoming.LocalID != "" {
		cur.LocalID = incoming.LocalID
	}

	if *cur == before {
		return false
	}
	s.statusSideEffectsLocked(key, before, *cur)
	if ri := s.roomIndex(key); ri >= 0 && j == len(log)-1 {
		syncSnapshot(&s.rooms[ri], log)
	}
	return true
}

func (s *Store) statusSideEffectsLocked(key string, before, after model.ChatMessage) {
	if before.Status == model.StatusRead || after.Status != model.StatusRead {
		return
	}
	if ri := s.roomIndex(key); ri >= 0 {
		room := &s.rooms[ri]
		room.AddUnread(room.SenderRole(after.SenderID, after.IsAgent).Other(), -1)
	}
}

// rollbackLocked undoes an optimistic AddMessage whose message was removed.
func (s *Store) rollbackLocked(key string, p pendingSend) {
	ri := s.roomIndex(key)
	if ri < 0 {
		return
	}
	room := &s.rooms[ri]
	if p.counted {
		room.AddUnread(p.role, -1)
	}

	log := s.messages[key]
	// A real message newer than the pre-send snapshot keeps the room where it is.
	if n := len(log); n > 0 && (p.prevTime == nil || log[n-1].CreatedAt.After(*p.prevTime)) {
		setSnapshot(room, log[n-1])
		return
	}
	room.LastMessageContent = p.prevContent
	room.LastMessageSenderID = p.prevSender
	room.LastMessageTime = cloneTime(p.prevTime)

	if p.hadRoom && ri == 0 && p.prevIndex > 0 {
		s.moveToIndexLocked(ri, min(p.prevIndex, len(s.rooms)-1))
	}
}

// mergeConfirmed combines the optimistic entry with the authoritative record.
func mergeConfirmed(local, auth model.ChatMessage) model.ChatMessage {
	out := auth
	out.LocalID = local.LocalID
	if out.RoomID == "" {
		out.RoomID = local.RoomID
	}
	if out.SenderID == "" {
		out.SenderID = local.SenderID
	}
	if out.Content == "" {
		out.Content = local.Content
	}
	if out.MessageType == "" {
		out.MessageType = local.MessageType
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	switch out.Status {
	case model.StatusSent, model.StatusRead:
	default:
		out.Status = model.StatusSent
	}
	if !out.IsAgent {
		out.IsAgent = local.IsAgent
	}
	return out
}

func syncSnapshot(room *model.ChatRoom, log []model.ChatMessage) {
	if len(log) == 0 {
		return
	}
	last := log[len(log)-1]
	if room.LastMessageTime != nil && last.CreatedAt.Before(*room.LastMessageTime) {
		return
	}
	setSnapshot(room, last)
}

// resnapshot re-derives the snapshot after gone left the log. A snapshot that
// pointed at gone falls back to the newest remaining message.
func resnapshot(room *model.ChatRoom, log []model.ChatMessage, gone model.ChatMessage) {
	pointed := room.LastMessageTime != nil && room.LastMessageTime.Equal(gone.CreatedAt) &&
		room.LastMessageSenderID == gone.SenderID
	if pointed && len(log) > 0 {
		setSnapshot(room, log[len(log)-1])
		return
	}
	syncSnapshot(room, log)
}

func setSnapshot(room *model.ChatRoom, m model.ChatMessage) {
	t := m.CreatedAt
	room.LastMessageContent = m.Content
	room.LastMessageSenderID = m.SenderID
	room.LastMessageTime = &t
}

func insertSorted(log []model.ChatMessage, msg model.ChatMessage) []model.ChatMessage {
	at := sort.Search(len(log), func(i int) bool {
		return log[i].CreatedAt.After(msg.CreatedAt)
	})
	return slices.Insert(log, at, msg)
}

func indexOf(log []model.ChatMessage, id string) int {
	if i := indexByID(log, id); i >= 0 {
		return i
	}
	return indexByLocalID(log, id)
}

func indexByID(log []model.ChatMessage, id string) int {
	if id == "" {
		return -1
	}
	for i := range log {
		if log[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByLocalID(log []model.ChatMessage, id string) int {
	if id == "" {
		return -1
	}
	for i := range log {
		if log[i].LocalID == id {
			return i
		}
	}
	return -1
}
