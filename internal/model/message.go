package model

import (
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeImage  MessageType = "IMAGE"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending MessageStatus = "SENDING"
	StatusSent    MessageStatus = "SENT"
	StatusRead    MessageStatus = "READ"
	StatusFailed  MessageStatus = "FAILED"
)

// rank orders the forward path SENDING < SENT < READ. FAILED sits outside it.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
// A FAILED message may be retried back into SENDING.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if next == "" || next == s {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending
	}
	if s == StatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// ChatMessage is a single message in a room log.
type ChatMessage struct {
	// Identity. ID is assigned by the marketplace API and is empty while a
	// locally sent message is still in flight; LocalID identifies it until then.
	ID      string `json:"id,omitempty"`
	LocalID string `json:"localId,omitempty"`
	RoomID  string `json:"roomId"`

	SenderID    string        `json:"senderId"`
	MessageType MessageType   `json:"messageType"`
	Content     string        `json:"content"`
	Status      MessageStatus `json:"status"`

	IsAgent   bool `json:"isAgent"`
	IsEdited  bool `json:"isEdited"`
	IsDeleted bool `json:"isDeleted"`
	IsPinned  bool `json:"isPinned"`
	IsSystem  bool `json:"isSystem"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the identifier the message is currently known by.
func (m *ChatMessage) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// Matches reports whether id names this message by authoritative or local id.
func (m *ChatMessage) Matches(id string) bool {
	if id == "" {
		return false
	}
	return m.ID == id || m.LocalID == id
}

// IsOptimistic reports whether the message has not been confirmed yet.
func (m *ChatMessage) IsOptimistic() bool {
	return m.ID == "" && m.LocalID != ""
}

// MessagePatch is a partial update. Nil fields are left unchanged.
type MessagePatch struct {
	ID        *string        `json:"id,omitempty"`
	Status    *MessageStatus `json:"status,omitempty"`
	Content   *string        `json:"content,omitempty"`
	IsEdited  *bool          `json:"isEdited,omitempty"`
	IsDeleted *bool          `json:"isDeleted,omitempty"`
	IsPinned  *bool          `json:"isPinned,omitempty"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// Apply merges the patch into m. Status only moves forward.
func (p MessagePatch) Apply(m *ChatMessage) {
	if p.ID != nil && *p.ID != "" {
		m.ID = *p.ID
	}
	if p.Status != nil && m.Status.Advances(*p.Status) {
		m.Status = *p.Status
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsEdited != nil {
		m.IsEdited = *p.IsEdited
	}
	if p.IsDeleted != nil {
		m.IsDeleted = *p.IsDeleted
	}
	if p.IsPinned != nil {
		m.IsPinned = *p.IsPinned
	}
	if p.UpdatedAt != nil {
		m.UpdatedAt = *p.UpdatedAt
	}
}

// StatusPatch is a shorthand for a status-only patch.
func StatusPatch(status MessageStatus) MessagePatch {
	return MessagePatch{Status: &status}
}

// SendMessageRequest is the remote write for a new message.
type SendMessageRequest struct {
	RoomID      string      `json:"roomId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	LocalID     string      `json:"localId,omitempty"`
}

// MessagePage is one page of a room's history.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
}
