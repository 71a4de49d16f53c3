// Package model defines data structures for the inquiry chat core.
package model

import (
	"time"
)

// RoomType is the kind of conversation a room hosts.
type RoomType string

const (
	RoomTypeListingInquiry RoomType = "LISTING_INQUIRY"
	RoomTypeGeneral        RoomType = "GENERAL"
	RoomTypeSupport        RoomType = "SUPPORT"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "ACTIVE"
	RoomStatusClosed  RoomStatus = "CLOSED"
	RoomStatusPending RoomStatus = "PENDING"
)

// Role is the participant role inside a room.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAgent Role = "AGENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Other returns the opposite participant role.
func (r Role) Other() Role {
	if r == RoleAgent {
		return RoleUser
	}
	return RoleAgent
}

// ChatRoom is a conversation about one listing between an inquirer and an agent.
type ChatRoom struct {
	ID       string     `json:"id"`
	RoomID   string     `json:"roomId"`
	RoomType RoomType   `json:"roomType"`
	Status   RoomStatus `json:"status"`

	ListingID string `json:"listingId,omitempty"`
	UserID    string `json:"userId"`
	AgentID   string `json:"agentId,omitempty"`

	LastMessageContent  string     `json:"lastMessageContent,omitempty"`
	LastMessageSenderID string     `json:"lastMessageSenderId,omitempty"`
	LastMessageTime     *time.Time `json:"lastMessageTime,omitempty"`

	UnreadCountUser  int `json:"unreadCountUser"`
	UnreadCountAgent int `json:"unreadCountAgent"`

	// Display metadata, opaque to the core.
	Title     string `json:"title,omitempty"`
	UserName  string `json:"userName,omitempty"`
	AgentName string `json:"agentName,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the channel key messages and subscriptions use for this room.
func (r *ChatRoom) Key() string {
	if r.RoomID != "" {
		return r.RoomID
	}
	return r.ID
}

// Matches reports whether id names this room by record id or channel key.
func (r *ChatRoom) Matches(id string) bool {
	if id == "" {
		return false
	}
	return r.ID == id || r.RoomID == id
}

// SenderRole returns the role of senderID in this room.
func (r *ChatRoom) SenderRole(senderID string, isAgent bool) Role {
	if isAgent || (r.AgentID != "" && senderID == r.AgentID) {
		return RoleAgent
	}
	return RoleUser
}

// Unread returns the counter belonging to role.
func (r *ChatRoom) Unread(role Role) int {
	if role == RoleAgent {
		return r.UnreadCountAgent
	}
	return r.UnreadCountUser
}

// AddUnread adjusts the counter of role by delta, floored at zero.
func (r *ChatRoom) AddUnread(role Role, delta int) {
	counter := &r.UnreadCountUser
	if role == RoleAgent {
		counter = &r.UnreadCountAgent
	}
	*counter += delta
	if *counter < 0 {
		*counter = 0
	}
}

// ActivityTime is the timestamp used to rank rooms.
func (r *ChatRoom) ActivityTime() time.Time {
	if r.LastMessageTime != nil {
		return *r.LastMessageTime
	}
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// RoomPatch is a partial room update. Nil fields are left unchanged.
type RoomPatch struct {
	Status              *RoomStatus `json:"status,omitempty"`
	Title               *string     `json:"title,omitempty"`
	UserName            *string     `json:"userName,omitempty"`
	AgentName           *string     `json:"agentName,omitempty"`
	AgentID             *string     `json:"agentId,omitempty"`
	LastMessageContent  *string     `json:"lastMessageContent,omitempty"`
	LastMessageSenderID *string     `json:"lastMessageSenderId,omitempty"`
	LastMessageTime     *time.Time  `json:"lastMessageTime,omitempty"`
	UnreadCountUser     *int        `json:"unreadCountUser,omitempty"`
	UnreadCountAgent    *int        `json:"unreadCountAgent,omitempty"`
	UpdatedAt           *time.Time  `json:"updatedAt,omitempty"`
}

// Apply merges the patch into r. Counters stay non-negative.
func (p RoomPatch) Apply(r *ChatRoom) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.UserName != nil {
		r.UserName = *p.UserName
	}
	if p.AgentName != nil {
		r.AgentName = *p.AgentName
	}
	if p.AgentID != nil {
		r.AgentID = *p.AgentID
	}
	if p.LastMessageContent != nil {
		r.LastMessageContent = *p.LastMessageContent
	}
	if p.LastMessageSenderID != nil {
		r.LastMessageSenderID = *p.LastMessageSenderID
	}
	if p.LastMessageTime != nil {
		t := *p.LastMessageTime
		r.LastMessageTime = &t
	}
	if p.UnreadCountUser != nil {
		r.UnreadCountUser = max(*p.UnreadCountUser, 0)
	}
	if p.UnreadCountAgent != nil {
		r.UnreadCountAgent = max(*p.UnreadCountAgent, 0)
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
	}
}

// RoomFilter narrows a room list fetch.
type RoomFilter struct {
	Status   RoomStatus `json:"status,omitempty"`
	RoomType RoomType   `json:"roomType,omitempty"`
	Page     int        `json:"page"`
	Limit    int        `json:"limit"`
}

// RoomPage is one page of the room list.
type RoomPage struct {
	Rooms []ChatRoom `json:"rooms"`
	Total int        `json:"total"`
}

// CreateRoomRequest is the remote write that opens an inquiry room.
type CreateRoomRequest struct {
	ListingID string   `json:"listingId"`
	UserID    string   `json:"userId"`
	AgentID   string   `json:"agentId,omitempty"`
	RoomType  RoomType `json:"roomType"`
}
