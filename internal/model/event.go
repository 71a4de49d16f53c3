package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of a pushed chat event.
type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageUpdated EventType = "message.updated"
	EventMessagesRead   EventType = "messages.read"
	EventRoomUpdated    EventType = "room.updated"
	EventTyping         EventType = "typing"
	EventPresence       EventType = "presence"
)

// Event is the envelope every push channel delivers.
type Event struct {
	Type   EventType       `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	UserID string          `json:"userId,omitempty"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt,omitempty"`

	// Decoded payload, populated by DecodeEvent. Exactly one is set.
	Message  *ChatMessage   `json:"-"`
	Update   *MessageUpdate `json:"-"`
	Read     *ReadReceipt   `json:"-"`
	Room     *ChatRoom      `json:"-"`
	Typing   *TypingEvent   `json:"-"`
	Presence *PresenceEvent `json:"-"`
}

// MessageUpdate is a partial message record pushed after an edit or status change.
type MessageUpdate struct {
	MessageID string       `json:"messageId"`
	Patch     MessagePatch `json:"patch"`
}

// ReadReceipt reports that a participant has read messages in a room.
type ReadReceipt struct {
	ReaderID   string   `json:"readerId"`
	ReaderRole Role     `json:"readerRole"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// TypingEvent reports a typing state change.
type TypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceEvent reports an online state change.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// DecodeEvent parses an event envelope and its typed payload.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	var target any
	switch ev.Type {
	case EventMessageCreated:
		ev.Message = &ChatMessage{}
		target = ev.Message
	case EventMessageUpdated:
		ev.Update = &MessageUpdate{}
		target = ev.Update
	case EventMessagesRead:
		ev.Read = &ReadReceipt{}
		target = ev.Read
	case EventRoomUpdated:
		ev.Room = &ChatRoom{}
		target = ev.Room
	case EventTyping:
		ev.Typing = &TypingEvent{}
		target = ev.Typing
	case EventPresence:
		ev.Presence = &PresenceEvent{}
		target = ev.Presence
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if len(ev.Data) == 0 {
		return nil, fmt.Errorf("event %q has no data", ev.Type)
	}
	if err := json.Unmarshal(ev.Data, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
	}

	if ev.Message != nil && ev.Message.RoomID == "" {
		ev.Message.RoomID = ev.RoomID
	}
	if ev.Typing != nil && ev.Typing.UserID == "" {
		ev.Typing.UserID = ev.UserID
	}
	if ev.Presence != nil && ev.Presence.UserID == "" {
		ev.Presence.UserID = ev.UserID
	}

	return &ev, nil
}

// NewEvent builds an envelope with data marshalled from payload.
func NewEvent(eventType EventType, roomID, userID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		Type:   eventType,
		RoomID: roomID,
		UserID: userID,
		Data:   data,
		SentAt: time.Now().UTC(),
	}, nil
}

// ErrorEvent is sent to stream consumers when something fails.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps idle streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
