package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultStreamName is the stream that retains room message events.
	DefaultStreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	name   string
}

// NewStreamManager creates a new stream manager for the named stream.
func NewStreamManager(client *Client, name string) *StreamManager {
	if name == "" {
		name = DefaultStreamName
	}
	return &StreamManager{client: client, name: name}
}

// Name returns the stream name.
func (m *StreamManager) Name() string {
	return m.name
}

// EnsureStream creates the chat stream if it does not exist yet. The marketplace
// backend normally owns the stream; this is for local development.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, m.name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        m.name,
		Subjects:    []string{RoomMessageFilter()},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Chat room message events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// RoomMessageSubject returns the subject carrying message events of a room.
func RoomMessageSubject(roomID string) string {
	return fmt.Sprintf("%s.room.%s.msg", SubjectPrefix, roomID)
}

// RoomTypingSubject returns the subject carrying typing events of a room.
func RoomTypingSubject(roomID string) string {
	return fmt.Sprintf("%s.room.%s.typing", SubjectPrefix, roomID)
}

// UserRoomsSubject returns the subject carrying room updates for a user.
func UserRoomsSubject(userID string) string {
	return fmt.Sprintf("%s.user.%s.rooms", SubjectPrefix, userID)
}

// PresenceSubject returns the subject a user's presence is announced on.
func PresenceSubject(userID string) string {
	return fmt.Sprintf("%s.presence.%s", SubjectPrefix, userID)
}

// PresenceFilter matches every presence announcement.
func PresenceFilter() string {
	return SubjectPrefix + ".presence.*"
}

// RoomMessageFilter matches the message events of every room.
func RoomMessageFilter() string {
	return SubjectPrefix + ".room.*.msg"
}

// ValidToken reports whether id can be used as a single subject token.
func ValidToken(id string) bool {
	return id != "" && !strings.ContainsAny(id, ".*> \t\r\n")
}
