// Package service runs the chat synchronization engine: it drives the remote
// API and the push channel and folds everything they return into the store.
package service

import (
	"context"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// API is the request/response side of the marketplace chat backend.
type API interface {
	FetchMessages(ctx context.Context, roomID string, page, limit int) (*model.MessagePage, error)
	FetchRooms(ctx context.Context, filter model.RoomFilter) (*model.RoomPage, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error)
	CreateRoom(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error)
	MarkRead(ctx context.Context, roomID string, messageIDs []string) error
}

// EventHandler receives decoded push events. It may be called from any
// goroutine.
type EventHandler func(*model.Event)

// Subscription is an open push subscription.
type Subscription interface {
	Unsubscribe() error
}

// PushSource is the server-push side of the backend.
type PushSource interface {
	// SubscribeRoom delivers message, read and typing events of one room.
	SubscribeRoom(ctx context.Context, roomID string, handler EventHandler) (Subscription, error)
	// SubscribeUser delivers room updates of a user and presence changes.
	SubscribeUser(ctx context.Context, userID string, handler EventHandler) (Subscription, error)
	// PublishTyping announces the local user's typing state in a room.
	PublishTyping(ctx context.Context, roomID, userID string, typing bool) error
}
