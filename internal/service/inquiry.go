package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// FindOrCreateRoom returns the local user's inquiry room for a listing,
// creating it when none is loaded. If the server reports that the room
// already exists, the room list is refetched and searched again. When several
// rooms match, the most recently active one wins.
func (e *Engine) FindOrCreateRoom(ctx context.Context, listingID, agentID string) (*model.ChatRoom, error) {
	const op = "find or create room"
	if listingID == "" {
		return nil, newError(op, ErrInvalidListing)
	}

	if room, ok := e.findRoom(listingID); ok {
		return &room, nil
	}

	room, err := e.createRoom(ctx, listingID, agentID)
	if err == nil {
		return room, nil
	}
	if Classify(err) != KindRoomExists {
		return nil, newError(op, err)
	}

	e.logger.Info("inquiry room exists remotely, refetching rooms", zap.String("listing_id", listingID))
	if err := e.RefreshRooms(ctx); err != nil {
		return nil, err
	}
	if room, ok := e.findRoom(listingID); ok {
		return &room, nil
	}
	return nil, newError(op, err)
}

// SendInquiry sends content to the listing's inquiry room, opening the room
// if needed. A room that turns out to be gone is dropped, recreated and the
// send retried once.
func (e *Engine) SendInquiry(ctx context.Context, listingID, agentID, content string) (*model.ChatRoom, *model.ChatMessage, error) {
	const op = "send inquiry"
	if err := ValidateContent(content); err != nil {
		return nil, nil, newError(op, err)
	}

	room, err := e.FindOrCreateRoom(ctx, listingID, agentID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := e.SendMessage(ctx, room.Key(), content, model.MessageTypeText)
	if Classify(err) == KindRoomNotFound {
		e.logger.Warn("inquiry room vanished, recreating",
			zap.String("listing_id", listingID),
			zap.String("room_id", room.Key()),
		)
		e.store.RemoveChatRoom(room.Key())

		room, err = e.FindOrCreateRoom(ctx, listingID, agentID)
		if err != nil {
			return nil, nil, err
		}
		msg, err = e.SendMessage(ctx, room.Key(), content, model.MessageTypeText)
	}
	if err != nil {
		return room, nil, err
	}
	return room, msg, nil
}

func (e *Engine) findRoom(listingID string) (model.ChatRoom, bool) {
	matches := e.store.FindRooms(func(r *model.ChatRoom) bool {
		return r.ListingID == listingID && r.UserID == e.cfg.UserID
	})
	if len(matches) == 0 {
		return model.ChatRoom{}, false
	}
	if len(matches) > 1 {
		e.logger.Warn("multiple inquiry rooms for listing",
			zap.String("listing_id", listingID),
			zap.Int("count", len(matches)),
			zap.String("chosen", matches[0].Key()),
		)
	}
	return matches[0], true
}

func (e *Engine) createRoom(ctx context.Context, listingID, agentID string) (*model.ChatRoom, error) {
	var room *model.ChatRoom
	err := e.traced(ctx, "create_room", "", func(ctx context.Context) error {
		var err error
		room, err = e.api.CreateRoom(ctx, model.CreateRoomRequest{
			ListingID: listingID,
			UserID:    e.cfg.UserID,
			AgentID:   agentID,
			RoomType:  model.RoomTypeListingInquiry,
		})
		if err == nil && room == nil {
			err = errors.New("empty create room response")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if room.ListingID == "" {
		room.ListingID = listingID
	}
	if room.UserID == "" {
		room.UserID = e.cfg.UserID
	}
	e.store.AddChatRoom(*room)
	stored, ok := e.store.Room(room.Key())
	if !ok {
		return room, nil
	}
	return &stored, nil
}
