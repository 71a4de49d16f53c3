package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/remote"
)

func inquiryRoom(id, listingID string, sec int) model.ChatRoom {
	r := testRoom(id, sec)
	r.ListingID = listingID
	return r
}

func TestFindOrCreateRoomReusesLoadedRoom(t *testing.T) {
	api := &fakeAPI{}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{
		inquiryRoom("old", "L1", 10),
		inquiryRoom("new", "L1", 20),
		inquiryRoom("other", "L2", 30),
	})

	room, err := e.FindOrCreateRoom(context.Background(), "L1", "a1")
	if err != nil {
		t.Fatalf("FindOrCreateRoom: %v", err)
	}
	if room.ID != "new" {
		t.Fatalf("expected most recent duplicate, got %s", room.ID)
	}
	if api.createCount() != 0 {
		t.Fatalf("expected no create call, got %d", api.createCount())
	}
}

func TestFindOrCreateRoomCreatesMissingRoom(t *testing.T) {
	api := &fakeAPI{}
	api.createRoom = func(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
		if req.UserID != "u1" || req.RoomType != model.RoomTypeListingInquiry {
			t.Errorf("unexpected create request %+v", req)
		}
		r := inquiryRoom("fresh", req.ListingID, 40)
		return &r, nil
	}
	e, st := newTestEngine(t, api, nil)

	room, err := e.FindOrCreateRoom(context.Background(), "L9", "a1")
	if err != nil {
		t.Fatalf("FindOrCreateRoom: %v", err)
	}
	if room.ID != "fresh" {
		t.Fatalf("unexpected room %+v", room)
	}
	if _, ok := st.Room("fresh"); !ok {
		t.Fatal("expected created room in store")
	}
}

func TestFindOrCreateRoomRefetchesWhenRoomExists(t *testing.T) {
	api := &fakeAPI{}
	api.createRoom = func(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
		return nil, &remote.APIError{StatusCode: http.StatusConflict, Code: CodeRoomExists}
	}
	api.fetchRooms = func(ctx context.Context) (*model.RoomPage, error) {
		return &model.RoomPage{Rooms: []model.ChatRoom{inquiryRoom("remote", "L1", 10)}}, nil
	}
	e, _ := newTestEngine(t, api, nil)

	room, err := e.FindOrCreateRoom(context.Background(), "L1", "a1")
	if err != nil {
		t.Fatalf("FindOrCreateRoom: %v", err)
	}
	if room.ID != "remote" {
		t.Fatalf("expected refetched room, got %+v", room)
	}
}

func TestFindOrCreateRoomSurfacesPermissionDenied(t *testing.T) {
	api := &fakeAPI{}
	api.createRoom = func(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
		return nil, &remote.APIError{StatusCode: http.StatusForbidden}
	}
	e, _ := newTestEngine(t, api, nil)

	_, err := e.FindOrCreateRoom(context.Background(), "L1", "a1")
	if Classify(err) != KindPermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if api.createCount() != 1 {
		t.Fatalf("expected no retry, got %d creates", api.createCount())
	}
}

func TestSendInquiryRecreatesVanishedRoom(t *testing.T) {
	api := &fakeAPI{}
	api.sendMessage = func(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
		if req.RoomID == "gone" {
			return nil, &remote.APIError{StatusCode: http.StatusNotFound, Code: "ROOM_NOT_FOUND"}
		}
		m := serverMsg("m-1", req.RoomID, "u1", 100)
		m.Content = req.Content
		return &m, nil
	}
	api.createRoom = func(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
		r := inquiryRoom("replacement", req.ListingID, 50)
		return &r, nil
	}
	e, st := newTestEngine(t, api, nil)
	st.SetChatRooms([]model.ChatRoom{inquiryRoom("gone", "L1", 10)})

	room, msg, err := e.SendInquiry(context.Background(), "L1", "a1", "Is the bike still available?")
	if err != nil {
		t.Fatalf("SendInquiry: %v", err)
	}
	if room.ID != "replacement" || msg.ID != "m-1" {
		t.Fatalf("unexpected result room=%+v msg=%+v", room, msg)
	}
	if _, ok := st.Room("gone"); ok {
		t.Fatal("expected stale room removed")
	}
	if api.sendCount() != 2 {
		t.Fatalf("expected exactly one retry, got %d sends", api.sendCount())
	}
	if log := st.Messages("replacement"); len(log) != 1 {
		t.Fatalf("expected one message in new room, got %+v", log)
	}
}

func TestSendInquiryValidatesFirst(t *testing.T) {
	api := &fakeAPI{}
	e, _ := newTestEngine(t, api, nil)

	_, _, err := e.SendInquiry(context.Background(), "L1", "a1", " ")
	if Classify(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if api.createCount() != 0 || api.sendCount() != 0 {
		t.Fatal("expected no remote calls")
	}
}
