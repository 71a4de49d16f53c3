// Package handler provides HTTP handlers for the chat API.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/middleware"
	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/service"
	"github.com/sherzod992/Ta-Go-sub000/internal/store"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
)

// ChatHandler exposes the synchronization engine and its store over HTTP.
type ChatHandler struct {
	engine *service.Engine
	store  *store.Store
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(engine *service.Engine, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		engine: engine,
		store:  engine.Store(),
		logger: log,
	}
}

// Routes mounts the chat endpoints.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Get("/rooms", h.ListRooms)
	r.Post("/rooms", h.OpenRoom)
	r.Post("/rooms/refresh", h.RefreshRooms)
	r.Get("/rooms/{id}", h.GetRoom)
	r.Post("/rooms/{id}/select", h.SelectRoom)
	r.Get("/rooms/{id}/messages", h.ListMessages)
	r.Post("/rooms/{id}/messages", h.SendMessage)
	r.Post("/rooms/{id}/read", h.MarkRead)
	r.Get("/rooms/{id}/typing", h.GetTyping)
	r.Post("/rooms/{id}/typing", h.SetTyping)
	r.Get("/selection", h.GetSelection)
	r.Delete("/selection", h.Deselect)
	r.Get("/presence", h.GetPresence)
	r.Post("/inquiries", h.CreateInquiry)
	r.Post("/logout", h.Logout)
}

// RoomListResponse is the ranked room list with its load state.
type RoomListResponse struct {
	Rooms []model.ChatRoom `json:"rooms"`
	store.LoadState
}

// RoomResponse is one room with its log and live state.
type RoomResponse struct {
	Room     model.ChatRoom      `json:"room"`
	Messages []model.ChatMessage `json:"messages"`
	Typing   []string            `json:"typing"`
	Selected bool                `json:"selected"`
	store.LoadState
}

// SendMessageBody is the body of POST /rooms/{id}/messages.
type SendMessageBody struct {
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType,omitempty"`
}

// MarkReadBody is the body of POST /rooms/{id}/read.
type MarkReadBody struct {
	MessageIDs []string `json:"messageIds,omitempty"`
}

// TypingBody is the body of POST /rooms/{id}/typing.
type TypingBody struct {
	IsTyping bool `json:"isTyping"`
}

// InquiryBody is the body of POST /inquiries. Without content the room is
// only opened.
type InquiryBody struct {
	ListingID string `json:"listingId"`
	AgentID   string `json:"agentId,omitempty"`
	Content   string `json:"content,omitempty"`
}

// InquiryResponse is the room an inquiry went to and the message, if one was sent.
type InquiryResponse struct {
	Room    *model.ChatRoom    `json:"room"`
	Message *model.ChatMessage `json:"message,omitempty"`
}

// ListRooms handles GET /rooms
func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RoomListResponse{
		Rooms:     nonNilRooms(h.store.Rooms()),
		LoadState: h.store.RoomsState(),
	})
}

// RefreshRooms handles POST /rooms/refresh
func (h *ChatHandler) RefreshRooms(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RefreshRooms(r.Context()); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.ListRooms(w, r)
}

// GetRoom handles GET /rooms/{id}
func (h *ChatHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	room, found := h.store.Room(roomID)
	if !found {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	key := room.Key()
	writeJSON(w, http.StatusOK, RoomResponse{
		Room:      room,
		Messages:  nonNilMessages(h.store.Messages(key)),
		Typing:    nonNilStrings(h.store.TypingUsers(key)),
		Selected:  h.store.SelectedRoom() == key,
		LoadState: h.store.MessagesState(key),
	})
}

// SelectRoom handles POST /rooms/{id}/select
func (h *ChatHandler) SelectRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.SelectRoom(r.Context(), roomID); err != nil {
		// The session stays open and keeps polling; report the load failure.
		h.writeEngineError(w, err)
		return
	}
	h.ListMessages(w, r)
}

// ListMessages handles GET /rooms/{id}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": nonNilMessages(h.store.Messages(roomID)),
		"state":    h.store.MessagesState(roomID),
	})
}

// SendMessage handles POST /rooms/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}

	var body SendMessageBody
	if !decodeJSON(w, r, &body, false) {
		return
	}

	msg, err := h.engine.SendMessage(r.Context(), roomID, body.Content, body.MessageType)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /rooms/{id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}

	var body MarkReadBody
	if !decodeJSON(w, r, &body, true) {
		return
	}
	if err := middleware.ValidateMessageIDs(body.MessageIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.engine.MarkAsRead(r.Context(), roomID, body.MessageIDs)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// GetTyping handles GET /rooms/{id}/typing
func (h *ChatHandler) GetTyping(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"typing": nonNilStrings(h.store.TypingUsers(roomID)),
	})
}

// SetTyping handles POST /rooms/{id}/typing
func (h *ChatHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomParam(w, r)
	if !ok {
		return
	}

	var body TypingBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := h.engine.SetTyping(r.Context(), roomID, body.IsTyping); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSelection handles GET /selection
func (h *ChatHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"roomId": h.store.SelectedRoom(),
	})
}

// Deselect handles DELETE /selection
func (h *ChatHandler) Deselect(w http.ResponseWriter, r *http.Request) {
	h.engine.DeselectRoom()
	w.WriteHeader(http.StatusNoContent)
}

// GetPresence handles GET /presence
func (h *ChatHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"online": nonNilStrings(h.store.OnlineUsers()),
	})
}

// OpenRoom handles POST /rooms. It returns the inquiry room for a listing,
// creating it if needed.
func (h *ChatHandler) OpenRoom(w http.ResponseWriter, r *http.Request) {
	var body InquiryBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	body.Content = ""
	h.inquire(w, r, body)
}

// CreateInquiry handles POST /inquiries
func (h *ChatHandler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var body InquiryBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	h.inquire(w, r, body)
}

func (h *ChatHandler) inquire(w http.ResponseWriter, r *http.Request, body InquiryBody) {
	if err := middleware.ValidateListingID(body.ListingID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.Content == "" {
		room, err := h.engine.FindOrCreateRoom(r.Context(), body.ListingID, body.AgentID)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, InquiryResponse{Room: room})
		return
	}

	room, msg, err := h.engine.SendInquiry(r.Context(), body.ListingID, body.AgentID, body.Content)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, InquiryResponse{Room: room, Message: msg})
}

// Logout handles POST /logout. It drops all chat state.
func (h *ChatHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	ctx := r.Context()
	h.logger.WithContext(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx)).Info("chat state reset")
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps an engine error kind onto an HTTP status.
func (h *ChatHandler) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := service.Classify(err)
	switch kind {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindRoomNotFound:
		status = http.StatusNotFound
	case service.KindPermissionDenied:
		status = http.StatusForbidden
	case service.KindRoomExists:
		status = http.StatusConflict
	case service.KindTransport:
		status = http.StatusBadGateway
	}

	message := err.Error()
	var se *service.Error
	if errors.As(err, &se) && se.Err != nil && kind != service.KindValidation {
		message = se.Op + " failed"
	}
	if status >= 500 {
		h.logger.Warn("chat operation failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}

func roomParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateRoomID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func nonNilRooms(v []model.ChatRoom) []model.ChatRoom {
	if v == nil {
		return []model.ChatRoom{}
	}
	return v
}

func nonNilMessages(v []model.ChatMessage) []model.ChatMessage {
	if v == nil {
		return []model.ChatMessage{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
