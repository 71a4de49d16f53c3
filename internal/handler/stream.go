package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/middleware"
	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/internal/store"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
	"github.com/sherzod992/Ta-Go-sub000/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// StreamHandler streams store changes to UI clients as server-sent events.
type StreamHandler struct {
	store     *store.Store
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(st *store.Store, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		store:     st,
		logger:    log,
		heartbeat: defaultHeartbeat,
	}
}

// StateSnapshot is the first event on a stream.
type StateSnapshot struct {
	Rooms    []model.ChatRoom `json:"rooms"`
	Selected string           `json:"selected,omitempty"`
	Online   []string         `json:"online"`
}

// ChangeEvent carries one store change and the state it touched.
type ChangeEvent struct {
	store.Change
	Rooms  []model.ChatRoom `json:"rooms,omitempty"`
	Typing []string         `json:"typing,omitempty"`
	Online []string         `json:"online,omitempty"`
	State  *store.LoadState `json:"state,omitempty"`
}

// MessagesEvent carries a room's whole log. An emptied log is sent as [].
type MessagesEvent struct {
	store.Change
	Messages []model.ChatMessage `json:"messages"`
}

// Stream handles GET /stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	changes, cancel := h.store.Subscribe(64)
	defer cancel()

	log := h.logger.With(zap.String("correlation_id", middleware.GetCorrelationID(ctx)))

	if err := sendSSEEvent(w, flusher, "snapshot", &StateSnapshot{
		Rooms:    nonNilRooms(h.store.Rooms()),
		Selected: h.store.SelectedRoom(),
		Online:   nonNilStrings(h.store.OnlineUsers()),
	}); err != nil {
		log.Warn("failed to send snapshot", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(c.Kind), h.describe(c)); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

// describe attaches the current state a change refers to.
func (h *StreamHandler) describe(c store.Change) interface{} {
	if c.Kind == store.ChangeMessages {
		return &MessagesEvent{Change: c, Messages: nonNilMessages(h.store.Messages(c.RoomID))}
	}
	ev := &ChangeEvent{Change: c}
	switch c.Kind {
	case store.ChangeRooms, store.ChangeReset:
		ev.Rooms = h.store.Rooms()
	case store.ChangeTyping:
		ev.Typing = nonNilStrings(h.store.TypingUsers(c.RoomID))
	case store.ChangePresence:
		ev.Online = nonNilStrings(h.store.OnlineUsers())
	case store.ChangeStatus:
		var st store.LoadState
		if c.RoomID != "" {
			st = h.store.MessagesState(c.RoomID)
		} else {
			st = h.store.RoomsState()
		}
		ev.State = &st
	}
	return ev
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
