// Package remote is the HTTP client for the marketplace chat API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
	"github.com/sherzod992/Ta-Go-sub000/pkg/logger"
)

// maxErrorBody bounds how much of a failed response is read for diagnostics.
const maxErrorBody = 64 * 1024

// APIError is a non-2xx response from the chat API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chat api %d: %s", e.StatusCode, e.Message)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the chat endpoints of the marketplace API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a client. A zero timeout means 10 seconds.
func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// FetchMessages returns one page of a room's history.
func (c *Client) FetchMessages(ctx context.Context, roomID string, page, limit int) (*model.MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out model.MessagePage
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchRooms returns the rooms of the authenticated participant.
func (c *Client) FetchRooms(ctx context.Context, filter model.RoomFilter) (*model.RoomPage, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.RoomType != "" {
		q.Set("type", string(filter.RoomType))
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out model.RoomPage
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage writes a message and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
	var out model.ChatMessage
	if err := c.do(ctx, http.MethodPost, roomPath(req.RoomID, "messages"), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRoom opens a room.
func (c *Client) CreateRoom(ctx context.Context, req model.CreateRoomRequest) (*model.ChatRoom, error) {
	var out model.ChatRoom
	if err := c.do(ctx, http.MethodPost, "/chat/rooms", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead records that the caller read messageIDs, or everything when empty.
func (c *Client) MarkRead(ctx context.Context, roomID string, messageIDs []string) error {
	body := struct {
		MessageIDs []string `json:"messageIds,omitempty"`
	}{MessageIDs: messageIDs}
	return c.do(ctx, http.MethodPost, roomPath(roomID, "read"), nil, body, nil)
}

func roomPath(roomID, resource string) string {
	return "/chat/rooms/" + url.PathEscape(roomID) + "/" + resource
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("chat api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		// The error field is either a bare string or a {code, message} object.
		var text string
		var nested APIError
		switch {
		case len(body.Error) == 0:
		case json.Unmarshal(body.Error, &text) == nil:
			if apiErr.Message == "" {
				apiErr.Message = text
			}
		case json.Unmarshal(body.Error, &nested) == nil:
			if apiErr.Code == "" {
				apiErr.Code = nested.Code
			}
			if apiErr.Message == "" {
				apiErr.Message = nested.Message
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
