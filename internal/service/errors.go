package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sherzod992/Ta-Go-sub000/internal/remote"
	"github.com/sherzod992/Ta-Go-sub000/pkg/metrics"
)

// ErrorKind is the class of a failure as far as the UI is concerned.
type ErrorKind string

const (
	KindTransport        ErrorKind = "transport"
	KindRoomNotFound     ErrorKind = "room_not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindValidation       ErrorKind = "validation"
	KindRoomExists       ErrorKind = "room_exists"
	KindUnknown          ErrorKind = "unknown"
)

// CodeRoomExists is the API error code for a duplicate room.
const CodeRoomExists = "ROOM_ALREADY_EXISTS"

// MaxContentBytes bounds the size of a message body.
const MaxContentBytes = 4000

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = fmt.Errorf("message content exceeds %d bytes", MaxContentBytes)
	ErrInvalidContent = errors.New("message content must be valid UTF-8")
	ErrInvalidRoom    = errors.New("room id is required")
	ErrInvalidListing = errors.New("listing id is required")
)

// Error is returned by every Engine operation that fails.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether trying again later can succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTransport
}

// Classify maps a raw error onto an ErrorKind. A nil error has no kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidContent), errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrInvalidListing):
		return KindValidation
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == CodeRoomExists {
			return KindRoomExists
		}
		switch code := apiErr.StatusCode; {
		case code == http.StatusNotFound:
			return KindRoomNotFound
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return KindPermissionDenied
		case code == http.StatusConflict:
			return KindRoomExists
		case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
			return KindValidation
		case code == http.StatusTooManyRequests, code >= 500:
			return KindTransport
		}
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	return KindUnknown
}

// newError wraps err for op and counts it.
func newError(op string, err error) *Error {
	kind := Classify(err)
	metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()
	return &Error{Op: op, Kind: kind, Err: err}
}

// ValidateContent checks a message body before anything is sent or stored.
func ValidateContent(content string) error {
	switch {
	case strings.TrimSpace(content) == "":
		return ErrEmptyContent
	case len(content) > MaxContentBytes:
		return ErrContentTooLong
	case !utf8.ValidString(content):
		return ErrInvalidContent
	}
	return nil
}

// notice is the text shown next to a room when an operation on it failed.
func notice(kind ErrorKind) string {
	switch kind {
	case KindTransport:
		return "Connection problem. Your message was not sent."
	case KindRoomNotFound:
		return "This conversation no longer exists."
	case KindPermissionDenied:
		return "You do not have access to this conversation."
	case KindValidation:
		return "The message could not be sent as written."
	default:
		return "Something went wrong. Please try again."
	}
}
