package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const maxIDLength = 128

// ValidateRoomID validates a room id taken from a path or body. Room ids end
// up as NATS subject tokens, so separators and wildcards are rejected.
func ValidateRoomID(id string) error {
	return validateID("room", id)
}

// ValidateListingID validates a listing id.
func ValidateListingID(id string) error {
	return validateID("listing", id)
}

// ValidateMessageIDs validates a batch of message ids.
func ValidateMessageIDs(ids []string) error {
	for _, id := range ids {
		if err := validateID("message", id); err != nil {
			return err
		}
	}
	return nil
}

func validateID(kind, id string) error {
	switch {
	case id == "":
		return errors.New(kind + " ID cannot be empty")
	case len(id) > maxIDLength:
		return errors.New(kind + " ID exceeds maximum length")
	case !utf8.ValidString(id):
		return errors.New(kind + " ID must be valid UTF-8")
	case strings.ContainsAny(id, ".*> \t\r\n"):
		return errors.New("invalid " + kind + " ID format")
	}
	return nil
}
