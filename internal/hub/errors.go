package hub

import (
	"errors"
	"net/http"
)

var (
	// ErrTargetNotFound means the conversation or group id is unknown.
	ErrTargetNotFound = errors.New("target not found")
	// ErrNotAParticipant means the sender is not part of the conversation.
	ErrNotAParticipant = errors.New("not a participant")
	// ErrNotAMember means the sender is not a member of the group.
	ErrNotAMember = errors.New("not a member")
	// ErrDeliveryFailed wraps a transport error writing to one connection.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// StatusFor maps a notifier error to the HTTP status reported to the write
// path, over HTTP or in a NATS reply.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAParticipant), errors.Is(err, ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidNotice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
