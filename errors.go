// this file defines the command error taxonomy and its wire representation
package main

import "errors"

var (
	ErrDuplicateEntry     = errors.New("song already queued")
	ErrNotFound           = errors.New("song not found in queue")
	ErrInvalidPosition    = errors.New("invalid queue position")
	ErrNoCurrentSong      = errors.New("no song currently playing")
	ErrInvalidAction      = errors.New("unknown playback action")
	ErrNotJoined          = errors.New("you must join a session first")
	ErrQueueFull          = errors.New("pending song limit reached for user")
	ErrCatalogUnavailable = errors.New("media catalog unavailable")
)

// validationError marks a malformed command payload. It is rejected before
// any session mutation and reported to the sender only.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func newValidationError(msg string) error { return &validationError{msg: msg} }

// ErrorPayload is the body of an outbound "error" event. Command names the
// inbound message that was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

func errorCode(err error) string {
	var ve *validationError
	if errors.As(err, &ve) {
		return "INVALID_REQUEST"
	}
	switch {
	case errors.Is(err, ErrDuplicateEntry):
		return "DUPLICATE_SONG"
	case errors.Is(err, ErrNotFound):
		return "SONG_NOT_FOUND"
	case errors.Is(err, ErrInvalidPosition):
		return "INVALID_POSITION"
	case errors.Is(err, ErrNoCurrentSong):
		return "NO_CURRENT_SONG"
	case errors.Is(err, ErrInvalidAction):
		return "INVALID_ACTION"
	case errors.Is(err, ErrNotJoined):
		return "NOT_IN_SESSION"
	case errors.Is(err, ErrQueueFull):
		return "QUEUE_FULL"
	case errors.Is(err, ErrCatalogUnavailable):
		return "CATALOG_UNAVAILABLE"
	}
	return "INTERNAL_ERROR"
}
