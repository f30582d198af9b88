package chat

import (
	"context"
	"errors"

	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Code classifies errors surfaced by the sync core.
type Code string

const (
	CodeInvalidArgument Code = "invalid_argument"
	CodeNotAuthorized   Code = "not_authorized"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeStorage         Code = "storage_error"
	CodeDisconnected    Code = "disconnected"
	CodeCanceled        Code = "canceled"
)

var (
	// ErrClosed is returned by operations on a closed view.
	ErrClosed = errors.New("view closed")
	// ErrNotLive is returned when a view is used before it finished loading.
	ErrNotLive = errors.New("view not live")
)

// Error wraps a failed operation with its classification.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Code)
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the classification of err. Unclassified errors are storage errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return classify(err)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeStorage, CodeDisconnected:
		return true
	default:
		return false
	}
}

func classify(err error) Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrClosed):
		return CodeCanceled
	case errors.Is(err, store.ErrInvalidArgument), errors.Is(err, ErrNotLive):
		return CodeInvalidArgument
	case errors.Is(err, store.ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrConflict):
		return CodeConflict
	case errors.Is(err, realtime.ErrDisconnected), errors.Is(err, realtime.ErrSlowConsumer), errors.Is(err, realtime.ErrClosed):
		return CodeDisconnected
	default:
		return CodeStorage
	}
}

// wrap classifies err under op. Already classified errors pass through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Code: classify(err), Op: op, Err: err}
}
