package queue

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindRoomNotFound      ErrorKind = "RoomNotFound"
	KindTicketNotFound    ErrorKind = "TicketNotFound"
	KindTooEarly          ErrorKind = "TooEarly"
	KindTooBusy           ErrorKind = "TooBusy"
	KindDependencyFailure ErrorKind = "DependencyFailure"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrRoomNotFound      = &Error{Kind: KindRoomNotFound}
	ErrTicketNotFound    = &Error{Kind: KindTicketNotFound}
	ErrTooEarly          = &Error{Kind: KindTooEarly}
	ErrTooBusy           = &Error{Kind: KindTooBusy}
	ErrDependencyFailure = &Error{Kind: KindDependencyFailure}
)

// Error is the only failure type the engine returns.
type Error struct {
	Kind ErrorKind

	// Human readable, safe to show to clients.
	Detail string

	// Operation that raised the error, e.g. "CheckIn".
	Instance string

	// Suggested delay before retrying, zero when retrying won't help.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or DependencyFailure for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyFailure
}

// Status returns the ticket status a failed operation maps to.
func (e *Error) Status() TicketStatus {
	switch e.Kind {
	case KindTooBusy:
		return TooBusy
	case KindTooEarly:
		return TooEarly
	default:
		return NotFound
	}
}

func dependencyFailure(instance string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Kind:     KindDependencyFailure,
		Detail:   "A dependency of the waiting room is unavailable, try again later.",
		Instance: instance,
		Err:      err,
	}
}

// at stamps the failing operation onto an engine error that has none yet.
func at(instance string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Instance == "" {
		e.Instance = instance
	}
	return err
}
