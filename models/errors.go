package models

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates failures reported by the sync core.
type ErrorKind string

const (
	KindInvalidRoomID      ErrorKind = "InvalidRoomId"
	KindInvalidMessageType ErrorKind = "InvalidMessageType"
	KindInvalidMessage     ErrorKind = "InvalidMessage"
	KindInvalidResponse    ErrorKind = "InvalidResponse"
	KindWalletUnavailable  ErrorKind = "WalletUnavailable"
	KindRoomNotFound       ErrorKind = "RoomNotFound"
	KindRoomNotOpen        ErrorKind = "RoomNotOpen"
	KindTransport          ErrorKind = "Transport"
)

var (
	ErrInvalidRoomID      = &Error{Kind: KindInvalidRoomID}
	ErrInvalidMessageType = &Error{Kind: KindInvalidMessageType}
	ErrInvalidMessage     = &Error{Kind: KindInvalidMessage}
	ErrInvalidResponse    = &Error{Kind: KindInvalidResponse}
	ErrWalletUnavailable  = &Error{Kind: KindWalletUnavailable}
	ErrRoomNotFound       = &Error{Kind: KindRoomNotFound}
	ErrRoomNotOpen        = &Error{Kind: KindRoomNotOpen}
	ErrTransport          = &Error{Kind: KindTransport}
)

// Error is the single error type surfaced by the sync core. Op names the
// failing operation and Err carries the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
