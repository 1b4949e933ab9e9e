package syncclient

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorRoomNotFound
	ErrorCreateFailed
	ErrorNotConnected
	ErrorNotInRoom
	ErrorTimeout
	ErrorConnection
	ErrorClosed
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorRoomNotFound:
		return "room_not_found"
	case ErrorCreateFailed:
		return "create_failed"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorNotInRoom:
		return "not_in_room"
	case ErrorTimeout:
		return "timeout"
	case ErrorConnection:
		return "connection_error"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is returned by every Client method that fails.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}
