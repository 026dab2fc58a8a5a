package capture

import (
	"errors"
	"fmt"
)

// Kind classifies the stage a capture failed at.
type Kind string

const (
	KindConnection     Kind = "connection"
	KindCaptureRequest Kind = "capture_request"
	KindPersistence    Kind = "persistence"
)

var (
	ErrConnection     = errors.New("capture: connection error")
	ErrCaptureRequest = errors.New("capture: request error")
	ErrPersistence    = errors.New("capture: persistence error")
)

// Error is a failed capture. errors.Is matches the sentinel for its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("capture %s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("capture %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrCaptureRequest:
		return e.Kind == KindCaptureRequest
	case ErrPersistence:
		return e.Kind == KindPersistence
	}
	return false
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
