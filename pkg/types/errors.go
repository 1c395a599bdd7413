// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure. The kind travels with error
// replies on the wire so clients can tell validation problems from outages.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConnection ErrorKind = "connection"
	KindProtocol   ErrorKind = "protocol"
	KindBackend    ErrorKind = "backend"
)

// Error is the single error type returned by every storage layer.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the operation that failed (e.g. "save_project").
	Op string

	// Message is the user-facing description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so errors.Is(err, ErrNotConnected)
// holds for any connection error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrNotConnected = &Error{Kind: KindConnection}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrBackend      = &Error{Kind: KindBackend}
)

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError builds an Error of the given kind around a cause. A nil cause
// yields nil.
func WrapError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// KindOf reports the kind of err. Errors outside the taxonomy are
// backend errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// MessageOf returns the user-facing message of err without the op prefix.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
