// Package errdefs defines the error taxonomy shared by the engine, the
// gateway and the CLI. Every error that crosses a package boundary carries a
// Kind so callers can branch on failure class without string matching, and so
// the gateway can serialize a stable machine-readable kind to clients.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The zero value is not a valid kind.
type Kind string

const (
	KindConfig       Kind = "config"
	KindStorage      Kind = "storage"
	KindModel        Kind = "model"
	KindTool         Kind = "tool"
	KindSafety       Kind = "safety"
	KindInvalidState Kind = "invalid_state"
	KindNotFound     Kind = "not_found"
	KindCancelled    Kind = "cancelled"
	KindTimeout      Kind = "timeout"
	KindUnknown      Kind = "unknown"
)

// prefix is the human-readable label rendered ahead of the message.
func (k Kind) prefix() string {
	switch k {
	case KindConfig:
		return "Config error"
	case KindStorage:
		return "Storage error"
	case KindModel:
		return "Model error"
	case KindTool:
		return "Tool error"
	case KindSafety:
		return "Safety violation"
	case KindInvalidState:
		return "Invalid state"
	case KindNotFound:
		return "Not found"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown error"
	}
}

type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.kind == KindCancelled {
		return "Cancelled"
	}
	return e.kind.prefix() + ": " + e.msg
}

func (e *kindError) Unwrap() error { return e.err }

// ErrCancelled is the error returned by agent runs that observed a
// cancellation flag. It carries no message.
var ErrCancelled = New(KindCancelled, "")

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind that wraps cause. The rendered
// message is "<prefix>: <msg>: <cause>".
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return &kindError{kind: kind, msg: msg}
	}
	return &kindError{kind: kind, msg: msg + ": " + cause.Error(), err: cause}
}

// KindOf reports the kind of err. Errors without a kind report KindUnknown;
// a nil error reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ke *kindError
	return errors.As(err, &ke) && ke.kind == kind
}

func IsConfig(err error) bool       { return Is(err, KindConfig) }
func IsStorage(err error) bool      { return Is(err, KindStorage) }
func IsModel(err error) bool        { return Is(err, KindModel) }
func IsTool(err error) bool         { return Is(err, KindTool) }
func IsSafety(err error) bool       { return Is(err, KindSafety) }
func IsInvalidState(err error) bool { return Is(err, KindInvalidState) }
func IsNotFound(err error) bool     { return Is(err, KindNotFound) }
func IsCancelled(err error) bool    { return Is(err, KindCancelled) }
func IsTimeout(err error) bool      { return Is(err, KindTimeout) }
