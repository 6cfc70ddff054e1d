package es

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict signals that another writer committed to the stream first.
	// The Executor retries on it; after the retry cap it is surfaced as-is.
	ErrConflict = errors.New("concurrency conflict")

	ErrStreamNotFound       = errors.New("stream not found")
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrCheckpointNotFound   = errors.New("checkpoint not found")
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrUnknownCommand       = errors.New("unknown command")
	ErrUnknownAggregateType = errors.New("unknown aggregate type")
	ErrNoEvents             = errors.New("no events to append")
)

// DomainError reports a command that is invalid for the aggregate's current
// state. Domain errors are never retried: they are not concurrency artifacts.
type DomainError struct {
	Code string
	msg  string
}

func NewDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *DomainError) Error() string { return e.msg }

// IsDomainError reports whether err (or anything it wraps) is a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
