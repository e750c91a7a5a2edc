package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrSinkUnavailable is returned when an output destination can't be opened
// or written to.
var ErrSinkUnavailable = errors.New("sink unavailable")

// ErrSinkClosed is returned when writing to a sink that was already closed.
var ErrSinkClosed = errors.New("sink closed")

// ErrUnknownEvent is returned when a host event has a kind we don't handle.
var ErrUnknownEvent = errors.New("unknown event")
