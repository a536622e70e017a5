package model

import (
	"errors"
)

var (
	// ErrDisabled is returned by a capability switched off by configuration.
	ErrDisabled = errors.New("feature disabled")
	// ErrUnavailable is returned when a native capability failed to load.
	ErrUnavailable = errors.New("capability unavailable")
	// ErrInvalidInput rejects malformed arguments before any job is created.
	ErrInvalidInput = errors.New("invalid input")
	ErrClosed       = errors.New("closed")
)
