package tracker

import "errors"

// Errors returned by tracker operations.
var (
	// ErrClosed is returned by Track and TrackImmediate after Close.
	ErrClosed = errors.New("tracker: closed")

	// ErrAlreadyStarted is returned by Start when the tracker is running.
	ErrAlreadyStarted = errors.New("tracker: already started")
)
