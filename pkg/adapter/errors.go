package adapter

import "errors"

var (
	// ErrInvalidState is returned by hostGame/joinGame while a game session is already active.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound is returned when a command names a remote player without a relay.
	ErrNotFound = errors.New("relay not found")

	// ErrNoSession is returned when a relay has no NAT-traversal session to feed.
	ErrNoSession = errors.New("relay has no session")

	// ErrStopped is returned once the event loop has exited.
	ErrStopped = errors.New("adapter stopped")
)
