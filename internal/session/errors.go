package session

import "errors"

var (
	// ErrEmptyMessage is returned when a send is attempted with content that
	// is empty after trimming. Rejected locally, no round trip.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrNotConnected is returned when a send or typing signal is attempted
	// while the session is not in the Connected state.
	ErrNotConnected = errors.New("session is not connected")
	// ErrAlreadyConnected is returned by Reconnect while Connected.
	ErrAlreadyConnected = errors.New("session is already connected")
	// ErrNotOpened is returned by Reconnect before any Open.
	ErrNotOpened = errors.New("session was never opened")
	// ErrAuthExpired is returned when the credential was rejected or is
	// already expired. Never retried automatically.
	ErrAuthExpired = errors.New("credential expired")
	// ErrClosed is returned for operations interrupted by Close.
	ErrClosed = errors.New("session closed")
)
