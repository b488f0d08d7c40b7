package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConnection is returned when an operation names a connection
	// id the registry does not hold. Callers treat it as a no-op.
	ErrUnknownConnection = errors.New("realtime: unknown connection")

	// ErrAuthenticationFailure covers invalid, expired, or missing tokens.
	ErrAuthenticationFailure = errors.New("realtime: authentication failed")

	// ErrProtocol covers malformed, unknown, or oversize frames.
	ErrProtocol = errors.New("realtime: protocol error")

	// ErrFrameTooLarge is the oversize case of ErrProtocol; it closes the
	// connection.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrProtocol)

	// ErrMalformedFrame is a frame that is not JSON or has no type.
	ErrMalformedFrame = fmt.Errorf("%w: invalid message format", ErrProtocol)

	// ErrUnknownFrameType is a well-formed frame with a type the server does
	// not handle.
	ErrUnknownFrameType = fmt.Errorf("%w: unknown message type", ErrProtocol)

	// ErrPersistence wraps a failed notification store write. Publish
	// returns it and fans nothing out.
	ErrPersistence = errors.New("realtime: persist notification")

	// ErrSuspiciousOrigin marks a connection refused by the reputation check.
	ErrSuspiciousOrigin = errors.New("realtime: suspicious origin")

	// ErrServiceClosed is returned by producer calls after Shutdown.
	ErrServiceClosed = errors.New("realtime: service closed")
)
