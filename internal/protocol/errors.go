package protocol

import "errors"

var (
	// ErrValidation marks a payload that cannot be carried by one frame.
	ErrValidation = errors.New("protocol: validation failed")
	// ErrConnectionClosed marks a peer that closed before a full frame arrived.
	ErrConnectionClosed = errors.New("protocol: connection closed")
	// ErrConnection marks dial, bind, listen, and write failures.
	ErrConnection = errors.New("protocol: connection failed")
)
