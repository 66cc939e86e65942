package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by this module wraps exactly one of these,
// so callers can classify failures with errors.Is.
var (
	ErrConnection   = errors.New("connection error")
	ErrTransport    = errors.New("transport error")
	ErrProtocol     = errors.New("protocol error")
	ErrSource       = errors.New("attestation source error")
	ErrVerification = errors.New("verification error")
	ErrDecode       = errors.New("decode error")
	ErrLookup       = errors.New("lookup error")
)

var (
	ErrNoAttempts = fmt.Errorf("%w: no connection attempts permitted", ErrConnection)

	ErrPeerClosed = fmt.Errorf("%w: connection closed by peer before message completed", ErrTransport)
	ErrShortWrite = fmt.Errorf("%w: short write", ErrTransport)

	ErrOversizeMessage = fmt.Errorf("%w: declared length exceeds maximum message size", ErrProtocol)
	ErrUnknownRequest  = fmt.Errorf("%w: unrecognized request code", ErrProtocol)

	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrDecode)
	ErrMalformedDocument = fmt.Errorf("%w: malformed attestation document", ErrDecode)

	ErrMissingRegister = fmt.Errorf("%w: measurement register not present", ErrLookup)
)
