package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic is the reason for frames with an unexpected magic byte
	ErrInvalidMagic = errors.New("invalid magic")
	// ErrInvalidLength is the reason for frames whose lengths are inconsistent
	ErrInvalidLength = errors.New("invalid length")
	// ErrShortHeader is the reason for header buffers smaller than HeaderLen
	ErrShortHeader = errors.New("short header")
)

// ProtocolError is a framing violation. The connection that produced it cannot be recovered.
type ProtocolError struct {
	Reason error
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("protocol error: %v", e.Reason)
	}
	return fmt.Sprintf("protocol error: %v: %s", e.Reason, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Reason
}
