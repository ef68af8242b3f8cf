package link

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration         = errors.New("link: configuration error")
	ErrTransportRequired     = errors.New("link: transport required")
	ErrOriginMismatch        = errors.New("link: origin mismatch")
	ErrNoChannel             = errors.New("link: no channel")
	ErrNoInitializedChannel  = errors.New("link: no initialized channel")
	ErrMissingFrameReference = errors.New("link: missing frame reference")
	ErrHandshakeExhausted    = errors.New("link: handshake attempts exhausted")
	ErrNilHandler            = errors.New("link: nil handler")
	ErrClosed                = errors.New("link: service closed")
)

// OriginMismatchError reports an inbound event from an origin other than the target.
type OriginMismatchError struct {
	Got  string
	Want string
}

func (e *OriginMismatchError) Error() string {
	return fmt.Sprintf("link: origin mismatch: got %q want %q", e.Got, e.Want)
}

func (e *OriginMismatchError) Is(target error) bool {
	return target == ErrOriginMismatch
}
