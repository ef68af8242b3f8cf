package protocol

import "errors"

var (
	ErrMalformed           = errors.New("protocol: malformed message")
	ErrMissingToken        = errors.New("protocol: missing token")
	ErrMissingSource       = errors.New("protocol: missing source")
	ErrUnknownState        = errors.New("protocol: unknown handshake state")
	ErrStateNotTransmitted = errors.New("protocol: state is not transmitted")
)
