package protocol

import (
	"encoding/json"
	"fmt"
)

// State is the handshake progress of one channel.
type State uint8

const (
	StateSyn State = iota + 1
	StateSynAck
	StateAck
	// StateFin marks a channel whose ACK was received. It is never sent
	// and no transition reads it back.
	StateFin
)

const (
	wireSyn    = "SYN"
	wireSynAck = "SYN+ACK"
	wireAck    = "ACK"
	wireFin    = "FIN"
)

func (s State) String() string {
	switch s {
	case StateSyn:
		return wireSyn
	case StateSynAck:
		return wireSynAck
	case StateAck:
		return wireAck
	case StateFin:
		return wireFin
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Transmitted reports whether s may appear on the wire.
func (s State) Transmitted() bool {
	return s == StateSyn || s == StateSynAck || s == StateAck
}

// Next returns the state carried by the reply to a message in state s.
// ACK has no reply; ok is false for it and for non-transmitted states.
func (s State) Next() (State, bool) {
	switch s {
	case StateSyn:
		return StateSynAck, true
	case StateSynAck:
		return StateAck, true
	default:
		return 0, false
	}
}

// Progressed reports whether a channel in state s has received at least one reply.
func (s State) Progressed() bool {
	return s != StateSyn
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Transmitted() {
		return nil, fmt.Errorf("%w: %s", ErrStateNotTransmitted, s)
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState accepts only transmitted states.
func ParseState(raw string) (State, error) {
	switch raw {
	case wireSyn:
		return StateSyn, nil
	case wireSynAck:
		return StateSynAck, nil
	case wireAck:
		return StateAck, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
}

// Handshake is one SYN / SYN+ACK / ACK hop.
type Handshake struct {
	Token  string `json:"token"`
	Source string `json:"source"`
	State  State  `json:"state"`
	// Frame counts hops. It is relayed and incremented, never validated.
	Frame uint64 `json:"frame"`
}

// Reply builds the next hop for h, announced as selfID.
func (h Handshake) Reply(selfID string) (Handshake, bool) {
	next, ok := h.State.Next()
	if !ok {
		return Handshake{}, false
	}
	return Handshake{
		Token:  h.Token,
		Source: selfID,
		State:  next,
		Frame:  h.Frame + 1,
	}, true
}

func (h Handshake) Validate() error {
	if h.Token == "" {
		return ErrMissingToken
	}
	if h.Source == "" {
		return ErrMissingSource
	}
	if !h.State.Transmitted() {
		return fmt.Errorf("%w: %s", ErrStateNotTransmitted, h.State)
	}
	return nil
}

// Application carries caller data over an established channel.
type Application struct {
	Token string          `json:"token"`
	Data  json.RawMessage `json:"data"`
}

func (a Application) Validate() error {
	if a.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// Message is the decoded form of one inbound payload. Exactly one field is set.
type Message struct {
	Handshake   *Handshake
	Application *Application
}

func (m Message) IsHandshake() bool {
	return m.Handshake != nil
}
