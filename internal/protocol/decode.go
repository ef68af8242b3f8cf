package protocol

import (
	"encoding/json"
	"fmt"
)

// rawMessage is the union of both wire shapes. State stays raw so that
// presence can be detected before parsing.
type rawMessage struct {
	Token  string          `json:"token"`
	Source string          `json:"source"`
	State  *string         `json:"state"`
	Frame  uint64          `json:"frame"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses one inbound payload. A payload with a "state" key is a
// handshake; anything else is an application message.
func Decode(payload []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.State != nil {
		st, err := ParseState(*raw.State)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		h := Handshake{
			Token:  raw.Token,
			Source: raw.Source,
			State:  st,
			Frame:  raw.Frame,
		}
		if err := h.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Message{Handshake: &h}, nil
	}
	app := Application{Token: raw.Token, Data: raw.Data}
	if err := app.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Message{Application: &app}, nil
}
