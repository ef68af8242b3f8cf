package protocol

import "encoding/json"

func EncodeHandshake(h Handshake) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(h)
}

// EncodeApplication marshals data and wraps it for token.
func EncodeApplication(token string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	msg := Application{Token: token, Data: raw}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
