package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/framechan/internal/testutil/testlog"
)

func TestDecodeDiscriminatesOnStateKey(t *testing.T) {
	testlog.Start(t)
	msg, err := Decode([]byte(`{"token":"t1","source":"A","state":"SYN","frame":1}`))
	if err != nil {
		t.Fatalf("decode handshake: %v", err)
	}
	if !msg.IsHandshake() || msg.Handshake.State != StateSyn || msg.Handshake.Frame != 1 {
		t.Fatalf("unexpected handshake: %+v", msg.Handshake)
	}

	msg, err = Decode([]byte(`{"token":"t1","data":{"x":1}}`))
	if err != nil {
		t.Fatalf("decode application: %v", err)
	}
	if msg.IsHandshake() || msg.Application == nil {
		t.Fatalf("expected application message")
	}
	if string(msg.Application.Data) != `{"x":1}` {
		t.Fatalf("unexpected data: %s", msg.Application.Data)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	payloads := []string{
		`not json`,
		`[1,2,3]`,
		`{"data":{"x":1}}`,
		`{"token":"t1","source":"A","state":"FIN","frame":4}`,
		`{"token":"t1","source":"A","state":"syn","frame":1}`,
		`{"token":"t1","state":"ACK","frame":3}`,
	}
	for _, p := range payloads {
		if _, err := Decode([]byte(p)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("payload %s: expected ErrMalformed, got %v", p, err)
		}
	}
}

func TestHandshakeReplyChain(t *testing.T) {
	testlog.Start(t)
	syn := Handshake{Token: "t1", Source: "A", State: StateSyn, Frame: 1}
	synAck, ok := syn.Reply("B")
	if !ok {
		t.Fatalf("SYN must have a reply")
	}
	if synAck.State != StateSynAck || synAck.Source != "B" || synAck.Frame != 2 || synAck.Token != "t1" {
		t.Fatalf("unexpected SYN+ACK: %+v", synAck)
	}
	ack, ok := synAck.Reply("A")
	if !ok || ack.State != StateAck || ack.Frame != 3 || ack.Source != "A" {
		t.Fatalf("unexpected ACK: %+v ok=%v", ack, ok)
	}
	if _, ok := ack.Reply("B"); ok {
		t.Fatalf("ACK must not produce a reply")
	}
}

func TestFinIsNeverTransmitted(t *testing.T) {
	testlog.Start(t)
	if StateFin.Transmitted() {
		t.Fatalf("FIN must not be transmitted")
	}
	if _, err := EncodeHandshake(Handshake{Token: "t1", Source: "A", State: StateFin}); !errors.Is(err, ErrStateNotTransmitted) {
		t.Fatalf("expected ErrStateNotTransmitted, got %v", err)
	}
	if _, err := json.Marshal(StateFin); err == nil {
		t.Fatalf("marshal FIN should fail")
	}
}

func TestEncodeHandshakeWireShape(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeHandshake(Handshake{Token: "t1", Source: "B", State: StateSynAck, Frame: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"token":"t1","source":"B","state":"SYN+ACK","frame":2}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestEncodeApplication(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeApplication("t1", map[string]int{"x": 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b) != `{"token":"t1","data":{"x":1}}` {
		t.Fatalf("unexpected payload: %s", b)
	}
	b, err = EncodeApplication("t1", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("encode raw: %v", err)
	}
	if !strings.Contains(string(b), `"data":"hi"`) {
		t.Fatalf("raw data not passed through: %s", b)
	}
	if _, err := EncodeApplication("", 1); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
