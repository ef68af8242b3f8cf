package link

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/framechan/internal/protocol"
	"github.com/danmuck/framechan/internal/protocol/session"
	"github.com/danmuck/framechan/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

// syncBuffer is written by the loop goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInjectedLoggerReceivesLinkEvents(t *testing.T) {
	testlog.Start(t)
	var out syncBuffer
	f := newFixtureWith(t, Config{TargetOrigin: hostOrigin, Identity: "B"},
		[]Option{WithLogger(zerolog.New(&out).Level(zerolog.DebugLevel))})
	establish(t, f, "t1", testPeer("host"))

	logs := out.String()
	for _, want := range []string{`"message":"link started"`, `"message":"channel initialized"`, `"identity":"B"`, `"role":"responder"`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log output missing %s:\n%s", want, logs)
		}
	}
}

func TestSeededRandFixesBootstrapDelay(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		TargetOrigin: frameOrigin,
		Frame:        testPeer("frame"),
		Identity:     "A",
		Retry:        session.RetryConfig{Window: 2 * time.Second, Floor: time.Millisecond},
	}
	a := newFixtureWith(t, cfg, []Option{WithRand(rand.New(rand.NewSource(42)))})
	b := newFixtureWith(t, cfg, []Option{WithRand(rand.New(rand.NewSource(42)))})

	want := session.NextRetryDelay(cfg.Retry.WithDefaults(), 1, rand.New(rand.NewSource(42)))
	if got := a.sched.timer(0).delay; got != want {
		t.Fatalf("seeded delay %v, want %v", got, want)
	}
	if got := b.sched.timer(0).delay; got != want {
		t.Fatalf("second service delay %v, want %v", got, want)
	}
}

func TestNewAppliesSessionDefaults(t *testing.T) {
	testlog.Start(t)
	if _, err := New(&recordingTransport{}, FromSession(session.Config{TargetOrigin: "frame.example"})); !errors.Is(err, ErrConfiguration) || !errors.Is(err, session.ErrInvalidOrigin) {
		t.Fatalf("expected invalid origin configuration error, got %v", err)
	}

	cfg := FromSession(session.Config{
		TargetOrigin: frameOrigin + "/",
		Retry:        session.RetryConfig{Window: 300 * time.Millisecond},
	})
	cfg.Frame = testPeer("frame")
	f := newFixture(t, cfg)
	if f.svc.TargetOrigin() != frameOrigin {
		t.Fatalf("target origin %q, want %q", f.svc.TargetOrigin(), frameOrigin)
	}
	def := session.DefaultRetryConfig()
	got := f.svc.cfg.Retry
	if got.Window != 300*time.Millisecond || got.Floor != def.Floor || got.MaxWindow != def.MaxWindow || got.Multiplier != def.Multiplier {
		t.Fatalf("retry defaults not applied: %+v", got)
	}
	if d := f.sched.timer(0).delay; d < def.Floor || d >= 300*time.Millisecond {
		t.Fatalf("bootstrap delay %v outside configured window", d)
	}

	f.sched.fireLatest(t)
	f.sync(t)
	msgs := f.tr.messages()
	if len(msgs) != 1 || msgs[0].handshake(t).State != protocol.StateSyn || msgs[0].target != frameOrigin {
		t.Fatalf("expected one SYN to the normalized origin, got %d messages", len(msgs))
	}
}
