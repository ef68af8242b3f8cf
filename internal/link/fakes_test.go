package link

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/framechan/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	hostOrigin  = "https://host.example"
	frameOrigin = "https://frame.example"
)

type testPeer string

func (p testPeer) PeerID() string { return string(p) }

type sentMessage struct {
	payload []byte
	target  string
	via     Peer
}

func (m sentMessage) handshake(t *testing.T) protocol.Handshake {
	t.Helper()
	msg, err := protocol.Decode(m.payload)
	if err != nil || !msg.IsHandshake() {
		t.Fatalf("expected handshake, got %s err=%v", m.payload, err)
	}
	return *msg.Handshake
}

// recordingTransport captures sends and lets a test inject inbound events.
type recordingTransport struct {
	mu      sync.Mutex
	sent    []sentMessage
	fn      func(Envelope)
	failFor map[Peer]error
}

func (r *recordingTransport) Send(payload []byte, targetOrigin string, via Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[via]; ok {
		return err
	}
	r.sent = append(r.sent, sentMessage{payload: append([]byte(nil), payload...), target: targetOrigin, via: via})
	return nil
}

func (r *recordingTransport) Subscribe(fn func(Envelope)) func() {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.fn = nil
		r.mu.Unlock()
	}
}

func (r *recordingTransport) inject(origin string, reply Peer, payload string) {
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		fn(Envelope{Payload: []byte(payload), Origin: origin, Reply: reply})
	}
}

func (r *recordingTransport) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

// manualScheduler never fires on its own; tests call fire.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualScheduler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *manualScheduler) timer(i int) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[i]
}

// fireLatest runs the most recently armed timer callback.
func (m *manualScheduler) fireLatest(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	if len(m.timers) == 0 {
		m.mu.Unlock()
		t.Fatalf("no timer armed")
	}
	tm := m.timers[len(m.timers)-1]
	m.mu.Unlock()
	tm.fn()
}

func sequentialTokens(tokens ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[i%len(tokens)]
		i++
		return tok
	}
}

type fixture struct {
	svc   *Service
	tr    *recordingTransport
	sched *manualScheduler
	errs  chan error
}

func newFixture(t *testing.T, cfg Config, tokens ...string) *fixture {
	t.Helper()
	return newFixtureWith(t, cfg, nil, tokens...)
}

// newFixtureWith applies opts after the fixture defaults.
func newFixtureWith(t *testing.T, cfg Config, opts []Option, tokens ...string) *fixture {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"t1", "t2", "t3"}
	}
	f := &fixture{
		tr:    &recordingTransport{failFor: map[Peer]error{}},
		sched: &manualScheduler{},
		errs:  make(chan error, 16),
	}
	base := []Option{
		WithScheduler(f.sched),
		WithTokenSource(sequentialTokens(tokens...)),
		WithLogger(zerolog.Nop()),
		WithErrorHandler(func(err error) { f.errs <- err }),
	}
	svc, err := New(f.tr, cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	f.svc = svc
	return f
}

// sync waits until every event queued so far has been handled.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	if err := f.svc.do(func() {}); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func (f *fixture) channel(t *testing.T, token string) (Channel, bool) {
	t.Helper()
	var out Channel
	var ok bool
	if err := f.svc.do(func() {
		var ch *Channel
		ch, ok = f.svc.registry.Get(token)
		if ok {
			out = *ch
		}
	}); err != nil {
		t.Fatalf("channel: %v", err)
	}
	return out, ok
}

func (f *fixture) retryLive(t *testing.T) bool {
	t.Helper()
	var live bool
	_ = f.svc.do(func() { live = f.svc.retry != nil })
	return live
}

func handshakeJSON(t *testing.T, h protocol.Handshake) string {
	t.Helper()
	b, err := protocol.EncodeHandshake(h)
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}
	return string(b)
}

func appJSON(t *testing.T, token string, data any) string {
	t.Helper()
	b, err := protocol.EncodeApplication(token, data)
	if err != nil {
		t.Fatalf("encode application: %v", err)
	}
	return string(b)
}

func waitData(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for handler")
		return nil
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error report")
		return nil
	}
}
