// Package wsport carries link messages over websocket connections. Each
// connection is one reply peer; the origin reported for inbound messages is
// the one fixed when the connection was established, never a claimed one.
package wsport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrForeignPeer  = errors.New("wsport: peer does not belong to this hub")
	ErrConnClosed   = errors.New("wsport: connection closed")
	ErrBackpressure = errors.New("wsport: outbound queue full")
)

// frame is the websocket message shape. Origin is what the sender claims and
// is never trusted.
type frame struct {
	Origin  string          `json:"origin"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// Config tunes connection timeouts and limits.
type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendQueue      int
	// CheckOrigin gates the HTTP upgrade. nil accepts every origin and leaves
	// origin policy to the link layer, which reports mismatches.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   20 * time.Second,
		PongWait:       45 * time.Second,
		MaxMessageSize: 1 << 20,
		SendQueue:      64,
	}
}

type Option func(*Hub)

func WithConfig(cfg Config) Option {
	return func(h *Hub) {
		h.cfg = cfg
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithTLSConfig sets the client TLS config used for wss dials.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(h *Hub) {
		h.tlsConfig = cfg
	}
}

// WithDialHeader adds headers to every dial handshake.
func WithDialHeader(header http.Header) Option {
	return func(h *Hub) {
		h.dialHeader = header.Clone()
	}
}

// Hub is a link.Transport over any number of websocket connections.
type Hub struct {
	origin     string
	cfg        Config
	logger     zerolog.Logger
	tlsConfig  *tls.Config
	dialHeader http.Header

	mu      sync.RWMutex
	subs    map[uint64]func(link.Envelope)
	nextSub uint64
	conns   map[*Conn]struct{}
	seq     atomic.Uint64
}

// NewHub creates a hub whose local origin is origin. Inbound frames whose
// target is not origin are dropped.
func NewHub(origin string, opts ...Option) *Hub {
	h := &Hub{
		origin: session.NormalizeOrigin(origin),
		cfg:    DefaultConfig(),
		subs:   make(map[uint64]func(link.Envelope)),
		conns:  make(map[*Conn]struct{}),
	}
	h.logger = log.Logger.With().Str("component", "wsport").Logger()
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.SendQueue <= 0 {
		h.cfg.SendQueue = DefaultConfig().SendQueue
	}
	return h
}

func (h *Hub) Origin() string {
	return h.origin
}

func (h *Hub) Send(payload []byte, targetOrigin string, via link.Peer) error {
	c, ok := via.(*Conn)
	if !ok || c == nil || c.hub != h {
		return ErrForeignPeer
	}
	msg, err := json.Marshal(frame{Origin: h.origin, Target: targetOrigin, Payload: payload})
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

func (h *Hub) Subscribe(fn func(link.Envelope)) func() {
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Handler upgrades requests into hub connections. The remote origin is the
// request's Origin header.
func (h *Hub) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if h.cfg.CheckOrigin == nil {
				return true
			}
			return h.cfg.CheckOrigin(r)
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
			return
		}
		c := h.attach(ws, r.Header.Get("Origin"))
		h.logger.Info().Str("peer", c.id).Str("origin", c.remoteOrigin).Msg("peer connected")
	})
}

// Dial connects to a hub at rawURL. The returned Conn is the frame reference
// for an initiating link.Service; its origin is derived from rawURL.
func (h *Hub) Dial(ctx context.Context, rawURL string) (*Conn, error) {
	remote, err := OriginFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	header := h.dialHeader.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Origin", h.origin)
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = h.tlsConfig
	ws, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsport: dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("wsport: dial %s: %w", rawURL, err)
	}
	return h.attach(ws, remote), nil
}

// Peers returns the live connections.
func (h *Hub) Peers() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Close() {
	for _, c := range h.Peers() {
		c.Close()
	}
}

func (h *Hub) attach(ws *websocket.Conn, remoteOrigin string) *Conn {
	c := &Conn{
		hub:          h,
		ws:           ws,
		id:           fmt.Sprintf("ws-%d", h.seq.Add(1)),
		remoteOrigin: session.NormalizeOrigin(remoteOrigin),
		out:          make(chan []byte, h.cfg.SendQueue),
		done:         make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) publish(env link.Envelope) {
	h.mu.RLock()
	subs := make([]func(link.Envelope), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()
	for _, fn := range subs {
		fn(env)
	}
}

// OriginFromURL maps ws/wss URLs to their http/https origin.
func OriginFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("wsport: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("wsport: missing host in %q", rawURL)
	}
	return scheme + "://" + u.Host, nil
}
