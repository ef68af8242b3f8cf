package link

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/framechan/internal/observability"
	"github.com/danmuck/framechan/internal/protocol"
	"github.com/danmuck/framechan/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Role is decided by whether the Service holds a frame reference.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Config configures one Service.
type Config struct {
	// TargetOrigin is the only origin accepted inbound and the target of every send.
	TargetOrigin string
	// Frame addresses the remote directly. Non-nil selects the initiator role.
	Frame Peer
	// Identity is announced as the handshake source. Empty generates one.
	Identity string
	Retry    session.RetryConfig
}

// FromSession builds a Config carrying sc's target origin and retry policy.
func FromSession(sc session.Config) Config {
	return Config{TargetOrigin: sc.TargetOrigin, Retry: sc.Retry}
}

// Session returns the origin and retry part of c.
func (c Config) Session() session.Config {
	return session.Config{TargetOrigin: c.TargetOrigin, Retry: c.Retry}
}

// Handler receives the data of every application message on a known token.
type Handler func(data json.RawMessage) error

// HandlerID identifies a registered Handler.
type HandlerID uint64

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithScheduler(sched Scheduler) Option {
	return func(s *Service) {
		if sched != nil {
			s.sched = sched
		}
	}
}

// WithTokenSource replaces the handshake token generator.
func WithTokenSource(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

// WithErrorHandler receives origin mismatches and handshake exhaustion.
// It runs on the delivery goroutine.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Service) {
		s.onError = fn
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(s *Service) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// Service is the public surface of one channel endpoint.
type Service struct {
	tr       Transport
	cfg      Config
	role     Role
	logger   zerolog.Logger
	sched    Scheduler
	newToken func() string
	onError  func(error)
	rng      *rand.Rand

	// loop-owned
	registry    *Registry
	handlers    map[HandlerID]*handlerEntry
	nextHandler HandlerID
	retry       Timer
	retryGen    uint64
	attempts    int
	isReady     bool
	started     bool

	events     chan func()
	quit       chan struct{}
	done       chan struct{}
	ready      chan struct{}
	deliveries *deliveryQueue

	closeOnce   sync.Once
	unsubscribe func()
}

// New validates cfg and starts the service loop. Call Start to subscribe
// to the transport and, for the initiator, schedule the first bootstrap.
func New(tr Transport, cfg Config, opts ...Option) (*Service, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, ErrTransportRequired)
	}
	sess := cfg.Session()
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	sess = sess.WithDefaults()
	cfg.TargetOrigin = session.NormalizeOrigin(sess.TargetOrigin)
	cfg.Retry = sess.Retry
	cfg.Identity = strings.TrimSpace(cfg.Identity)
	if cfg.Identity == "" {
		cfg.Identity = uuid.NewString()
	}

	role := RoleResponder
	if cfg.Frame != nil {
		role = RoleInitiator
	}
	s := &Service{
		tr:         tr,
		cfg:        cfg,
		role:       role,
		sched:      wallScheduler{},
		newToken:   uuid.NewString,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		registry:   NewRegistry(),
		handlers:   make(map[HandlerID]*handlerEntry),
		events:     make(chan func(), 256),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
		deliveries: newDeliveryQueue(),
	}
	s.logger = log.Logger.With().Str("component", "link").Logger()
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().
		Str("role", role.String()).
		Str("identity", cfg.Identity).
		Logger()

	go s.run()
	go s.deliver()
	return s, nil
}

// Start subscribes to the transport. The initiator also arms the bootstrap
// timer. Calling Start more than once has no further effect.
func (s *Service) Start() error {
	return s.do(func() {
		if s.started {
			return
		}
		s.started = true
		s.unsubscribe = s.tr.Subscribe(func(env Envelope) {
			s.post(func() { s.receive(env) })
		})
		if s.role == RoleInitiator {
			s.armRetry()
		}
		s.logger.Info().Str("target_origin", s.cfg.TargetOrigin).Msg("link started")
	})
}

// Close stops the loop, the retry timer and the transport subscription.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		s.cancelRetry()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.deliveries.close()
		s.logger.Debug().Msg("link closed")
	})
	return nil
}

// Connect runs a bootstrap attempt now instead of waiting for the timer.
func (s *Service) Connect() error {
	var err error
	if doErr := s.do(func() {
		if s.cfg.Frame == nil {
			err = ErrMissingFrameReference
			return
		}
		if s.registry.HasAnyInitialized() {
			return
		}
		s.cancelRetry()
		s.bootstrap()
	}); doErr != nil {
		return doErr
	}
	return err
}

func (s *Service) AddHandler(h Handler) (HandlerID, error) {
	if h == nil {
		return 0, ErrNilHandler
	}
	var id HandlerID
	err := s.do(func() {
		s.nextHandler++
		id = s.nextHandler
		s.handlers[id] = &handlerEntry{fn: h}
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveHandler unregisters id. Messages already queued for delivery skip
// it; a call already running is not interrupted.
func (s *Service) RemoveHandler(id HandlerID) error {
	return s.do(func() {
		if h, ok := s.handlers[id]; ok {
			h.removed.Store(true)
			delete(s.handlers, id)
		}
	})
}

// PostMessage sends data to every initialized channel. Returning nil does
// not imply remote receipt.
func (s *Service) PostMessage(data any) error {
	var sendErr error
	if err := s.do(func() {
		sendErr = s.postMessage(data)
	}); err != nil {
		return err
	}
	return sendErr
}

func (s *Service) Channels() []ChannelInfo {
	var out []ChannelInfo
	if err := s.do(func() {
		out = s.registry.Snapshot()
	}); err != nil {
		return nil
	}
	return out
}

// Initialized reports whether at least one channel completed the handshake.
func (s *Service) Initialized() bool {
	var ok bool
	_ = s.do(func() {
		ok = s.registry.HasAnyInitialized()
	})
	return ok
}

// Ready is closed when the first channel is initialized.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Identity() string {
	return s.cfg.Identity
}

func (s *Service) Role() Role {
	return s.role
}

func (s *Service) TargetOrigin() string {
	return s.cfg.TargetOrigin
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (s *Service) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() {
		defer close(finished)
		fn()
	}:
	case <-s.quit:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting.
func (s *Service) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.quit:
	}
}

func (s *Service) receive(env Envelope) {
	origin := session.NormalizeOrigin(env.Origin)
	if origin != s.cfg.TargetOrigin {
		s.drop(observability.DropOriginMismatch)
		s.reportError(&OriginMismatchError{Got: env.Origin, Want: s.cfg.TargetOrigin})
		return
	}
	msg, err := protocol.Decode(env.Payload)
	if err != nil {
		s.logger.Debug().Err(err).Int("bytes", len(env.Payload)).Msg("dropping malformed message")
		s.drop(observability.DropMalformed)
		return
	}
	if msg.IsHandshake() {
		s.handleHandshake(*msg.Handshake, env.Reply)
		return
	}
	s.dispatch(*msg.Application)
}

func (s *Service) reportError(err error) {
	if s.onError == nil {
		s.logger.Error().Err(err).Msg("link error")
		return
	}
	s.deliveries.push(delivery{err: err})
}

func (s *Service) markReady() {
	if s.isReady {
		return
	}
	s.isReady = true
	close(s.ready)
}
