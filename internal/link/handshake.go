package link

import (
	"github.com/danmuck/framechan/internal/observability"
	"github.com/danmuck/framechan/internal/protocol"
	"github.com/danmuck/framechan/internal/protocol/session"
)

func (s *Service) handleHandshake(h protocol.Handshake, reply Peer) {
	observability.RecordHandshake(s.role.String(), "in", h.State.String())
	switch h.State {
	case protocol.StateSyn:
		s.onSyn(h, reply)
	case protocol.StateSynAck:
		s.onSynAck(h, reply)
	case protocol.StateAck:
		s.onAck(h, reply)
	}
}

// onSyn creates or refreshes the channel for an unsolicited SYN and answers
// SYN+ACK. An initialized channel is never reset by a duplicate SYN.
func (s *Service) onSyn(h protocol.Handshake, reply Peer) {
	if reply == nil {
		s.logger.Warn().Str("token", h.Token).Msg("SYN without reply peer")
		s.drop(observability.DropStaleHandshake)
		return
	}
	if ch, ok := s.registry.Get(h.Token); ok && ch.Initialized {
		s.logger.Debug().Str("token", h.Token).Msg("ignoring SYN for initialized channel")
		s.drop(observability.DropStaleHandshake)
		return
	}
	s.registry.Put(h.Token, &Channel{
		Token:       h.Token,
		Destination: h.Source,
		State:       protocol.StateSynAck,
		Initialized: false,
		Peer:        reply,
	})
	s.logger.Debug().
		Str("token", h.Token).
		Str("source", h.Source).
		Uint64("frame", h.Frame).
		Msg("SYN accepted")
	s.replyTo(h, reply)
}

// onSynAck completes the handshake for the side that sent SYN.
func (s *Service) onSynAck(h protocol.Handshake, reply Peer) {
	ch, ok := s.pending(h)
	if !ok {
		return
	}
	ch.Destination = h.Source
	ch.State = protocol.StateAck
	if reply != nil {
		ch.Peer = reply
	}
	s.initialize(ch)
	s.replyTo(h, ch.Peer)
}

// onAck completes the handshake for the side that answered SYN. FIN is an
// inert bookkeeping marker; nothing is sent.
func (s *Service) onAck(h protocol.Handshake, reply Peer) {
	ch, ok := s.pending(h)
	if !ok {
		return
	}
	ch.Destination = h.Source
	ch.State = protocol.StateFin
	if reply != nil {
		ch.Peer = reply
	}
	s.initialize(ch)
}

// pending returns the channel a SYN+ACK or ACK may advance. Unknown tokens
// and initialized channels are ignored without a reply.
func (s *Service) pending(h protocol.Handshake) (*Channel, bool) {
	ch, ok := s.registry.Get(h.Token)
	if !ok || ch.Initialized {
		s.logger.Debug().
			Str("token", h.Token).
			Str("state", h.State.String()).
			Bool("known", ok).
			Msg("ignoring stale handshake")
		s.drop(observability.DropStaleHandshake)
		return nil, false
	}
	return ch, true
}

func (s *Service) initialize(ch *Channel) {
	ch.Initialized = true
	s.cancelRetry()
	s.markReady()
	observability.RecordInitialized(s.role.String())
	s.logger.Info().
		Str("token", ch.Token).
		Str("destination", ch.Destination).
		Str("state", ch.State.String()).
		Msg("channel initialized")
}

func (s *Service) replyTo(h protocol.Handshake, via Peer) {
	next, ok := h.Reply(s.cfg.Identity)
	if !ok {
		return
	}
	s.sendHandshake(next, via)
}

func (s *Service) sendHandshake(h protocol.Handshake, via Peer) {
	payload, err := protocol.EncodeHandshake(h)
	if err != nil {
		s.logger.Error().Err(err).Str("token", h.Token).Msg("encode handshake")
		return
	}
	if err := s.tr.Send(payload, s.cfg.TargetOrigin, via); err != nil {
		s.logger.Warn().Err(err).Str("token", h.Token).Str("state", h.State.String()).Msg("send handshake")
		return
	}
	observability.RecordHandshake(s.role.String(), "out", h.State.String())
}

// armRetry schedules the next bootstrap after a randomized delay.
func (s *Service) armRetry() {
	delay := session.NextRetryDelay(s.cfg.Retry, s.attempts+1, s.rng)
	s.retryGen++
	gen := s.retryGen
	s.retry = s.sched.AfterFunc(delay, func() {
		s.post(func() { s.onRetry(gen) })
	})
	s.logger.Trace().Dur("delay", delay).Uint64("gen", gen).Msg("bootstrap armed")
}

func (s *Service) cancelRetry() {
	if s.retry == nil {
		return
	}
	s.retry.Stop()
	s.retry = nil
	s.retryGen++
}

func (s *Service) onRetry(gen uint64) {
	// A firing that was already queued when the timer was cancelled or
	// replaced is dropped here; bootstrap's own guard covers the rest.
	if s.retry == nil || gen != s.retryGen {
		return
	}
	s.retry = nil
	if limit := s.cfg.Retry.MaxAttempts; limit > 0 && s.attempts >= limit {
		s.logger.Warn().Int("attempts", s.attempts).Msg("bootstrap exhausted")
		s.reportError(ErrHandshakeExhausted)
		return
	}
	s.bootstrap()
}

// bootstrap mints a fresh SYN unless some channel already progressed past
// SYN, then rearms the timer while no channel is initialized.
func (s *Service) bootstrap() {
	if s.registry.HasAnyInitialized() {
		return
	}
	if !s.registry.AnyProgressed() {
		s.registry.Clear()
		token := s.newToken()
		s.registry.Put(token, &Channel{
			Token:       token,
			Destination: Unknown,
			State:       protocol.StateSyn,
			Peer:        s.cfg.Frame,
		})
		s.attempts++
		observability.RecordBootstrap(s.role.String())
		s.logger.Debug().Str("token", token).Int("attempt", s.attempts).Msg("bootstrap SYN")
		s.sendHandshake(protocol.Handshake{
			Token:  token,
			Source: s.cfg.Identity,
			State:  protocol.StateSyn,
			Frame:  1,
		}, s.cfg.Frame)
	}
	s.armRetry()
}
