package link

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/framechan/internal/observability"
	"github.com/danmuck/framechan/internal/protocol"
)

// postMessage fans data out to every initialized channel. data is encoded
// only once a channel is known to exist. A failed send does not stop the
// remaining sends; failures are joined.
func (s *Service) postMessage(data any) error {
	if s.registry.Len() == 0 {
		return ErrNoChannel
	}
	if !s.registry.HasAnyInitialized() {
		return ErrNoInitializedChannel
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("link: encode data: %w", err)
	}
	var errs []error
	for _, ch := range s.registry.Initialized() {
		payload, err := protocol.EncodeApplication(ch.Token, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("link: encode token=%s: %w", ch.Token, err))
			continue
		}
		if err := s.tr.Send(payload, s.cfg.TargetOrigin, ch.Peer); err != nil {
			observability.RecordApplication(s.role.String(), "out", false)
			errs = append(errs, fmt.Errorf("link: send token=%s: %w", ch.Token, err))
			continue
		}
		observability.RecordApplication(s.role.String(), "out", true)
	}
	return errors.Join(errs...)
}

// dispatch hands an inbound application message to every handler.
func (s *Service) dispatch(msg protocol.Application) {
	if _, ok := s.registry.Get(msg.Token); !ok {
		s.logger.Debug().Str("token", msg.Token).Msg("dropping message for unknown token")
		s.drop(observability.DropUnknownToken)
		return
	}
	observability.RecordApplication(s.role.String(), "in", true)
	if len(s.handlers) == 0 {
		return
	}
	ids := make([]HandlerID, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	batch := make([]*handlerEntry, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, s.handlers[id])
	}
	s.deliveries.push(delivery{data: msg.Data, handlers: batch})
}

func (s *Service) drop(reason string) {
	observability.RecordDrop(s.role.String(), reason)
}

// invoke runs one handler, absorbing its error or panic.
func (s *Service) invoke(h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerFailure(s.role.String())
			s.logger.Error().Interface("panic", r).Msg("handler panicked")
		}
	}()
	if err := h(data); err != nil {
		observability.RecordHandlerFailure(s.role.String())
		s.logger.Warn().Err(err).Msg("handler failed")
	}
}
