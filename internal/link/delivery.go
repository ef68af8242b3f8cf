package link

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// handlerEntry is shared between the loop and the delivery goroutine.
// removed is set by RemoveHandler so queued messages skip the handler.
type handlerEntry struct {
	fn      Handler
	removed atomic.Bool
}

// delivery is either one message for a handler batch or one error report.
type delivery struct {
	data     json.RawMessage
	handlers []*handlerEntry
	err      error
}

// deliveryQueue is unbounded so the loop never waits on a slow handler.
type deliveryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []delivery
	closed bool
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *deliveryQueue) push(d delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, d)
	q.cond.Signal()
}

// pop blocks until an item is available. It drains queued items after close.
func (q *deliveryQueue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return delivery{}, false
	}
	d := q.items[0]
	q.items[0] = delivery{}
	q.items = q.items[1:]
	return d, true
}

func (q *deliveryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (s *Service) deliver() {
	for {
		d, ok := s.deliveries.pop()
		if !ok {
			return
		}
		if d.err != nil {
			if s.onError != nil {
				s.onError(d.err)
			}
			continue
		}
		for _, h := range d.handlers {
			if h.removed.Load() {
				continue
			}
			s.invoke(h.fn, d.data)
		}
	}
}
