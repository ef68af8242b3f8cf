// Package memory is an in-process rendition of a browser-style message
// primitive: fire-and-forget sends addressed to a peer handle, filtered by
// the recipient's origin and delivered asynchronously.
package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/framechan/internal/link"
	"github.com/danmuck/framechan/internal/protocol/session"
)

var (
	ErrForeignPeer    = errors.New("memory: peer does not belong to this bus")
	ErrEndpointClosed = errors.New("memory: endpoint closed")
)

// Verdict decides what happens to one message in flight.
type Verdict int

const (
	Deliver Verdict = iota
	Drop
	Duplicate
)

// Filter inspects a message before it is queued for the recipient.
type Filter func(from, to *Endpoint, payload []byte) Verdict

// Bus connects endpoints created from it.
type Bus struct {
	mu        sync.RWMutex
	filter    Filter
	endpoints []*Endpoint
	seq       atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{}
}

// SetFilter installs f for every later send. nil restores plain delivery.
func (b *Bus) SetFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
}

func (b *Bus) currentFilter() Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

// Endpoint creates a participant whose messages are reported with origin.
func (b *Bus) Endpoint(origin string) *Endpoint {
	e := &Endpoint{
		bus:    b,
		origin: session.NormalizeOrigin(origin),
		id:     fmt.Sprintf("mem-%d", b.seq.Add(1)),
		subs:   make(map[uint64]func(link.Envelope)),
		inbox:  newInbox(),
	}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, e)
	b.mu.Unlock()
	go e.run()
	return e
}

func (b *Bus) Close() {
	b.mu.Lock()
	eps := b.endpoints
	b.endpoints = nil
	b.mu.Unlock()
	for _, e := range eps {
		e.Close()
	}
}

// Endpoint is both a link.Transport for its owner and a link.Peer for others.
type Endpoint struct {
	bus    *Bus
	origin string
	id     string

	mu      sync.Mutex
	subs    map[uint64]func(link.Envelope)
	nextSub uint64

	inbox *inbox
}

func (e *Endpoint) PeerID() string {
	return e.id
}

func (e *Endpoint) Origin() string {
	return e.origin
}

// Send queues payload for via. A target origin that does not match the
// recipient drops the message silently, as a browser would.
func (e *Endpoint) Send(payload []byte, targetOrigin string, via link.Peer) error {
	to, ok := via.(*Endpoint)
	if !ok || to == nil || to.bus != e.bus {
		return ErrForeignPeer
	}
	if e.inbox.isClosed() {
		return ErrEndpointClosed
	}
	targetOrigin = session.NormalizeOrigin(targetOrigin)
	if targetOrigin != session.AnyOrigin && targetOrigin != to.origin {
		return nil
	}
	copies := 1
	if f := e.bus.currentFilter(); f != nil {
		switch f(e, to, payload) {
		case Drop:
			return nil
		case Duplicate:
			copies = 2
		}
	}
	for i := 0; i < copies; i++ {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		to.inbox.push(link.Envelope{Payload: buf, Origin: e.origin, Reply: e})
	}
	return nil
}

func (e *Endpoint) Subscribe(fn func(link.Envelope)) func() {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Endpoint) Close() {
	e.inbox.close()
}

func (e *Endpoint) run() {
	for {
		env, ok := e.inbox.pop()
		if !ok {
			return
		}
		e.mu.Lock()
		subs := make([]func(link.Envelope), 0, len(e.subs))
		for _, fn := range e.subs {
			subs = append(subs, fn)
		}
		e.mu.Unlock()
		for _, fn := range subs {
			fn(env)
		}
	}
}

type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []link.Envelope
	closed bool
}

func newInbox() *inbox {
	q := &inbox{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *inbox) push(env link.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, env)
	q.cond.Signal()
}

func (q *inbox) pop() (link.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return link.Envelope{}, false
	}
	env := q.items[0]
	q.items[0] = link.Envelope{}
	q.items = q.items[1:]
	return env, true
}

func (q *inbox) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
