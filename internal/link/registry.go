package link

import (
	"sort"

	"github.com/danmuck/framechan/internal/protocol"
)

// Unknown is the destination of a channel whose remote identity is not yet known.
const Unknown = "UNKNOWN"

// Channel is the session state bound to one handshake token.
type Channel struct {
	Token       string
	Destination string
	State       protocol.State
	Initialized bool
	// Peer is re-derived from every accepted handshake step; it is not owned.
	Peer Peer
}

// ChannelInfo is a read-only snapshot of one Channel.
type ChannelInfo struct {
	Token       string `json:"token"`
	Destination string `json:"destination"`
	State       string `json:"state"`
	Initialized bool   `json:"initialized"`
	PeerID      string `json:"peer_id,omitempty"`
}

func (c *Channel) info() ChannelInfo {
	out := ChannelInfo{
		Token:       c.Token,
		Destination: c.Destination,
		State:       c.State.String(),
		Initialized: c.Initialized,
	}
	if c.Peer != nil {
		out.PeerID = c.Peer.PeerID()
	}
	return out
}

// Registry maps tokens to channels. It is not safe for concurrent use; the
// owning Service touches it only from its loop goroutine.
type Registry struct {
	channels map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

func (r *Registry) Put(token string, ch *Channel) {
	r.channels[token] = ch
}

func (r *Registry) Get(token string) (*Channel, bool) {
	ch, ok := r.channels[token]
	return ch, ok
}

func (r *Registry) Clear() {
	clear(r.channels)
}

func (r *Registry) Len() int {
	return len(r.channels)
}

func (r *Registry) HasAnyInitialized() bool {
	for _, ch := range r.channels {
		if ch.Initialized {
			return true
		}
	}
	return false
}

// AnyProgressed reports whether some channel has moved past SYN.
func (r *Registry) AnyProgressed() bool {
	for _, ch := range r.channels {
		if ch.State.Progressed() {
			return true
		}
	}
	return false
}

// Initialized returns initialized channels ordered by token.
func (r *Registry) Initialized() []*Channel {
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.Initialized {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token < out[j].Token
	})
	return out
}

func (r *Registry) Snapshot() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token < out[j].Token
	})
	return out
}
