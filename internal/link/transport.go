package link

// Peer is an opaque reply capability handed out by a Transport. It is only
// valid as the via argument of the Transport that produced it.
type Peer interface {
	PeerID() string
}

// Envelope is one inbound transport event.
type Envelope struct {
	Payload []byte
	// Origin is the sender origin as reported by the transport.
	Origin string
	Reply  Peer
}

// Transport is the raw message primitive. Send must not block on the
// receiver; delivery is asynchronous and may drop, duplicate or reorder.
type Transport interface {
	Send(payload []byte, targetOrigin string, via Peer) error
	Subscribe(fn func(Envelope)) (unsubscribe func())
}
