// Package link owns one logical channel between two message-passing endpoints.
//
// Ownership boundary:
// - channel registry keyed by handshake token
// - SYN -> SYN+ACK -> ACK handshake and its randomized bootstrap timer
// - application message fan-out and handler dispatch
//
// The side constructed with a frame reference is the initiator and runs the
// bootstrap timer. The other side only answers, replying through the peer
// captured from each inbound message.
//
// Every registry and handler-table access runs on the service loop goroutine.
// Transport events, timer firings and API calls are queued onto that loop.
// Handlers and the error callback run on a separate delivery goroutine, so
// they may call back into the Service.
//
// Both sides constructed as initiators is an accepted degenerate case: each
// mints its own token and both channels may complete independently.
package link
