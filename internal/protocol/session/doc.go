// Package session owns channel bootstrap policy.
//
// Ownership boundary:
// - randomized retry delay for handshake bootstrap
// - session config defaults
// - target origin validation
package session
