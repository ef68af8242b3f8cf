// Package protocol owns the channel wire contract.
//
// Ownership boundary:
// - handshake state enum and transitions
// - handshake/application message shapes
// - decode discrimination (state key present -> handshake)
//
// Wire shapes:
//
//	{"token":"t1","source":"A","state":"SYN","frame":1}
//	{"token":"t1","data":{...}}
package protocol
