// Package client composes the frame codec, request registry,
// lifecycle state machine, capability negotiator, and document store
// into a single LSP client engine over a caller-supplied transport.
//
// The Client owns the protocol conversation but not the connection's
// lifetime source: the stream may be a child process's stdio, a
// socket, or an in-memory pipe. When the stream fails, every pending
// request resolves with a connection-closed outcome and the lifecycle
// moves to its terminal state.
package client
