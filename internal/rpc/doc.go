// Package rpc implements the JSON-RPC base protocol side of an LSP
// connection: Content-Length framing, request/response correlation,
// and inbound message dispatch.
//
// A Conn owns one dedicated read goroutine that decodes frames and
// routes them: responses to the pending-request registry, server
// notifications and requests to registered handlers. Callers never
// block on the read loop; a request's caller waits only on its own
// Handle. Outbound frames are serialized through the Writer's mutex so
// bodies are never interleaved.
package rpc
