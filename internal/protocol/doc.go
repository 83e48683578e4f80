// Package protocol defines the JSON-RPC 2.0 message model used by the
// LSP base protocol, plus Go types for the subset of LSP payloads the
// engine tracks specially (lifecycle, document synchronization,
// diagnostics).
//
// All other LSP methods are carried as an opaque method name plus raw
// JSON payload; callers marshal and unmarshal their own parameter and
// result types.
//
// Capabilities are deliberately kept as raw JSON rather than deep
// struct trees. The capability negotiator queries them by path, and
// half the fields in real server capability objects are union types
// (bool-or-object) that struct typing handles poorly.
package protocol
