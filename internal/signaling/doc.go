// Package signaling implements the relay's WebSocket signaling surface: the
// wire protocol, the message router, and the fan-out used to push directory
// updates to connected clients.
//
// The relay mediates the handshake between broadcasters and viewers. It never
// inspects offer/answer/candidate payloads; those are forwarded verbatim as
// opaque JSON values.
package signaling
