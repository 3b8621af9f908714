// Package tls implements the client side of TLS for outbound mail
// connections: one immutable process-wide engine, a per-connection handshake
// orchestrator with post-handshake peer verification, and passivation of
// negotiated sessions into an external cache shared across processes.
//
// Peer trust never aborts a handshake by itself. The engine always completes
// the cryptographic negotiation and records the verification outcome on the
// connection; only explicitly requested enforcement turns a trust or
// hostname failure into a connection failure. This is what allows
// opportunistic TLS to servers with self-signed or mismatched certificates.
package tls
