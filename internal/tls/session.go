package tls

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
)

// Session blobs travel to the external cache as an opaque byte string:
// a length-prefixed session ticket followed by the serialized session state.
const sessionBlobHeaderLen = 4

// passivateSession serializes a negotiated client session for the external
// cache.
func passivateSession(cs *tls.ClientSessionState) ([]byte, error) {
	ticket, state, err := cs.ResumptionState()
	if err != nil {
		return nil, fmt.Errorf("extract resumption state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("session has no resumption state")
	}
	stateBytes, err := state.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialize session state: %w", err)
	}

	blob := make([]byte, sessionBlobHeaderLen+len(ticket)+len(stateBytes))
	binary.BigEndian.PutUint32(blob, uint32(len(ticket)))
	copy(blob[sessionBlobHeaderLen:], ticket)
	copy(blob[sessionBlobHeaderLen+len(ticket):], stateBytes)
	return blob, nil
}

// activateSession reconstructs a client session from a cached blob. A
// corrupt blob is an ordinary error; the caller treats it as a cache miss.
func activateSession(blob []byte) (*tls.ClientSessionState, error) {
	if len(blob) < sessionBlobHeaderLen {
		return nil, fmt.Errorf("session blob too short: %d bytes", len(blob))
	}
	ticketLen := int(binary.BigEndian.Uint32(blob))
	if ticketLen < 0 || sessionBlobHeaderLen+ticketLen > len(blob) {
		return nil, fmt.Errorf("session blob ticket length %d exceeds blob size %d", ticketLen, len(blob))
	}
	ticket := blob[sessionBlobHeaderLen : sessionBlobHeaderLen+ticketLen]
	stateBytes := blob[sessionBlobHeaderLen+ticketLen:]

	state, err := tls.ParseSessionState(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return tls.NewResumptionState(ticket, state)
}

// sessionAdapter binds a single connection to the external session cache.
// The engine installs one per connection as the crypto engine's client
// session store, which lets the save path receive the connection directly
// instead of recovering it from shared state. It carries the handshake
// context so cache traffic honors the caller's cancellation and deadline.
type sessionAdapter struct {
	engine *Engine
	conn   *Conn
	ctx    context.Context
}

func (a *sessionAdapter) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

// Get loads cached session material before the handshake so the engine can
// attempt an abbreviated negotiation. Every failure mode is a miss.
func (a *sessionAdapter) Get(string) (*tls.ClientSessionState, bool) {
	if !a.engine.clientCaching || a.conn.cacheKey == "" {
		return nil, false
	}

	blob, ok := a.engine.cache.Lookup(a.context(), a.conn.cacheKey)
	if !ok {
		return nil, false
	}

	session, err := activateSession(blob)
	if err != nil {
		if a.engine.cfg.Verbosity >= 3 {
			a.engine.logger.LogSessionEvent("discarding unusable cached session",
				a.conn.cacheKey, err)
		}
		return nil, false
	}

	a.conn.primed = true
	return session, true
}

// Put names the newly negotiated session after the connection's cache key
// and forwards it to the external cache. The adapter keeps no reference to
// the session afterwards, regardless of the save outcome.
func (a *sessionAdapter) Put(_ string, cs *tls.ClientSessionState) {
	if cs == nil {
		return
	}
	if !a.engine.clientCaching || a.conn.cacheKey == "" {
		return
	}

	blob, err := passivateSession(cs)
	if err != nil {
		if a.engine.cfg.Verbosity >= 3 {
			a.engine.logger.LogSessionEvent("session passivation failed",
				a.conn.cacheKey, err)
		}
		return
	}
	a.engine.cache.Save(a.context(), a.conn.cacheKey, blob)
}

var _ tls.ClientSessionCache = (*sessionAdapter)(nil)
