package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConnectRequest describes one outbound TLS connection attempt.
type ConnectRequest struct {
	// Hostname is the peer name used for SNI and, when enforced, for
	// certificate name matching.
	Hostname string

	// CacheKey names the peer in the external session cache. Empty
	// disables session caching for this connection.
	CacheKey string

	// EnforceTrust requires a trust-verified certificate chain: the
	// handshake succeeds cryptographically but Connect reports failure
	// when the chain does not verify.
	EnforceTrust bool

	// EnforcePeerName requires the certificate to name the peer hostname.
	// A name can only match over a trust-verified chain, so an untrusted
	// chain fails the connection under this flag even without
	// EnforceTrust.
	EnforcePeerName bool

	// Timeout bounds the handshake. Zero means no handshake deadline
	// beyond what the context carries.
	Timeout time.Duration
}

// Connect negotiates a TLS session as a client over the caller's established
// transport. On success the returned Conn carries the secure channel and the
// verification results; the caller speaks through it and eventually calls
// Stop. On failure the per-connection state has already been torn down and
// the caller owns the raw transport again.
//
// A cryptographically successful handshake still fails here when enforcement
// is requested and the peer does not measure up: an enforced hostname
// mismatch tears the session down abruptly, without close-notify, so the
// peer cannot mistake the abort for an orderly end of a trusted session.
func (e *Engine) Connect(ctx context.Context, raw net.Conn, req ConnectRequest) (*Conn, error) {
	start := time.Now()
	e.reseedEntropy()

	c := &Conn{
		id:              uuid.New().String(),
		engine:          e,
		raw:             raw,
		cacheKey:        req.CacheKey,
		enforceTrust:    req.EnforceTrust,
		enforceHostname: req.EnforcePeerName,
	}
	e.registry.insert(c)

	cfg := e.base.Clone()
	cfg.ServerName = req.Hostname
	cfg.ClientSessionCache = &sessionAdapter{engine: e, conn: c, ctx: ctx}

	c.tconn = tls.Client(raw, cfg)
	e.metrics.recordConnOpened()

	if e.cfg.Verbosity >= 1 {
		e.logger.LogHandshakeStart(c.id, req.Hostname, req.EnforceTrust, req.EnforcePeerName)
	}

	if req.Timeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(req.Timeout)); err != nil {
			e.metrics.recordHandshakeError("deadline")
			c.Stop(true)
			return nil, NewTLSErrorWithCause(ErrorTypeConnectionState, "cannot arm handshake deadline", err)
		}
	}

	if err := c.tconn.HandshakeContext(ctx); err != nil {
		// A session loaded from the cache may be what broke the
		// handshake. Drop it so the next attempt starts fresh.
		if c.primed {
			e.evictSession(ctx, c.cacheKey)
		}
		errType := ErrorTypeHandshakeFailure
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			errType = ErrorTypeHandshakeTimeout
		}
		e.metrics.recordHandshakeError(string(errType))
		e.logger.LogHandshakeFailure(c.id, req.Hostname, err)
		c.Stop(true)
		return nil, NewTLSErrorWithCause(errType, "TLS handshake failed", err).
			WithContext("hostname", req.Hostname)
	}

	if req.Timeout > 0 {
		if err := raw.SetDeadline(time.Time{}); err != nil {
			e.metrics.recordHandshakeError("deadline")
			c.Stop(true)
			return nil, NewTLSErrorWithCause(ErrorTypeConnectionState, "cannot disarm handshake deadline", err)
		}
	}

	state := c.tconn.ConnectionState()
	c.SessionResumed = state.DidResume
	if c.SessionResumed && e.cfg.Verbosity >= 3 {
		e.logger.LogSessionEvent("reusing old session", c.cacheKey, nil)
	}

	// Trust and peer identity are decided here, after the handshake, never
	// by aborting it: a failed chain on a non-enforced connection still
	// yields an encrypted channel.
	var trustErr error
	if len(state.PeerCertificates) > 0 {
		trustErr = e.verifyChain(state.PeerCertificates)
		e.verifyExtractPeer(c, state.PeerCertificates[0], trustErr, req.Hostname)
	} else {
		// Resumed sessions may carry no certificates; trust then rests
		// on the session having been verified when first negotiated.
		if !c.SessionResumed {
			trustErr = NewTLSError(ErrorTypeVerificationFailure, "peer presented no certificate")
		}
		e.verifyExtractPeer(c, nil, trustErr, req.Hostname)
	}

	if req.EnforceTrust && !c.PeerVerified {
		e.metrics.recordVerificationFailure("untrusted")
		e.evictSession(ctx, c.cacheKey)
		err := NewTLSError(ErrorTypeVerificationFailure, "server certificate not trusted").
			WithContext("hostname", req.Hostname)
		if trustErr != nil {
			err = NewTLSErrorWithCause(ErrorTypeVerificationFailure, "server certificate not trusted", trustErr).
				WithContext("hostname", req.Hostname)
		}
		c.Stop(true)
		return nil, err
	}

	if req.EnforcePeerName && !c.HostnameMatched {
		e.metrics.recordVerificationFailure("hostname_mismatch")
		// The cached session would reproduce the mismatch on reuse.
		e.evictSession(ctx, c.cacheKey)
		c.Stop(true)
		return nil, NewTLSError(ErrorTypeVerificationFailure, "server certificate does not match hostname").
			WithContext("hostname", req.Hostname).
			WithContext("peer_cn", c.PeerCN)
	}

	c.Protocol = tls.VersionName(state.Version)
	c.CipherName = tls.CipherSuiteName(state.CipherSuite)
	c.CipherBitsUsed, c.CipherBitsAvailable = cipherBits(state.CipherSuite)

	e.metrics.recordHandshakeSuccess(time.Since(start), c.SessionResumed)
	if e.cfg.Verbosity >= 1 {
		e.logger.LogEstablished(c.id, req.Hostname, c.Protocol, c.CipherName,
			c.CipherBitsUsed, c.CipherBitsAvailable, c.SessionResumed)
	}

	return c, nil
}

// evictSession removes a session from the external cache after it proved
// unusable or untrustworthy. Best effort, like all cache traffic.
func (e *Engine) evictSession(ctx context.Context, cacheKey string) {
	if !e.clientCaching || cacheKey == "" {
		return
	}
	e.cache.Delete(ctx, cacheKey)
	if e.cfg.Verbosity >= 3 {
		e.logger.LogSessionEvent("removed session from client cache", cacheKey, nil)
	}
}

// cipherBits reports the effective and nominal symmetric key sizes of a
// cipher suite. The effective size is what the key schedule actually uses;
// for triple DES that is less than the nominal key material.
func cipherBits(suite uint16) (used, available int) {
	name := tls.CipherSuiteName(suite)
	switch {
	case strings.Contains(name, "AES_256"), strings.Contains(name, "CHACHA20"):
		return 256, 256
	case strings.Contains(name, "AES_128"), strings.Contains(name, "RC4_128"):
		return 128, 128
	case strings.Contains(name, "3DES"):
		return 112, 168
	default:
		return 0, 0
	}
}
