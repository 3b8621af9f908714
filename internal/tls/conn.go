package tls

import (
	"crypto/tls"
	"net"
	"time"
)

// Conn is the per-connection TLS state. It is created by Engine.Connect and
// destroyed by Stop; the caller reads and writes through it while the
// connection is established. A Conn is only ever touched by the goroutine
// that created it.
type Conn struct {
	id     string
	engine *Engine

	// tconn owns the engine session; raw is the caller's transport, which
	// the session pumps ciphertext over. Stop nils both out, transferring
	// ownership back: a second Stop has nothing left to release.
	tconn *tls.Conn
	raw   net.Conn

	cacheKey        string
	enforceTrust    bool
	enforceHostname bool
	primed          bool

	// Results, populated during verification and establishment. PeerCN and
	// IssuerCN are never absent: the empty string is the sentinel for a
	// certificate the information could not be extracted from.
	PeerVerified        bool
	HostnameMatched     bool
	PeerCN              string
	IssuerCN            string
	Protocol            string
	CipherName          string
	CipherBitsUsed      int
	CipherBitsAvailable int
	SessionResumed      bool
}

// ID returns the connection identifier used in the engine registry and logs.
func (c *Conn) ID() string {
	return c.id
}

// Read reads decrypted application data from the secure channel. After Stop
// it returns net.ErrClosed.
func (c *Conn) Read(p []byte) (int, error) {
	if c.tconn == nil {
		return 0, net.ErrClosed
	}
	return c.tconn.Read(p)
}

// Write encrypts and writes application data to the secure channel. After
// Stop it returns net.ErrClosed.
func (c *Conn) Write(p []byte) (int, error) {
	if c.tconn == nil {
		return 0, net.ErrClosed
	}
	return c.tconn.Write(p)
}

// SetDeadline sets the read and write deadline on the underlying transport.
// After Stop it returns net.ErrClosed.
func (c *Conn) SetDeadline(t time.Time) error {
	if c.tconn == nil {
		return net.ErrClosed
	}
	return c.tconn.SetDeadline(t)
}

// Stop releases all per-connection TLS state. On a clean teardown it first
// sends the close-notify alert, best-effort and without waiting for the
// peer's acknowledgment; the underlying transport stays with the caller to
// shut down. With failure set the close-notify is skipped. Stop is safe to
// call more than once: the first call transfers ownership of everything
// there is to release.
func (c *Conn) Stop(failure bool) {
	if c.tconn == nil {
		return
	}

	if !failure {
		_ = c.tconn.CloseWrite()
	}

	c.engine.registry.remove(c.id)
	c.engine.metrics.recordConnClosed()
	c.tconn = nil
	c.raw = nil
}

// stopped reports whether the connection has been torn down.
func (c *Conn) stopped() bool {
	return c.tconn == nil
}
