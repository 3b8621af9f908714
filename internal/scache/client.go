// Package scache implements the client side of the external TLS session
// cache protocol. The cache is a best-effort optimization: every failure
// mode degrades to a cache miss and is never surfaced to the handshake.
package scache

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// Policy describes the caching behaviour advertised by the cache service.
type Policy struct {
	ClientCachingEnabled bool
	Timeout              time.Duration
}

// Cache is the session cache consumed by the TLS engine. Implementations
// must treat every operation as best-effort: Lookup reports a miss on any
// error, Save and Delete swallow failures.
type Cache interface {
	// Lookup returns the cached session blob for key, or ok=false on a
	// miss or any error.
	Lookup(ctx context.Context, key string) (blob []byte, ok bool)

	// Save stores a freshly negotiated session blob under key.
	Save(ctx context.Context, key string, blob []byte)

	// Delete removes the entry for key. A no-op for an empty key.
	Delete(ctx context.Context, key string)

	// Policy reports whether client-side caching is enabled and the
	// session lifetime the service applies.
	Policy(ctx context.Context) (Policy, error)
}

// Wire protocol: one JSON request and one JSON response per connection,
// newline-delimited. Blobs travel base64-encoded.
const (
	opLookup = "lookup"
	opUpdate = "update"
	opDelete = "delete"
	opPolicy = "policy"

	statusOK = "ok"
)

type request struct {
	Op   string `json:"op"`
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
	Blob string `json:"blob,omitempty"`
}

type response struct {
	Status         string `json:"status"`
	Blob           string `json:"blob,omitempty"`
	ClientCaching  bool   `json:"client_caching,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// NetClient speaks the session cache protocol to an external cache daemon
// over a unix or TCP socket.
type NetClient struct {
	network   string
	address   string
	timeout   time.Duration
	verbosity int
	logger    *slog.Logger
	metrics   *Metrics
}

// Options configures a NetClient.
type Options struct {
	Network   string // "unix" or "tcp"
	Address   string
	Timeout   time.Duration
	Verbosity int
	Logger    *slog.Logger
	Metrics   *Metrics
}

const defaultRequestTimeout = 10 * time.Second

// NewNetClient creates a client for the cache daemon at the given address.
func NewNetClient(opts Options) *NetClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	network := opts.Network
	if network == "" {
		network = "unix"
	}
	return &NetClient{
		network:   network,
		address:   opts.Address,
		timeout:   timeout,
		verbosity: opts.Verbosity,
		logger:    logger.With("component", "scache"),
		metrics:   opts.Metrics,
	}
}

// Lookup queries the cache daemon. Unreachable service, timeout or a
// malformed response all count as a miss.
func (c *NetClient) Lookup(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	if c.verbosity >= 3 {
		c.logger.Info("looking for session in client cache", "key", key)
	}

	resp, err := c.roundTrip(ctx, request{Op: opLookup, ID: uuid.NewString(), Key: key})
	if err != nil {
		c.metrics.recordOp(opLookup, "error")
		if c.verbosity >= 3 {
			c.logger.Info("session cache lookup failed", "key", key, "error", err)
		}
		return nil, false
	}
	if resp.Status != statusOK || resp.Blob == "" {
		c.metrics.recordOp(opLookup, "miss")
		return nil, false
	}

	blob, err := base64.StdEncoding.DecodeString(resp.Blob)
	if err != nil {
		c.metrics.recordOp(opLookup, "error")
		if c.verbosity >= 3 {
			c.logger.Info("session cache returned malformed blob", "key", key, "error", err)
		}
		return nil, false
	}

	c.metrics.recordOp(opLookup, "hit")
	if c.verbosity >= 3 {
		c.logger.Info("reloaded session from client cache", "key", key)
	}
	return blob, true
}

// Save forwards a passivated session to the cache daemon. Failures are
// logged only.
func (c *NetClient) Save(ctx context.Context, key string, blob []byte) {
	if key == "" || len(blob) == 0 {
		return
	}
	if c.verbosity >= 3 {
		c.logger.Info("save session to client cache", "key", key, "bytes", len(blob))
	}

	req := request{
		Op:   opUpdate,
		ID:   uuid.NewString(),
		Key:  key,
		Blob: base64.StdEncoding.EncodeToString(blob),
	}
	if _, err := c.roundTrip(ctx, req); err != nil {
		c.metrics.recordOp(opUpdate, "error")
		if c.verbosity >= 3 {
			c.logger.Info("session cache save failed", "key", key, "error", err)
		}
		return
	}
	c.metrics.recordOp(opUpdate, "ok")
}

// Delete evicts a possibly tainted entry. A no-op for an empty key.
func (c *NetClient) Delete(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if c.verbosity >= 3 {
		c.logger.Info("remove session from client cache", "key", key)
	}

	if _, err := c.roundTrip(ctx, request{Op: opDelete, ID: uuid.NewString(), Key: key}); err != nil {
		c.metrics.recordOp(opDelete, "error")
		if c.verbosity >= 3 {
			c.logger.Info("session cache delete failed", "key", key, "error", err)
		}
		return
	}
	c.metrics.recordOp(opDelete, "ok")
}

// Policy queries the caching policy of the daemon. Any error disables
// client-side caching at the caller.
func (c *NetClient) Policy(ctx context.Context) (Policy, error) {
	resp, err := c.roundTrip(ctx, request{Op: opPolicy, ID: uuid.NewString()})
	if err != nil {
		c.metrics.recordOp(opPolicy, "error")
		return Policy{}, err
	}
	if resp.Status != statusOK {
		c.metrics.recordOp(opPolicy, "miss")
		return Policy{}, nil
	}
	c.metrics.recordOp(opPolicy, "ok")
	return Policy{
		ClientCachingEnabled: resp.ClientCaching,
		Timeout:              time.Duration(resp.TimeoutSeconds) * time.Second,
	}, nil
}

func (c *NetClient) roundTrip(ctx context.Context, req request) (*response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(&req); err != nil {
		return nil, err
	}

	var resp response
	dec := json.NewDecoder(bufio.NewReader(conn))
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ Cache = (*NetClient)(nil)
