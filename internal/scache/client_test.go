package scache

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon is a minimal in-process cache daemon for exercising the wire
// protocol, including failure injection.
type fakeDaemon struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	store    map[string]string
	policy   response
	requests []request

	// dropConnections makes the daemon close every connection before
	// answering.
	dropConnections bool
	// garbageReply makes the daemon answer with something that is not JSON.
	garbageReply bool
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDaemon{
		t:     t,
		ln:    ln,
		store: make(map[string]string),
		policy: response{
			Status:         statusOK,
			ClientCaching:  true,
			TimeoutSeconds: 3600,
		},
	}
	t.Cleanup(func() { _ = ln.Close() })
	go d.serve()
	return d
}

func (d *fakeDaemon) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDaemon) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	d.mu.Lock()
	drop, garbage := d.dropConnections, d.garbageReply
	d.mu.Unlock()
	if drop {
		return
	}

	var req request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		return
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)

	var resp response
	switch req.Op {
	case opLookup:
		if blob, ok := d.store[req.Key]; ok {
			resp = response{Status: statusOK, Blob: blob}
		} else {
			resp = response{Status: "notfound"}
		}
	case opUpdate:
		d.store[req.Key] = req.Blob
		resp = response{Status: statusOK}
	case opDelete:
		delete(d.store, req.Key)
		resp = response{Status: statusOK}
	case opPolicy:
		resp = d.policy
	default:
		resp = response{Status: "badop"}
	}
	d.mu.Unlock()

	if garbage {
		_, _ = conn.Write([]byte("!!! not json !!!\n"))
		return
	}
	_ = json.NewEncoder(conn).Encode(&resp)
}

func (d *fakeDaemon) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDaemon) client(opts Options) *NetClient {
	opts.Network = "tcp"
	opts.Address = d.ln.Addr().String()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	return NewNetClient(opts)
}

func TestNetClientRoundTrip(t *testing.T) {
	d := newFakeDaemon(t)
	c := d.client(Options{Metrics: NewMetrics()})
	ctx := context.Background()

	blob := []byte("session state bytes")
	c.Save(ctx, "mx1.example.com:25", blob)

	got, ok := c.Lookup(ctx, "mx1.example.com:25")
	require.True(t, ok)
	assert.Equal(t, blob, got)

	c.Delete(ctx, "mx1.example.com:25")
	_, ok = c.Lookup(ctx, "mx1.example.com:25")
	assert.False(t, ok, "deleted entry must be gone")
}

func TestNetClientPolicy(t *testing.T) {
	d := newFakeDaemon(t)
	c := d.client(Options{})

	policy, err := c.Policy(context.Background())
	require.NoError(t, err)
	assert.True(t, policy.ClientCachingEnabled)
	assert.Equal(t, time.Hour, policy.Timeout)
}

func TestNetClientLookupMiss(t *testing.T) {
	d := newFakeDaemon(t)
	c := d.client(Options{})

	_, ok := c.Lookup(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestNetClientEmptyKeys(t *testing.T) {
	d := newFakeDaemon(t)
	c := d.client(Options{})
	ctx := context.Background()

	// Empty keys never even reach the daemon.
	_, ok := c.Lookup(ctx, "")
	assert.False(t, ok)
	c.Save(ctx, "", []byte("blob"))
	c.Delete(ctx, "")

	assert.Equal(t, 0, d.requestCount())
}

func TestNetClientDaemonUnreachable(t *testing.T) {
	// Nothing listens here.
	c := NewNetClient(Options{
		Network: "tcp",
		Address: "127.0.0.1:1",
		Timeout: 500 * time.Millisecond,
	})
	ctx := context.Background()

	_, ok := c.Lookup(ctx, "key")
	assert.False(t, ok, "an unreachable daemon is a cache miss")

	// Save and Delete must swallow the failure.
	c.Save(ctx, "key", []byte("blob"))
	c.Delete(ctx, "key")

	_, err := c.Policy(ctx)
	assert.Error(t, err, "only the policy query surfaces errors, so the engine can disable caching")
}

func TestNetClientDroppedConnection(t *testing.T) {
	d := newFakeDaemon(t)
	d.mu.Lock()
	d.dropConnections = true
	d.mu.Unlock()
	c := d.client(Options{Timeout: 500 * time.Millisecond})

	_, ok := c.Lookup(context.Background(), "key")
	assert.False(t, ok)
}

func TestNetClientMalformedResponse(t *testing.T) {
	d := newFakeDaemon(t)
	d.mu.Lock()
	d.garbageReply = true
	d.mu.Unlock()
	c := d.client(Options{})

	_, ok := c.Lookup(context.Background(), "key")
	assert.False(t, ok, "a malformed response is a cache miss")
}

func TestNetClientMalformedBlob(t *testing.T) {
	d := newFakeDaemon(t)
	d.mu.Lock()
	d.store["key"] = "%%% not base64 %%%"
	d.mu.Unlock()
	c := d.client(Options{Verbosity: 3})

	_, ok := c.Lookup(context.Background(), "key")
	assert.False(t, ok)
}

func TestNetClientContextDeadline(t *testing.T) {
	d := newFakeDaemon(t)
	d.mu.Lock()
	d.dropConnections = true
	d.mu.Unlock()
	c := d.client(Options{Timeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := c.Lookup(ctx, "key")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second, "the context deadline must cap the request")
}

func TestNetClientBlobEncoding(t *testing.T) {
	d := newFakeDaemon(t)
	c := d.client(Options{})

	blob := []byte{0x00, 0xff, 0x10, 0x80}
	c.Save(context.Background(), "binary", blob)

	d.mu.Lock()
	stored := d.store["binary"]
	d.mu.Unlock()
	decoded, err := base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)
	assert.Equal(t, blob, decoded, "blobs travel base64-encoded on the wire")
}
