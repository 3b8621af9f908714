package tls

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/polisai/smtpsec/internal/scache"
)

// Config holds the process-wide engine settings. It is consumed once by
// NewEngine; the resulting Engine is immutable and shared read-only by all
// connections.
type Config struct {
	// CipherSuites lists cipher suite names to offer. Empty selects the
	// engine defaults; an unknown name aborts initialization.
	CipherSuites []string

	// CAFile and CAPath locate trust anchors in bundle and directory form.
	// Both may be set; both empty means no trust anchors, so no peer can
	// chain-verify (opportunistic connections still encrypt).
	CAFile string
	CAPath string

	// CertFile and KeyFile hold an optional client certificate. Both or
	// neither must be set; the pair is cross-validated at load.
	CertFile string
	KeyFile  string

	// MinVersion and MaxVersion bound protocol negotiation ("1.0".."1.3").
	// The default minimum is the oldest supported protocol: offer the
	// oldest greeting for interoperability and let negotiation pick the
	// strongest mutually supported version.
	MinVersion string
	MaxVersion string

	// SessionTimeout bounds the lifetime of cached sessions.
	SessionTimeout time.Duration

	// EntropySeedBytes is how much external entropy the engine reads at
	// startup as a health check. Obtaining zero bytes is fatal.
	EntropySeedBytes int

	// EntropySource overrides the entropy reader; nil selects crypto/rand.
	EntropySource io.Reader

	// Verbosity gates diagnostic detail, 0 (quiet) through 4 (full dump).
	Verbosity int

	// Logger receives structured diagnostics; nil selects slog.Default.
	Logger *slog.Logger

	// Cache is the external session cache client; nil disables caching.
	Cache scache.Cache
}

// Engine is the immutable process-wide TLS client engine handle. It is safe
// for concurrent use; each call to Connect drives one handshake.
type Engine struct {
	cfg           Config
	base          *tls.Config
	roots         *x509.CertPool
	cache         scache.Cache
	clientCaching bool
	cacheTimeout  time.Duration
	registry      *connRegistry
	logger        *TLSLogger
	metrics       *MetricsCollector
	entropy       io.Reader
}

const defaultEntropySeedBytes = 32

// NewEngine initializes the client-side TLS engine. Every failure here is
// fatal for secure transport: the caller must not attempt TLS for the rest
// of the process when an error is returned.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	logger := NewTLSLogger(cfg.Logger)
	if cfg.Verbosity >= 2 {
		logger.LogEngineInit(runtime.Version())
	}

	entropy := cfg.EntropySource
	if entropy == nil {
		entropy = rand.Reader
	}
	if err := seedEntropy(entropy, cfg.EntropySeedBytes, logger); err != nil {
		return nil, err
	}

	minVersion, err := parseProtocolVersion(cfg.MinVersion, tls.VersionTLS10)
	if err != nil {
		return nil, NewTLSErrorWithCause(ErrorTypeConfigValidation, "invalid minimum protocol version", err)
	}
	maxVersion, err := parseProtocolVersion(cfg.MaxVersion, 0)
	if err != nil {
		return nil, NewTLSErrorWithCause(ErrorTypeConfigValidation, "invalid maximum protocol version", err)
	}

	suites, err := resolveCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	roots, err := loadTrustAnchors(cfg.CAFile, cfg.CAPath)
	if err != nil {
		return nil, err
	}

	certificates, err := loadClientCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	base := &tls.Config{
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: suites,
		Certificates: certificates,

		// Trust errors never abort the handshake at the engine level;
		// the peer verifier decides afterwards. This is what allows
		// opportunistic mode: an unverifiable peer still gets
		// encryption.
		InsecureSkipVerify: true,

		Renegotiation: tls.RenegotiateNever,
	}

	engine := &Engine{
		cfg:          cfg,
		base:         base,
		roots:        roots,
		cache:        cfg.Cache,
		cacheTimeout: cfg.SessionTimeout,
		registry:     newConnRegistry(),
		logger:       logger,
		metrics:      getMetricsCollector(),
		entropy:      entropy,
	}

	// The session cache lives in an external service; the engine keeps no
	// internal store and never clears entries on its own. Client-side
	// caching is only switched on when the service's policy says so.
	if cfg.Cache != nil {
		policy, err := cfg.Cache.Policy(ctx)
		switch {
		case err != nil:
			if cfg.Verbosity >= 2 {
				logger.LogSessionEvent("session cache policy unavailable, caching disabled", "", err)
			}
		case policy.ClientCachingEnabled:
			engine.clientCaching = true
			if policy.Timeout > 0 {
				engine.cacheTimeout = policy.Timeout
			}
		}
	}

	return engine, nil
}

// ClientCachingEnabled reports whether sessions are saved to and loaded
// from the external cache.
func (e *Engine) ClientCachingEnabled() bool {
	return e.clientCaching
}

// ActiveConnections reports the number of live connections in the registry.
func (e *Engine) ActiveConnections() int {
	return e.registry.len()
}

// seedEntropy reads n bytes from the external entropy source. Obtaining
// nothing at all disables TLS for the process; a short read is only logged.
func seedEntropy(source io.Reader, n int, logger *TLSLogger) error {
	if n <= 0 {
		n = defaultEntropySeedBytes
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(source, buf)
	if read == 0 {
		return ErrNoEntropy
	}
	if err != nil {
		logger.LogSessionEvent("short entropy read", "", err)
	}
	return nil
}

// reseedEntropy stirs the entropy source again right before a handshake.
// Purely defense in depth; failures are ignored.
func (e *Engine) reseedEntropy() {
	n := e.cfg.EntropySeedBytes
	if n <= 0 {
		n = defaultEntropySeedBytes
	}
	buf := make([]byte, n)
	_, _ = io.ReadFull(e.entropy, buf)
}

func parseProtocolVersion(version string, fallback uint16) (uint16, error) {
	switch strings.TrimSpace(version) {
	case "":
		return fallback, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version %q", version)
	}
}

// resolveCipherSuites maps configured cipher suite names to their IDs. The
// insecure table is consulted too: which suites are acceptable is policy,
// configured, not hardcoded. An unknown name aborts initialization.
func resolveCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	byName := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		byName[suite.Name] = suite.ID
	}
	for _, suite := range tls.InsecureCipherSuites() {
		byName[suite.Name] = suite.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, NewTLSError(ErrorTypeCipherList, "unknown cipher suite").
				WithContext("suite", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadTrustAnchors builds the trust pool from a CA bundle file and/or a
// directory of certificate files. With neither configured the pool is empty
// and no peer can chain-verify.
func loadTrustAnchors(caFile, caPath string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	if caFile != "" {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, NewTLSErrorWithCause(ErrorTypeTrustAnchors, "cannot read CA bundle", err).
				WithContext("ca_file", caFile)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, NewTLSError(ErrorTypeTrustAnchors, "no certificates found in CA bundle").
				WithContext("ca_file", caFile)
		}
	}

	if caPath != "" {
		entries, err := os.ReadDir(caPath)
		if err != nil {
			return nil, NewTLSErrorWithCause(ErrorTypeTrustAnchors, "cannot read CA directory", err).
				WithContext("ca_path", caPath)
		}
		loaded := 0
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".pem", ".crt", ".cer":
			default:
				continue
			}
			data, err := os.ReadFile(filepath.Join(caPath, entry.Name()))
			if err != nil {
				return nil, NewTLSErrorWithCause(ErrorTypeTrustAnchors, "cannot read CA certificate", err).
					WithContext("path", filepath.Join(caPath, entry.Name()))
			}
			if pool.AppendCertsFromPEM(data) {
				loaded++
			}
		}
		if loaded == 0 {
			return nil, NewTLSError(ErrorTypeTrustAnchors, "no certificates found in CA directory").
				WithContext("ca_path", caPath)
		}
	}

	return pool, nil
}

// loadClientCertificate loads the optional client certificate. Absence of
// both paths is not an error: no client certificate is offered then. The
// load cross-validates that certificate and key match.
func loadClientCertificate(certFile, keyFile string) ([]tls.Certificate, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, NewTLSError(ErrorTypeCertificateLoad, "client certificate and key must be configured together").
			WithContext("cert_file", certFile).
			WithContext("key_file", keyFile)
	}
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, NewTLSErrorWithCause(ErrorTypeCertificateLoad, "cannot load client certificate", err).
			WithContext("cert_file", certFile).
			WithContext("key_file", keyFile)
	}
	return []tls.Certificate{certificate}, nil
}
