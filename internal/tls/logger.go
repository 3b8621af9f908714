package tls

import (
	"context"
	"log/slog"
)

// TLSLogger provides structured logging for TLS client events
type TLSLogger struct {
	logger *slog.Logger
}

// NewTLSLogger creates a new TLS logger
func NewTLSLogger(logger *slog.Logger) *TLSLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &TLSLogger{
		logger: logger.With("component", "tls"),
	}
}

// LogEngineInit logs engine initialization
func (l *TLSLogger) LogEngineInit(runtimeVersion string) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "initializing client-side TLS engine",
		slog.String("event", "engine_init"),
		slog.String("runtime", runtimeVersion),
	)
}

// LogHandshakeStart logs the start of an outbound TLS handshake
func (l *TLSLogger) LogHandshakeStart(connID, hostname string, enforceTrust, enforcePeerName bool) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "setting up TLS connection",
		slog.String("event", "handshake_start"),
		slog.String("conn_id", connID),
		slog.String("hostname", hostname),
		slog.Bool("enforce_trust", enforceTrust),
		slog.Bool("enforce_peer_name", enforcePeerName),
	)
}

// LogHandshakeFailure logs a failed TLS handshake
func (l *TLSLogger) LogHandshakeFailure(connID, hostname string, err error) {
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "TLS handshake failed",
		slog.String("event", "handshake_failure"),
		slog.String("conn_id", connID),
		slog.String("hostname", hostname),
		slog.String("error", err.Error()),
	)
}

// LogEstablished logs a successfully established TLS connection with the
// negotiated parameters.
func (l *TLSLogger) LogEstablished(connID, hostname, protocol, cipher string, bitsUsed, bitsAvailable int, resumed bool) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "TLS connection established",
		slog.String("event", "established"),
		slog.String("conn_id", connID),
		slog.String("hostname", hostname),
		slog.String("protocol", protocol),
		slog.String("cipher", cipher),
		slog.Int("bits_used", bitsUsed),
		slog.Int("bits_available", bitsAvailable),
		slog.Bool("session_reused", resumed),
	)
}

// LogVerificationResult logs the outcome of peer certificate verification.
// The subject and issuer names are reported either way, so an operator can
// see who an unverified peer claimed to be.
func (l *TLSLogger) LogVerificationResult(verified bool, peerCN, issuerCN string) {
	status := "Untrusted"
	if verified {
		status = "Trusted"
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, status+" server certificate",
		slog.String("event", "peer_verification"),
		slog.Bool("verified", verified),
		slog.String("peer_cn", peerCN),
		slog.String("issuer_cn", issuerCN),
	)
}

// LogPeerNameMismatch logs a hostname that matched none of the certificate's
// subject alternative names.
func (l *TLSLogger) LogPeerNameMismatch(hostname string, dnsFound int) {
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "certificate peer name verification failed",
		slog.String("event", "peer_name_mismatch"),
		slog.String("hostname", hostname),
		slog.Int("dns_names", dnsFound),
	)
}

// LogCommonNameMismatch logs a hostname that failed the CommonName fallback
// match on a certificate without subject alternative names.
func (l *TLSLogger) LogCommonNameMismatch(hostname, peerCN string) {
	l.logger.LogAttrs(context.Background(), slog.LevelWarn, "certificate common name mismatch",
		slog.String("event", "common_name_mismatch"),
		slog.String("hostname", hostname),
		slog.String("peer_cn", peerCN),
	)
}

// LogSessionEvent logs session cache traffic. Cache failures never affect
// the connection, so everything here is informational.
func (l *TLSLogger) LogSessionEvent(msg, cacheKey string, err error) {
	attrs := []slog.Attr{
		slog.String("event", "session_cache"),
		slog.String("cache_key", cacheKey),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
