package tls

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once
	metricsInst *MetricsCollector
)

// MetricsCollector handles TLS client metrics collection
type MetricsCollector struct {
	handshakesTotal      metric.Int64Counter
	handshakeErrors      metric.Int64Counter
	handshakeDuration    metric.Float64Histogram
	sessionsResumed      metric.Int64Counter
	verificationFailures metric.Int64Counter
	connectionsActive    metric.Int64UpDownCounter
}

// getMetricsCollector returns the singleton metrics collector. Instruments
// that fail to build stay nil and are skipped at record time; metrics must
// never take a handshake down with them.
func getMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("smtpsec.tls")
		c := &MetricsCollector{}

		c.handshakesTotal, _ = meter.Int64Counter(
			"tls_client_handshakes_total",
			metric.WithDescription("Total number of successful TLS client handshakes"),
			metric.WithUnit("{handshake}"),
		)
		c.handshakeErrors, _ = meter.Int64Counter(
			"tls_client_handshake_errors_total",
			metric.WithDescription("Total number of failed TLS client handshakes"),
			metric.WithUnit("{error}"),
		)
		c.handshakeDuration, _ = meter.Float64Histogram(
			"tls_client_handshake_duration_seconds",
			metric.WithDescription("TLS client handshake duration"),
			metric.WithUnit("s"),
		)
		c.sessionsResumed, _ = meter.Int64Counter(
			"tls_client_sessions_resumed_total",
			metric.WithDescription("Total number of handshakes completed by session reuse"),
			metric.WithUnit("{session}"),
		)
		c.verificationFailures, _ = meter.Int64Counter(
			"tls_client_verification_failures_total",
			metric.WithDescription("Total number of enforced peer verification failures"),
			metric.WithUnit("{failure}"),
		)
		c.connectionsActive, _ = meter.Int64UpDownCounter(
			"tls_client_connections_active",
			metric.WithDescription("Number of currently active TLS client connections"),
			metric.WithUnit("{connection}"),
		)

		metricsInst = c
	})
	return metricsInst
}

func (m *MetricsCollector) recordHandshakeSuccess(duration time.Duration, resumed bool) {
	ctx := context.Background()
	if m.handshakesTotal != nil {
		m.handshakesTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.Bool("resumed", resumed)))
	}
	if m.handshakeDuration != nil {
		m.handshakeDuration.Record(ctx, duration.Seconds())
	}
	if resumed && m.sessionsResumed != nil {
		m.sessionsResumed.Add(ctx, 1)
	}
}

func (m *MetricsCollector) recordHandshakeError(reason string) {
	if m.handshakeErrors != nil {
		m.handshakeErrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *MetricsCollector) recordVerificationFailure(reason string) {
	if m.verificationFailures != nil {
		m.verificationFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *MetricsCollector) recordConnOpened() {
	if m.connectionsActive != nil {
		m.connectionsActive.Add(context.Background(), 1)
	}
}

func (m *MetricsCollector) recordConnClosed() {
	if m.connectionsActive != nil {
		m.connectionsActive.Add(context.Background(), -1)
	}
}
