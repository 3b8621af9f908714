// Package main is the entry point for the smtpsec-probe binary.
// It provides a CLI that connects to a mail server, negotiates TLS under the
// configured policy and reports the security properties of the connection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/smtpsec/internal/policy"
	"github.com/polisai/smtpsec/internal/scache"
	smtptls "github.com/polisai/smtpsec/internal/tls"
	"github.com/polisai/smtpsec/pkg/config"
	"github.com/polisai/smtpsec/pkg/logging"
	"github.com/polisai/smtpsec/pkg/telemetry"
)

const (
	defaultPort             = "25"
	defaultHandshakeTimeout = 30 * time.Second
	telemetryFlushTimeout   = 5 * time.Second
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for smtpsec-probe
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "smtpsec-probe HOST[:PORT]",
		Short: "Probe the TLS posture of a mail server",
		Long: `Connects to a mail server, issues STARTTLS, performs the TLS handshake
under the configured security policy and prints the negotiated protocol,
cipher and certificate verification outcome.

Example:
  smtpsec-probe --config smtpsec.yaml --level verify mx1.example.com:25`,
		Args: cobra.ExactArgs(1),
		RunE: runProbe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("level", "l", "", "Override the TLS policy level (none, may, encrypt, verify)")
	rootCmd.Flags().String("cache-key", "", "Session cache key (defaults to the destination address)")
	rootCmd.Flags().Bool("no-starttls", false, "Skip the SMTP STARTTLS preamble and negotiate TLS immediately")
	rootCmd.Flags().Duration("timeout", defaultHandshakeTimeout, "Handshake timeout")
	rootCmd.Flags().IntP("repeat", "r", 1, "Number of connection attempts (tests session reuse)")

	return rootCmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	levelOverride, _ := cmd.Flags().GetString("level")
	cacheKey, _ := cmd.Flags().GetString("cache-key")
	noStartTLS, _ := cmd.Flags().GetBool("no-starttls")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	repeat, _ := cmd.Flags().GetInt("repeat")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "smtpsec-probe",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	destination := args[0]
	host := destination
	if h, _, splitErr := net.SplitHostPort(destination); splitErr == nil {
		host = h
	} else {
		destination = net.JoinHostPort(destination, defaultPort)
	}

	level, err := resolveLevel(ctx, cfg, levelOverride, host)
	if err != nil {
		return err
	}
	logger.Info("resolved TLS policy", "host", host, "level", level.String())

	if !level.UseTLS() {
		fmt.Printf("%s: policy level is %s, TLS disabled\n", host, level)
		return nil
	}

	var cache scache.Cache
	if cfg.Cache.Enabled {
		cache = scache.NewNetClient(scache.Options{
			Network:   cfg.Cache.Network,
			Address:   cfg.Cache.Address,
			Timeout:   time.Duration(cfg.Cache.TimeoutSeconds) * time.Second,
			Verbosity: cfg.TLS.Verbosity,
			Logger:    logger,
			Metrics:   scache.NewMetrics(),
		})
	} else if repeat > 1 {
		// Without the external daemon a repeat run still wants to
		// demonstrate session reuse, so fall back to an in-process cache.
		cache = scache.NewMemoryCache(time.Duration(cfg.TLS.SessionTimeoutSeconds) * time.Second)
	}

	engine, err := smtptls.NewEngine(ctx, smtptls.Config{
		CipherSuites:     cfg.TLS.CipherSuites,
		CAFile:           cfg.TLS.CAFile,
		CAPath:           cfg.TLS.CAPath,
		CertFile:         cfg.TLS.CertFile,
		KeyFile:          cfg.TLS.KeyFile,
		MinVersion:       cfg.TLS.MinVersion,
		MaxVersion:       cfg.TLS.MaxVersion,
		SessionTimeout:   time.Duration(cfg.TLS.SessionTimeoutSeconds) * time.Second,
		EntropySeedBytes: cfg.TLS.EntropySeedBytes,
		Verbosity:        cfg.TLS.Verbosity,
		Logger:           logger,
		Cache:            cache,
	})
	if err != nil {
		return fmt.Errorf("TLS engine init: %w", err)
	}

	watcher, err := smtptls.NewCredentialWatcher(logger, func() {
		logger.Info("TLS credentials changed on disk, restart to pick them up")
	}, cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
	if err != nil {
		logger.Warn("credential watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	if cacheKey == "" {
		cacheKey = destination
	}

	for attempt := 1; attempt <= repeat; attempt++ {
		if err := probeOnce(ctx, engine, level, destination, host, cacheKey, timeout, noStartTLS); err != nil {
			return err
		}
	}
	return nil
}

// resolveLevel picks the TLS security level for the destination: a CLI
// override wins, then the Rego policy when configured, then the static table.
func resolveLevel(ctx context.Context, cfg *config.Config, override, host string) (policy.Level, error) {
	if override != "" {
		return policy.ParseLevel(override)
	}

	var resolver policy.Resolver
	var err error
	if cfg.Policy.RegoFile != "" {
		resolver, err = policy.NewRegoResolverFromFile(ctx, cfg.Policy.RegoFile, cfg.Policy.Default)
	} else {
		resolver, err = policy.NewTableResolver(cfg.Policy.Default, cfg.Policy.Sites)
	}
	if err != nil {
		return policy.LevelNone, err
	}
	return resolver.Resolve(host)
}

func probeOnce(ctx context.Context, engine *smtptls.Engine, level policy.Level, destination, host, cacheKey string, timeout time.Duration, noStartTLS bool) error {
	raw, err := net.DialTimeout("tcp", destination, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", destination, err)
	}

	if !noStartTLS {
		if err := negotiateStartTLS(raw, host, timeout); err != nil {
			_ = raw.Close()
			if level.EnforceTLS() {
				return fmt.Errorf("STARTTLS with %s: %w", destination, err)
			}
			fmt.Printf("%s: server does not offer STARTTLS (%v), policy permits cleartext\n", host, err)
			return nil
		}
	}

	conn, err := engine.Connect(ctx, raw, smtptls.ConnectRequest{
		Hostname:        host,
		CacheKey:        cacheKey,
		EnforceTrust:    level.EnforceTrust(),
		EnforcePeerName: level.EnforcePeerName(),
		Timeout:         timeout,
	})
	if err != nil {
		_ = raw.Close()
		return fmt.Errorf("TLS handshake with %s: %w", destination, err)
	}

	printReport(host, conn)

	conn.Stop(false)
	return raw.Close()
}

// negotiateStartTLS runs the minimal SMTP preamble up to a successful
// STARTTLS response, leaving the transport ready for the TLS handshake.
func negotiateStartTLS(raw net.Conn, host string, timeout time.Duration) error {
	if timeout > 0 {
		if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer func() { _ = raw.SetDeadline(time.Time{}) }()
	}

	text := textproto.NewConn(raw)
	if _, _, err := text.ReadResponse(220); err != nil {
		return fmt.Errorf("server greeting: %w", err)
	}

	id, err := text.Cmd("EHLO %s", ehloName())
	if err != nil {
		return err
	}
	text.StartResponse(id)
	_, ehlo, err := text.ReadResponse(250)
	text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if !advertisesStartTLS(ehlo) {
		return fmt.Errorf("STARTTLS not advertised")
	}

	id, err = text.Cmd("STARTTLS")
	if err != nil {
		return err
	}
	text.StartResponse(id)
	_, _, err = text.ReadResponse(220)
	text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("STARTTLS refused: %w", err)
	}
	return nil
}

func advertisesStartTLS(ehloResponse string) bool {
	for _, line := range strings.Split(ehloResponse, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "STARTTLS") {
			return true
		}
	}
	return false
}

func ehloName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "localhost"
}

func printReport(host string, conn *smtptls.Conn) {
	verification := "Untrusted"
	if conn.PeerVerified {
		verification = "Trusted"
	}
	reused := ""
	if conn.SessionResumed {
		reused = ", session reused"
	}
	fmt.Printf("%s: %s with %s (%d/%d bits)%s\n",
		host, conn.Protocol, conn.CipherName, conn.CipherBitsUsed, conn.CipherBitsAvailable, reused)
	fmt.Printf("%s: %s certificate, CN=%q, issuer CN=%q, hostname match=%v\n",
		host, verification, conn.PeerCN, conn.IssuerCN, conn.HostnameMatched)

	slog.Debug("probe complete", "host", host, "conn_id", conn.ID())
}
