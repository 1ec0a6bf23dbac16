// Command pagi-server is the reference runner for the PAGI::Server core:
// it parses the flags of spec §6.3, wires TLS and rate limiting, and hands
// control to the acceptor/worker supervisor of spec §4.6. It ships bound
// to the echoapp reference application; embedding a different
// application means swapping the App import below, the way every
// PAGI::Server deployment does.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"

	"github.com/pagi-server/pagi/examples/echoapp"
	"github.com/pagi-server/pagi/internal/config"
	"github.com/pagi-server/pagi/internal/conn"
	"github.com/pagi-server/pagi/internal/supervisor"
	"github.com/pagi-server/pagi/internal/telemetry"
)

const version = "1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logger.Error("failed to parse configuration", "error", err)
		os.Exit(1)
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			logger.Error("failed to configure TLS", "error", err)
			os.Exit(1)
		}
	}

	app := echoapp.New(logger)

	opts := supervisor.Options{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Workers:         cfg.Workers,
		ListenerBacklog: cfg.ListenerBacklog,
		ReusePort:       cfg.ReusePort,
		ShutdownTimeout: cfg.ShutdownTimeout,
		App:             app.Serve,
		Version:         version,
		ServerName:      "pagi-server/" + version,
		Scheme:          schemeFor(cfg),
		Limits: conn.Limits{
			MaxRequestLineSize: 8192,
			MaxHeaderSize:      cfg.MaxHeaderSize,
			MaxBodySize:        cfg.MaxBodySize,
			MaxReceiveQueue:    cfg.MaxReceiveQueue,
			MaxWSFrameSize:     cfg.MaxWSFrameSize,
			IdleTimeout:        cfg.IdleTimeout,
		},
		TLSConfig: tlsConfig,
		Logger:    logger,
	}

	if cfg.AccessLogTarget != "" {
		al, err := telemetry.NewAccessLogger(cfg.AccessLogTarget)
		if err != nil {
			logger.Error("failed to open access log", "error", err)
			os.Exit(1)
		}
		opts.AccessLog = al.Write
	}

	if cfg.RateLimitEnabled() {
		opts.RateLimit = telemetry.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst)
	}

	code := supervisor.Run(context.Background(), opts)
	os.Exit(code)
}

func schemeFor(cfg *config.Config) string {
	if cfg.TLSEnabled() {
		return "https"
	}
	return "http"
}

func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if cfg.SSLCA != "" {
		pem, err := os.ReadFile(cfg.SSLCA)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		tc.ClientCAs = pool
		if cfg.SSLVerifyClient {
			tc.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return tc, nil
}
