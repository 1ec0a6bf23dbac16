// Package config parses and validates the command-line surface of spec
// §6.3: everything a deployment tunes about the acceptor, the connection
// limits, TLS, and the access log.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Use a single instance of Validate: it caches struct info.
var validate = validator.New()

// Config is the fully parsed and validated server configuration.
type Config struct {
	Host string `validate:"required"`
	Port int    `validate:"required,min=1,max=65535"`

	Workers          int `validate:"min=0"`
	ListenerBacklog  int `validate:"min=1"`
	ReusePort        bool

	IdleTimeout     time.Duration `validate:"min=0"`
	MaxHeaderSize   int           `validate:"min=1"`
	MaxBodySize     int64         `validate:"min=0"`
	MaxReceiveQueue int           `validate:"min=1"`
	MaxWSFrameSize  int64         `validate:"min=1"`
	ShutdownTimeout time.Duration `validate:"min=0"`

	AccessLogTarget string // "" (disabled), "-" (stdout), or a file path
	Loop            string

	RateLimit      float64 `validate:"min=0"`
	RateLimitBurst int     `validate:"min=1"`

	SSLCert         string
	SSLKey          string
	SSLCA           string
	SSLVerifyClient bool
}

// Parse reads args (normally os.Args[1:]) into a validated Config,
// applying the defaults spec §6.3 names.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("pagi-server", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.Host, "host", "0.0.0.0", "address to bind")
	fs.IntVar(&cfg.Port, "port", 8000, "port to bind")
	fs.IntVar(&cfg.Workers, "workers", 1, "number of worker processes (0 or 1 = single-process mode)")
	fs.IntVar(&cfg.ListenerBacklog, "listener-backlog", 2048, "TCP listen backlog")
	fs.BoolVar(&cfg.ReusePort, "reuseport", false, "use SO_REUSEPORT instead of inherited-socket fork for multi-worker mode")

	idleSeconds := fs.Int("timeout", 60, "idle connection timeout, in seconds")
	fs.IntVar(&cfg.MaxHeaderSize, "max-header-size", 8192, "maximum request-line + header block size, in bytes")
	fs.Int64Var(&cfg.MaxBodySize, "max-body-size", 0, "maximum request body size in bytes (0 = unlimited)")
	fs.IntVar(&cfg.MaxReceiveQueue, "max-receive-queue", 1000, "maximum buffered inbound WebSocket messages")
	fs.Int64Var(&cfg.MaxWSFrameSize, "max-ws-frame-size", 65536, "maximum WebSocket frame payload size in bytes")
	shutdownSeconds := fs.Int("shutdown-timeout", 30, "graceful shutdown drain timeout, in seconds")

	fs.StringVar(&cfg.AccessLogTarget, "access-log", "", "write access log to PATH, or - for stdout")
	noAccessLog := fs.Bool("no-access-log", false, "disable the access log entirely, overriding --access-log")
	fs.StringVar(&cfg.Loop, "loop", "default", "event-loop backend")

	fs.Float64Var(&cfg.RateLimit, "rate-limit", 0, "maximum new connections per second per source IP (0 = unlimited)")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", 20, "burst allowance for --rate-limit")

	fs.StringVar(&cfg.SSLCert, "ssl-cert", "", "TLS certificate file")
	fs.StringVar(&cfg.SSLKey, "ssl-key", "", "TLS private key file")
	fs.StringVar(&cfg.SSLCA, "ssl-ca", "", "TLS client CA bundle, for client certificate verification")
	fs.BoolVar(&cfg.SSLVerifyClient, "ssl-verify-client", false, "require and verify a client certificate")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.IdleTimeout = time.Duration(*idleSeconds) * time.Second
	cfg.ShutdownTimeout = time.Duration(*shutdownSeconds) * time.Second
	if *noAccessLog {
		cfg.AccessLogTarget = ""
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.SSLVerifyClient && cfg.SSLCA == "" {
		return nil, fmt.Errorf("config: --ssl-verify-client requires --ssl-ca")
	}
	if (cfg.SSLCert == "") != (cfg.SSLKey == "") {
		return nil, fmt.Errorf("config: --ssl-cert and --ssl-key must be given together")
	}

	return cfg, nil
}

// TLSEnabled reports whether the parsed flags request TLS termination.
func (c *Config) TLSEnabled() bool { return c.SSLCert != "" }

// RateLimitEnabled reports whether the parsed flags request the acceptor's
// per-source-IP rate limiter.
func (c *Config) RateLimitEnabled() bool { return c.RateLimit > 0 }
