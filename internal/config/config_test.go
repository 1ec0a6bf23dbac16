package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagi-server/pagi/internal/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 2048, cfg.ListenerBacklog)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 8192, cfg.MaxHeaderSize)
	assert.Equal(t, 1000, cfg.MaxReceiveQueue)
	assert.Equal(t, int64(65536), cfg.MaxWSFrameSize)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.TLSEnabled())
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.False(t, cfg.RateLimitEnabled())
}

func TestParse_RateLimitFlagsEnableLimiter(t *testing.T) {
	cfg, err := config.Parse([]string{"--rate-limit", "5", "--rate-limit-burst", "10"})
	require.NoError(t, err)
	assert.True(t, cfg.RateLimitEnabled())
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 10, cfg.RateLimitBurst)
}

func TestParse_OverridesFlags(t *testing.T) {
	cfg, err := config.Parse([]string{"--host", "127.0.0.1", "--port", "9000", "--workers", "4", "--reuseport"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.ReusePort)
}

func TestParse_RejectsOutOfRangePort(t *testing.T) {
	_, err := config.Parse([]string{"--port", "0"})
	assert.Error(t, err)
}

func TestParse_NoAccessLogOverridesAccessLog(t *testing.T) {
	cfg, err := config.Parse([]string{"--access-log", "-", "--no-access-log"})
	require.NoError(t, err)
	assert.Empty(t, cfg.AccessLogTarget)
}

func TestParse_SSLVerifyClientRequiresCA(t *testing.T) {
	_, err := config.Parse([]string{"--ssl-verify-client"})
	assert.Error(t, err)
}

func TestParse_CertAndKeyMustBeGivenTogether(t *testing.T) {
	_, err := config.Parse([]string{"--ssl-cert", "cert.pem"})
	assert.Error(t, err)
}

func TestParse_TLSEnabledWhenCertGiven(t *testing.T) {
	cfg, err := config.Parse([]string{"--ssl-cert", "cert.pem", "--ssl-key", "key.pem"})
	require.NoError(t, err)
	assert.True(t, cfg.TLSEnabled())
}
