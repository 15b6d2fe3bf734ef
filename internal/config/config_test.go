package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PUBLIC_IP", "192.0.2.10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.EnableSSL)
	assert.True(t, cfg.EnableSIPGateway)
	assert.Equal(t, "127.0.0.1", cfg.SIPServerHost)
	assert.Equal(t, 5060, cfg.SIPServerPort)
	assert.Equal(t, 5060, cfg.LocalSIPPort)
	assert.Equal(t, "gateway.local", cfg.SIPDomain)
	assert.Equal(t, 22222, cfg.RTPEnginePort)
	assert.Equal(t, "192.0.2.10", cfg.PublicIP)
	assert.Equal(t, 500, cfg.MaxSessions)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SIP_SERVER_HOST", "pbx.example.com")
	t.Setenv("SIP_SERVER_PORT", "5080")
	t.Setenv("LOCAL_SIP_PORT", "5062")
	t.Setenv("RTPENGINE_HOST", "relay.example.com")
	t.Setenv("RTPENGINE_PORT", "2223")
	t.Setenv("PUBLIC_IP", "198.51.100.4")
	t.Setenv("MAX_SESSIONS", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "pbx.example.com", cfg.SIPServerHost)
	assert.Equal(t, 5080, cfg.SIPServerPort)
	assert.Equal(t, 5062, cfg.LocalSIPPort)
	assert.Equal(t, "relay.example.com", cfg.RTPEngineHost)
	assert.Equal(t, 2223, cfg.RTPEnginePort)
	assert.Equal(t, "198.51.100.4", cfg.PublicIP)
	assert.Equal(t, 25, cfg.MaxSessions)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_SSLRequiresKeyAndCert(t *testing.T) {
	t.Setenv("PUBLIC_IP", "192.0.2.10")
	t.Setenv("ENABLE_SSL", "true")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("SSL_KEY_PATH", "/etc/ssl/key.pem")
	t.Setenv("SSL_CERT_PATH", "/etc/ssl/cert.pem")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.EnableSSL)
}

func TestLoad_MalformedIntFallsBackToDefault(t *testing.T) {
	t.Setenv("PUBLIC_IP", "192.0.2.10")
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}
