// Package config reads the gateway's environment inputs into a plain
// struct: flat fields, os.Getenv plus defaults, no global singleton. The
// gateway takes a *Config by constructor injection everywhere it is
// needed.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sipbridge/gateway/sip"
)

// Config holds every environment input the gateway reads.
type Config struct {
	Port int

	EnableSSL   bool
	SSLKeyPath  string
	SSLCertPath string

	EnableSIPGateway bool
	SIPServerHost    string
	SIPServerPort    int
	SIPDomain        string
	LocalSIPPort     int

	RTPEngineHost string
	RTPEnginePort int

	// PublicIP is the resolved advertised address: either the literal
	// PUBLIC_IP value or, when it is "auto", the first non-loopback IPv4
	// interface address (glossary: "advertised address").
	PublicIP string

	MaxSessions int
	LogLevel    string
}

// Load reads the process environment and applies the defaults a
// single-binary gateway deployment needs. There is no flag parsing: the
// gateway runs from environment variables alone (container-style
// deployment).
func Load() (*Config, error) {
	cfg := &Config{
		Port:             envInt("PORT", 8080),
		EnableSSL:        envBool("ENABLE_SSL", false),
		SSLKeyPath:       os.Getenv("SSL_KEY_PATH"),
		SSLCertPath:      os.Getenv("SSL_CERT_PATH"),
		EnableSIPGateway: envBool("ENABLE_SIP_GATEWAY", true),
		SIPServerHost:    envString("SIP_SERVER_HOST", "127.0.0.1"),
		SIPServerPort:    envInt("SIP_SERVER_PORT", 5060),
		SIPDomain:        envString("SIP_DOMAIN", "gateway.local"),
		LocalSIPPort:     envInt("LOCAL_SIP_PORT", 5060),
		RTPEngineHost:    envString("RTPENGINE_HOST", "127.0.0.1"),
		RTPEnginePort:    envInt("RTPENGINE_PORT", 22222),
		MaxSessions:      envInt("MAX_SESSIONS", 500),
		LogLevel:         envString("LOG_LEVEL", "info"),
	}

	publicIP := envString("PUBLIC_IP", "auto")
	if publicIP == "auto" {
		ip, err := sip.ResolveAdvertisedIP()
		if err != nil {
			return nil, fmt.Errorf("config: resolve PUBLIC_IP=auto: %w", err)
		}
		publicIP = ip
	}
	cfg.PublicIP = publicIP

	if cfg.EnableSSL && (cfg.SSLKeyPath == "" || cfg.SSLCertPath == "") {
		return nil, fmt.Errorf("config: ENABLE_SSL set without SSL_KEY_PATH/SSL_CERT_PATH")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
