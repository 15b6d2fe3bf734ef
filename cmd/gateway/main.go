// Command gateway runs the WebRTC<->SIP signaling gateway: a browser-facing
// WebSocket signaling hub, a UDP SIP leg toward the telephony network, and
// a control channel to the external media-relay daemon that bridges the two
// media planes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sipbridge/gateway/internal/config"
	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/engine"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/internal/httpapi"
	"github.com/sipbridge/gateway/internal/hub"
	"github.com/sipbridge/gateway/internal/mediarelay"
	"github.com/sipbridge/gateway/internal/metrics"
	"github.com/sipbridge/gateway/sip"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.000",
	}).With().Timestamp().Logger().Level(parseLevel(cfg.LogLevel))

	sipLog := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	}))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	relay := mediarelay.New(cfg.RTPEngineHost, cfg.RTPEnginePort, log.With().Str("component", "mediarelay").Logger())
	relay.SetObserver(func(op string, d time.Duration) {
		m.RelayLatency.WithLabelValues(op).Observe(d.Seconds())
	})

	var eng *engine.Engine
	var hubEngine hub.Engine = disabledEngine{}

	if cfg.EnableSIPGateway {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := relay.Ping(pingCtx); err != nil {
			cancel()
			log.Error().Err(err).Str("relay", cfg.RTPEngineHost).Msg("media-relay unreachable")
			return 1
		}
		cancel()

		transport, err := sip.ListenUDP(sip.HostPort("0.0.0.0", cfg.LocalSIPPort), sipLog)
		if err != nil {
			log.Error().Err(err).Int("port", cfg.LocalSIPPort).Msg("failed to bind sip port")
			return 1
		}

		// The hub does not exist yet when the engine is built; the sink
		// closure resolves it at emit time.
		var h *hub.Hub
		sink := events.SinkFunc(func(ev events.Event) {
			if h != nil {
				h.Emit(ev)
			}
		})

		eng, err = engine.New(engine.Config{
			PublicIP:      cfg.PublicIP,
			LocalSIPPort:  cfg.LocalSIPPort,
			SIPServerHost: cfg.SIPServerHost,
			SIPServerPort: cfg.SIPServerPort,
			Domain:        cfg.SIPDomain,
			GatewayUser:   "gateway",
			DisplayName:   "SIP Gateway",
			MaxSessions:   cfg.MaxSessions,
		}, transport, relay, sink, m, log.With().Str("component", "engine").Logger(), sipLog)
		if err != nil {
			log.Error().Err(err).Msg("failed to build signaling engine")
			return 1
		}
		hubEngine = eng
		h = hub.New(hubEngine, log.With().Str("component", "hub").Logger(), m)
		eng.Start()
		log.Info().Int("sip-port", cfg.LocalSIPPort).Str("public-ip", cfg.PublicIP).
			Str("upstream", sip.HostPort(cfg.SIPServerHost, cfg.SIPServerPort)).Msg("sip gateway started")
		return serve(cfg, h, eng, relay, reg)
	}

	h := hub.New(hubEngine, log.With().Str("component", "hub").Logger(), m)
	log.Info().Msg("sip gateway disabled, running signaling hub only")
	return serve(cfg, h, nil, relay, reg)
}

func serve(cfg *config.Config, h *hub.Hub, eng *engine.Engine, relay *mediarelay.Client, reg *prometheus.Registry) int {
	callCount := func() int { return 0 }
	if eng != nil {
		callCount = eng.ActiveCallCount
	}
	handler := httpapi.New(httpapi.Status{
		SSLEnabled: cfg.EnableSSL,
		PeerCount:  h.PeerCount,
		CallCount:  callCount,
		RelayAddr:  sip.HostPort(cfg.RTPEngineHost, cfg.RTPEnginePort),
		RelayUp: func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return relay.Ping(ctx) == nil
		},
	}, h, reg, log.With().Str("component", "http").Logger())

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		if cfg.EnableSSL {
			errCh <- srv.ListenAndServeTLS(cfg.SSLCertPath, cfg.SSLKeyPath)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Int("port", cfg.Port).Bool("ssl", cfg.EnableSSL).Msg("http listener started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http listener failed")
			return 1
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if eng != nil {
		eng.Shutdown(shutdownCtx)
	} else {
		relay.Stop()
	}
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
	return 0
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// disabledEngine stands in for the signaling engine when
// ENABLE_SIP_GATEWAY=false: browser-to-browser signaling keeps working and
// every telephony-bound operation reports the gateway as unavailable.
type disabledEngine struct{}

var errGatewayDisabled = errors.New("sip gateway is disabled")

func (disabledEngine) PlaceCall(context.Context, string, sip.Uri, string) (string, error) {
	return "", errGatewayDisabled
}
func (disabledEngine) AnswerIncoming(context.Context, string, string) error { return errGatewayDisabled }
func (disabledEngine) Hangup(context.Context, string) error                 { return errGatewayDisabled }
func (disabledEngine) Reject(context.Context, string, int) error            { return errGatewayDisabled }
func (disabledEngine) Lookup(string) (string, dialog.Direction, bool)       { return "", 0, false }
