// Package httpapi serves the gateway's HTTP surface: the WebSocket
// signaling endpoint, GET /health, a human status page at /, a Prometheus
// /metrics endpoint, and CORS preflight handling.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Status is the snapshot /health and / render. The callbacks are polled on
// every request so the numbers are always current without the server
// holding references to the hub/engine types.
type Status struct {
	SSLEnabled bool
	PeerCount  func() int
	CallCount  func() int
	RelayAddr  string
	RelayUp    func() bool
}

type healthPayload struct {
	Status     string `json:"status"`
	SSLEnabled bool   `json:"sslEnabled"`
	PeerCount  int    `json:"peerCount"`
	CallCount  int    `json:"callCount"`
	Relay      struct {
		Addr      string `json:"addr"`
		Reachable bool   `json:"reachable"`
	} `json:"relayMetrics"`
}

// New builds the gateway's HTTP handler. signaling is mounted at /ws;
// gatherer backs /metrics.
func New(status Status, signaling http.Handler, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", signaling)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		var p healthPayload
		p.Status = "ok"
		p.SSLEnabled = status.SSLEnabled
		p.PeerCount = status.PeerCount()
		p.CallCount = status.CallCount()
		p.Relay.Addr = status.RelayAddr
		p.Relay.Reachable = status.RelayUp()
		if !p.Relay.Reachable {
			p.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			log.Warn().Err(err).Msg("failed to write health response")
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "sipbridge gateway\n\npeers:  %d\ncalls:  %d\nrelay:  %s\ntime:   %s\n",
			status.PeerCount(), status.CallCount(), status.RelayAddr,
			time.Now().UTC().Format(time.RFC3339))
	})

	return withCORS(mux)
}

// withCORS answers every OPTIONS preflight directly and stamps the
// permissive headers browser peers need on everything else.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
