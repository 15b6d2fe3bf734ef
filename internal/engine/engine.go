// Package engine implements the signaling engine: the state machine
// gluing the message codec, transport, and transaction layer (package
// sip) to the media-relay client and the typed event bus, for both
// outgoing and incoming call dialogs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/internal/mediarelay"
	"github.com/sipbridge/gateway/internal/metrics"
	"github.com/sipbridge/gateway/sip"
)

// mediarelayCleanupTimeout bounds the delete RPC issued during dialog
// teardown so a wedged relay never blocks cleanup indefinitely.
const mediarelayCleanupTimeout = 2 * time.Second

// Config is the subset of internal/config.Config the engine needs,
// resolved to concrete values (advertised address already picked,
// sip server address not yet resolved).
type Config struct {
	PublicIP      string
	LocalSIPPort  int
	SIPServerHost string
	SIPServerPort int
	Domain        string
	GatewayUser   string
	DisplayName   string
	MaxSessions   int
}

// Engine is the core call-state machine. It owns the dialog store and the
// transaction layer and is the sole caller of the media-relay client for
// SDP translation.
type Engine struct {
	cfg       Config
	transport *sip.Transport
	txLayer   *sip.Layer
	dialogs   *dialog.Store
	relay     *mediarelay.Client
	sink      events.Sink
	metrics   *metrics.Metrics
	log       zerolog.Logger

	sipServerAddr *net.UDPAddr

	mu             sync.Mutex
	outboundInvite map[string]*sip.Request
	outboundRaddr  map[string]*net.UDPAddr
}

// New builds an Engine bound to transport, talking to relay, emitting
// events into sink.
func New(cfg Config, transport *sip.Transport, relay *mediarelay.Client, sink events.Sink, m *metrics.Metrics, log zerolog.Logger, sipLog *slog.Logger) (*Engine, error) {
	sipServerAddr, err := sip.ResolveUDPAddr(sip.HostPort(cfg.SIPServerHost, cfg.SIPServerPort))
	if err != nil {
		return nil, fmt.Errorf("engine: resolve sip server address: %w", err)
	}
	e := &Engine{
		cfg:            cfg,
		transport:      transport,
		txLayer:        sip.NewLayer(transport, sipLog),
		dialogs:        dialog.NewStore(cfg.MaxSessions),
		relay:          relay,
		sink:           sink,
		metrics:        m,
		log:            log,
		sipServerAddr:  sipServerAddr,
		outboundInvite: make(map[string]*sip.Request),
		outboundRaddr:  make(map[string]*net.UDPAddr),
	}
	e.txLayer.SetAckTimeoutHandler(e.onAckTimeout)
	return e, nil
}

// Start begins serving inbound UDP datagrams. Non-blocking: Serve runs in
// its own goroutine since the engine has other entry points (PlaceCall,
// AnswerIncoming, Hangup) driven by the browser-signaling hub.
func (e *Engine) Start() {
	go func() {
		if err := e.transport.Serve(e.dispatch); err != nil {
			e.log.Error().Err(err).Msg("sip transport stopped serving")
		}
	}()
}

// Shutdown hangs up every live dialog, stops the media-relay client, and
// closes the UDP socket, in that order.
func (e *Engine) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range e.dialogs.All() {
		wg.Add(1)
		go func(callID string) {
			defer wg.Done()
			_ = e.Hangup(ctx, callID)
		}(d.CallID)
	}
	wg.Wait()
	e.relay.Stop()
	_ = e.transport.Close()
}

// Lookup reports the owning peer identity and direction for callID, for
// the hub to decide whether a disconnecting peer owns this dialog.
func (e *Engine) Lookup(callID string) (peerIdentity string, direction dialog.Direction, ok bool) {
	d := e.dialogs.Get(callID)
	if d == nil {
		return "", 0, false
	}
	return d.PeerIdentity, d.Direction, true
}

// ActiveCallCount reports the live dialog count, for the /health surface.
func (e *Engine) ActiveCallCount() int { return e.dialogs.Len() }

func (e *Engine) emit(ev events.Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

func (e *Engine) refreshDialogGauge() {
	if e.metrics != nil {
		e.metrics.ActiveDialogs.Set(float64(e.dialogs.Len()))
	}
}

func (e *Engine) failReason(d *dialog.Dialog, reason string) {
	e.emit(events.Event{Kind: events.Failed, CallID: d.CallID, PeerIdentity: d.PeerIdentity, Reason: reason})
	if e.metrics != nil {
		e.metrics.CallsFailed.WithLabelValues(reason).Inc()
	}
}

// cleanup is the single destruction path every dialog must go through:
// idempotent via Store.BeginTerminate, always cancels outstanding
// server-transaction timers, always issues a media-relay delete, and
// always removes the dialog from the store.
func (e *Engine) cleanup(d *dialog.Dialog) {
	if _, _, shouldCleanup := e.dialogs.BeginTerminate(d.CallID); !shouldCleanup {
		return
	}
	e.finishCleanup(d)
}

// finishCleanup runs the teardown side effects for a dialog the caller has
// already won the BeginTerminate race for.
func (e *Engine) finishCleanup(d *dialog.Dialog) {
	if d.TransactionKey != (sip.TxKey{}) {
		e.txLayer.CancelServerTx(d.TransactionKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mediarelayCleanupTimeout)
	defer cancel()
	if err := e.relay.Delete(ctx, d.CallID, d.LocalTag, d.RemoteTag()); err != nil {
		e.log.Warn().Err(err).Str("call-id", d.CallID).Msg("media-relay delete failed during cleanup")
	}

	e.mu.Lock()
	delete(e.outboundInvite, d.CallID)
	delete(e.outboundRaddr, d.CallID)
	e.mu.Unlock()

	e.dialogs.Remove(d.CallID)
	e.refreshDialogGauge()
}

// onAckTimeout ends an answered incoming dialog whose ACK never arrived:
// Timer-H expiry terminates it with a call-failed ack-timeout event. An
// ACK arriving later finds no dialog and cannot resurrect the call.
func (e *Engine) onAckTimeout(key sip.TxKey) {
	d := e.dialogs.Get(key.CallID)
	if d == nil || d.State() != dialog.Answered {
		return
	}
	e.failReason(d, "ack-timeout")
	e.cleanup(d)
}

// dispatch is the transport.MessageHandler entry point: B -> A (already
// parsed by the transport) -> C/F.
func (e *Engine) dispatch(msg sip.Message, raddr *net.UDPAddr) {
	switch m := msg.(type) {
	case *sip.Response:
		e.txLayer.HandleResponse(m)
	case *sip.Request:
		e.handleRequest(m, raddr)
	}
}

func (e *Engine) handleRequest(req *sip.Request, raddr *net.UDPAddr) {
	natFixup(req, raddr)
	switch req.Method {
	case sip.INVITE:
		e.handleInvite(req, raddr)
	case sip.ACK:
		e.handleAck(req)
	case sip.BYE:
		e.handleBye(req, raddr)
	case sip.CANCEL:
		e.handleCancel(req, raddr)
	case sip.INFO:
		e.handleInfo(req, raddr)
	case sip.OPTIONS:
		e.handleOptions(req, raddr)
	default:
		e.sendSimpleResponse(req, raddr, sip.StatusNotImplemented, "Not Implemented")
	}
}

func (e *Engine) sendSimpleResponse(req *sip.Request, raddr *net.UDPAddr, status int, reason string) {
	resp := sip.NewResponseFromRequest(req, status, reason, nil)
	if err := e.txLayer.SendResponse(req, resp, raddr); err != nil {
		e.log.Warn().Err(err).Int("status", status).Msg("failed to send response")
	}
}

func headerCallID(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return string(*cid)
	}
	return ""
}

// natFixup rewrites the top Via in place for any inbound request carrying
// the rport token, so responses echo an address the peer can match behind
// NAT. Applying it twice with the same source address is a no-op beyond
// the first call: the Via's Host/Port fields are never mutated, only the
// rport/received params, and re-deriving the same actual address yields
// the same param values.
func natFixup(req *sip.Request, raddr *net.UDPAddr) {
	via := req.Via()
	if via == nil || !via.Params.Has("rport") {
		return
	}
	actualHost := raddr.IP.String()
	actualPort := raddr.Port
	via.Params.Add("rport", strconv.Itoa(actualPort))
	if via.Host != actualHost || via.Port != actualPort {
		via.Params.Add("received", actualHost)
	}
}
