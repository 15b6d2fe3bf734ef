// Package mediarelay talks to the external media-relay daemon over a
// JSON/HTTP control channel: ping, offer, answer, delete. The
// gateway never touches the media plane directly; this client is the only
// thing standing between the signaling engine and RTP/SRTP bridging.
package mediarelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrRelay is returned when the daemon reports a non-ok result, or every
// retry attempt fails.
var ErrRelay = errors.New("mediarelay: operation failed")

const (
	maxAttempts   = 3
	perCallTimeout = 5 * time.Second
)

// Profile is the per-direction/per-phase parameter set the daemon applies
// when rewriting an SDP. Fields are omitted from the wire payload when
// empty so the minimal inbound-answer payload (the daemon reuses the offer
// phase's parameters) can be expressed as a mostly-zero value.
type Profile struct {
	Transport   string `json:"transport,omitempty"`
	ICE         string `json:"ice,omitempty"`
	DTLS        string `json:"dtls,omitempty"`
	RTCPMux     string `json:"rtcp-mux,omitempty"`
	CodecStrip  []string `json:"codec-strip,omitempty"`
	CodecOffer  []string `json:"codec-offer,omitempty"`
	GenerateMid bool   `json:"generate-mid,omitempty"`
}

var (
	// ProfileOutboundOffer: browser->telephony INVITE offer.
	ProfileOutboundOffer = Profile{
		Transport:  "RTP/AVP",
		ICE:        "remove",
		RTCPMux:    "demux",
		CodecStrip: []string{"opus"},
		CodecOffer: []string{"PCMU", "PCMA"},
	}
	// ProfileOutboundAnswer: telephony->browser 200 answer.
	ProfileOutboundAnswer = Profile{
		Transport:  "UDP/TLS/RTP/SAVPF",
		ICE:        "force",
		DTLS:       "passive",
		RTCPMux:    "offer",
		CodecStrip: []string{"telephone-event"},
		CodecOffer: []string{"opus", "PCMU", "PCMA"},
	}
	// ProfileInboundOffer: telephony->browser INVITE offer.
	ProfileInboundOffer = Profile{
		Transport: "UDP/TLS/RTP/SAVPF",
		ICE:       "force",
		DTLS:      "passive",
		RTCPMux:   "require",
	}
	// ProfileInboundAnswer is intentionally empty: the daemon reuses the
	// offer phase's parameters for the minimal {call-id,from-tag,to-tag,sdp}
	// payload.
	ProfileInboundAnswer = Profile{}
)

// ReInviteProfile mirrors the original direction's transport/ICE and sets
// generate-mid for a mid-dialog renegotiation.
func ReInviteProfile(original Profile) Profile {
	p := original
	p.GenerateMid = true
	return p
}

// Request is the wire shape for every operation: call-id, from-tag,
// optional to-tag and sdp, plus a profile object.
type Request struct {
	CallID  string  `json:"call-id"`
	FromTag string  `json:"from-tag"`
	ToTag   string  `json:"to-tag,omitempty"`
	SDP     string  `json:"sdp,omitempty"`
	Profile Profile `json:"profile"`
}

// Response is the wire shape of every reply.
type Response struct {
	Result      string `json:"result"`
	SDP         string `json:"sdp,omitempty"`
	ErrorReason string `json:"error-reason,omitempty"`
}

func (r Response) ok() bool { return r.Result == "ok" }

// Client is a bounded-retry JSON/HTTP client for the media-relay daemon.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	running chan struct{}

	// observe, when set, is called once per top-level operation with its
	// wall-clock duration, regardless of retry count. Wired to
	// internal/metrics without this package importing it directly.
	observe func(op string, d time.Duration)
}

// New builds a Client targeting the daemon at host:port.
func New(host string, port int, log zerolog.Logger) *Client {
	c := &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{Timeout: perCallTimeout},
		log:     log,
		running: make(chan struct{}),
	}
	close(c.running) // closed channel reads immediately; Stop re-creates an open one.
	return c
}

// SetObserver wires a latency callback invoked after every ping/offer/
// answer/delete, successful or not.
func (c *Client) SetObserver(fn func(op string, d time.Duration)) {
	c.observe = fn
}

// Stop flips the client to not-running: further calls are rejected
// immediately without touching the network, so shutdown never initiates
// new relay work.
func (c *Client) Stop() {
	c.running = make(chan struct{})
}

func (c *Client) isRunning() bool {
	select {
	case <-c.running:
		return true
	default:
		return false
	}
}

func (c *Client) call(ctx context.Context, op string, req Request) (Response, error) {
	if !c.isRunning() {
		return Response{}, fmt.Errorf("%w: client stopped", ErrRelay)
	}
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(op, time.Since(start)) }()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.callOnce(ctx, op, req)
		if err == nil {
			if !resp.ok() {
				return resp, fmt.Errorf("%w: %s", ErrRelay, resp.ErrorReason)
			}
			return resp, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("op", op).Str("call-id", req.CallID).
			Int("attempt", attempt).Msg("media-relay call failed, retrying")
		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
	}
	return Response{}, fmt.Errorf("%w: %s", ErrRelay, lastErr)
}

func (c *Client) callOnce(ctx context.Context, op string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	return out, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", Request{})
	return err
}

// Offer submits an SDP offer for translation and returns the translated SDP.
// toTag is empty for an outgoing call's initial offer; the engine passes the
// dialog's remote tag for an incoming call's offer and for a re-INVITE
// offer.
func (c *Client) Offer(ctx context.Context, callID, fromTag, toTag, sdp string, profile Profile) (string, error) {
	resp, err := c.call(ctx, "offer", Request{CallID: callID, FromTag: fromTag, ToTag: toTag, SDP: sdp, Profile: profile})
	if err != nil {
		return "", err
	}
	return resp.SDP, nil
}

// Answer submits an SDP answer for translation.
func (c *Client) Answer(ctx context.Context, callID, fromTag, toTag, sdp string, profile Profile) (string, error) {
	resp, err := c.call(ctx, "answer", Request{CallID: callID, FromTag: fromTag, ToTag: toTag, SDP: sdp, Profile: profile})
	if err != nil {
		return "", err
	}
	return resp.SDP, nil
}

// Delete tears down the relay session for a call. Called exactly once per
// completed call, through the engine's single cleanup path.
func (c *Client) Delete(ctx context.Context, callID, fromTag, toTag string) error {
	_, err := c.call(ctx, "delete", Request{CallID: callID, FromTag: fromTag, ToTag: toTag})
	return err
}
