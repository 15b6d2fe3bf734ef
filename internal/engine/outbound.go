package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/internal/mediarelay"
	"github.com/sipbridge/gateway/sip"
)

// PlaceCall starts an outgoing telephony call: validate the browser's
// offer, translate it through the media relay (profile outbound-offer),
// allocate a dialog, and send the INVITE. The returned call-id is the
// handle every later operation (Hangup, DTMF) takes.
func (e *Engine) PlaceCall(ctx context.Context, peerIdentity string, target sip.Uri, offerSDP string) (string, error) {
	offerSDP = flattenSDP(offerSDP)
	if err := validateSDP(offerSDP); err != nil {
		return "", err
	}

	callID := dialog.NewCallID(e.cfg.PublicIP)
	d := dialog.NewOutgoing(callID, peerIdentity, target)

	translated, err := e.relay.Offer(ctx, callID, d.LocalTag, "", offerSDP, mediarelay.ProfileOutboundOffer)
	if err != nil {
		return "", fmt.Errorf("engine: media-relay offer: %w", err)
	}

	if err := e.dialogs.Create(d); err != nil {
		return "", err
	}
	e.refreshDialogGauge()

	branch := sip.GenerateBranch()
	req := e.buildInvite(d, target, branch, translated)

	e.mu.Lock()
	e.outboundInvite[callID] = req
	e.outboundRaddr[callID] = e.sipServerAddr
	e.mu.Unlock()

	if err := e.txLayer.SendRequest(req, e.sipServerAddr, func(resp *sip.Response, isTimeout bool) {
		e.onInviteResponse(callID, isTimeout, resp)
	}); err != nil {
		e.cleanup(d)
		return "", fmt.Errorf("engine: send invite: %w", err)
	}

	return callID, nil
}

// onInviteResponse is the client-transaction callback for an outbound
// INVITE: provisional responses surface ringing, the first 2xx triggers
// the answer path, any >=300 or the synthetic timeout response fails the
// call.
func (e *Engine) onInviteResponse(callID string, isTimeout bool, resp *sip.Response) {
	d := e.dialogs.Get(callID)
	if d == nil {
		return
	}

	if isTimeout {
		e.failReason(d, "request-timeout")
		e.cleanup(d)
		return
	}

	switch {
	case resp.IsProvisional():
		if resp.StatusCode == sip.StatusRinging {
			if t := resp.To(); t != nil {
				if tag, ok := t.Params.Get("tag"); ok {
					d.SetRemoteTag(tag)
				}
			}
			e.emit(events.Event{Kind: events.Ringing, CallID: callID, PeerIdentity: d.PeerIdentity})
		}
	case resp.IsSuccess():
		e.handleInviteSuccess(d, resp)
	default:
		e.failReason(d, fmt.Sprintf("sip-%d", resp.StatusCode))
		e.cleanup(d)
	}
}

// handleInviteSuccess completes the outbound call: ACK the 2xx, translate
// the answer (profile outbound-answer), mark the dialog established, and
// surface it to the browser.
func (e *Engine) handleInviteSuccess(d *dialog.Dialog, resp *sip.Response) {
	e.mu.Lock()
	invite := e.outboundInvite[d.CallID]
	raddr := e.outboundRaddr[d.CallID]
	delete(e.outboundInvite, d.CallID)
	delete(e.outboundRaddr, d.CallID)
	e.mu.Unlock()
	if invite == nil {
		return
	}

	if t := resp.To(); t != nil {
		if tag, ok := t.Params.Get("tag"); ok {
			d.SetRemoteTag(tag)
		}
	}

	ack := e.buildAckFor2xx(invite, resp)
	target := contactTarget(resp, raddr)
	if err := e.transport.Send(ack, target); err != nil {
		e.log.Warn().Err(err).Str("call-id", d.CallID).Msg("failed to send ACK for 2xx")
	}

	answerSDP := string(resp.Body())
	translated, err := e.relay.Answer(context.Background(), d.CallID, d.LocalTag, d.RemoteTag(), answerSDP, mediarelay.ProfileOutboundAnswer)
	if err != nil {
		e.log.Error().Err(err).Str("call-id", d.CallID).Msg("media-relay answer translation failed")
		e.failReason(d, "media-relay-error")
		e.cleanup(d)
		return
	}

	// A dialog torn down while the relay call was in flight stays down.
	if !d.Establish() {
		return
	}
	e.emit(events.Event{Kind: events.Answered, CallID: d.CallID, PeerIdentity: d.PeerIdentity, SDP: translated})
}

// Hangup sends BYE for an answered or established dialog; for a dialog
// still calling/ringing it sends CANCEL (outgoing) or a 487 to the original
// INVITE (incoming). It then runs cleanup. It is also the path Shutdown and
// disconnect-driven teardown use.
func (e *Engine) Hangup(ctx context.Context, callID string) error {
	// Winning the BeginTerminate race up front serializes concurrent
	// hangup paths: the loser sees ok=false and sends nothing, so a BYE
	// never goes out twice for one dialog.
	d, prev, ok := e.dialogs.BeginTerminate(callID)
	if d == nil {
		return ErrNotFound
	}
	if !ok {
		return nil
	}

	switch prev {
	case dialog.Calling, dialog.Ringing:
		if d.Direction == dialog.Outgoing {
			e.mu.Lock()
			invite := e.outboundInvite[callID]
			e.mu.Unlock()
			if invite != nil {
				cancel := sip.NewCancelRequest(invite)
				_ = e.txLayer.SendRequest(cancel, e.sipServerAddr, func(*sip.Response, bool) {})
			}
		} else {
			resp := e.build487(d)
			if err := e.txLayer.SendResponse(d.OriginRequest, resp, e.byeTarget(d)); err != nil {
				e.log.Warn().Err(err).Msg("failed to send 487 on hangup")
			}
		}
	case dialog.Answered, dialog.Established:
		bye := e.buildBye(d)
		deadline, cancelTimer := context.WithTimeout(ctx, 2*time.Second)
		defer cancelTimer()
		done := make(chan struct{})
		_ = e.txLayer.SendRequest(bye, e.byeTarget(d), func(*sip.Response, bool) { close(done) })
		select {
		case <-done:
		case <-deadline.Done():
		}
	}

	e.emit(events.Event{Kind: events.Ended, CallID: callID, PeerIdentity: d.PeerIdentity, Reason: "hangup"})
	e.finishCleanup(d)
	return nil
}
