package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/internal/mediarelay"
	"github.com/sipbridge/gateway/sip"
)

// handleInvite runs the inbound call path: duplicate detection, re-INVITE
// detection, capacity, SDP validation, and the offer translation (profile
// inbound-offer) that produces the browser-bound offer carried in the
// incoming event.
func (e *Engine) handleInvite(req *sip.Request, raddr *net.UDPAddr) {
	existed, remembered := e.txLayer.LookupOrCreateServerTx(req, raddr)
	if existed {
		if remembered != nil {
			if e.metrics != nil {
				e.metrics.RetriedInvites.Inc()
			}
			_ = e.transport.Send(remembered, raddr)
		}
		return
	}

	callID := headerCallID(req)
	if callID == "" {
		return
	}

	if d := e.dialogs.Get(callID); d != nil {
		e.handleReinvite(d, req, raddr)
		return
	}

	if e.dialogs.Len() >= e.cfg.MaxSessions && e.cfg.MaxSessions > 0 {
		e.sendSimpleResponse(req, raddr, sip.StatusServiceUnavailable, "Service Unavailable")
		return
	}

	offerSDP := flattenSDP(string(req.Body()))
	if err := validateSDP(offerSDP); err != nil {
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	// The To user names the browser peer this call is for; the From user
	// only identifies the telephony-side caller.
	from := req.From()
	peerIdentity := ""
	if to := req.To(); to != nil {
		peerIdentity = to.Address.User
	}

	d := dialog.NewIncoming(callID, peerIdentity)
	d.OriginRequest = req
	d.OriginTransportAddress = raddr
	if key, ok := sip.TxKeyFromRequest(req); ok {
		d.TransactionKey = key
	}
	if from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			d.SetRemoteTag(tag)
		}
	}

	translated, err := e.relay.Offer(context.Background(), callID, d.LocalTag, d.RemoteTag(), offerSDP, mediarelay.ProfileInboundOffer)
	if err != nil {
		e.log.Error().Err(err).Str("call-id", callID).Msg("media-relay offer translation failed")
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	if err := e.dialogs.Create(d); err != nil {
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}
	e.refreshDialogGauge()

	if err := e.txLayer.SendResponse(req, e.build100(req), raddr); err != nil {
		e.log.Warn().Err(err).Msg("failed to send 100 Trying")
	}
	if err := e.txLayer.SendResponse(req, e.build180(req, d), raddr); err != nil {
		e.log.Warn().Err(err).Msg("failed to send 180 Ringing")
	}

	toName, fromName := "", ""
	if to := req.To(); to != nil {
		toName = to.Address.User
	}
	if from != nil {
		fromName = from.Address.User
	}
	e.emit(events.Event{Kind: events.Incoming, CallID: callID, PeerIdentity: peerIdentity, SDP: translated, From: fromName, To: toName})
}

// handleReinvite is the mid-dialog renegotiation path: the new offer is
// translated with the dialog's existing tags and generate-mid set,
// answered immediately with the translated body, and surfaced as a
// renegotiation event rather than a fresh incoming call.
func (e *Engine) handleReinvite(d *dialog.Dialog, req *sip.Request, raddr *net.UDPAddr) {
	if st := d.State(); st != dialog.Established {
		e.log.Warn().Str("call-id", d.CallID).Str("state", st.String()).
			Msg("re-invite outside established state")
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	offerSDP := flattenSDP(string(req.Body()))
	if err := validateSDP(offerSDP); err != nil {
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	profile := mediarelay.ReInviteProfile(mediarelay.ProfileInboundOffer)
	translated, err := e.relay.Offer(context.Background(), d.CallID, d.LocalTag, d.RemoteTag(), offerSDP, profile)
	if err != nil {
		e.log.Error().Err(err).Str("call-id", d.CallID).Msg("media-relay re-invite offer failed")
		e.sendSimpleResponse(req, raddr, sip.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := e.build200(req, translated, d)
	if err := e.txLayer.SendResponse(req, resp, raddr); err != nil {
		e.log.Warn().Err(err).Msg("failed to send 200 to re-INVITE")
	}

	if e.metrics != nil {
		e.metrics.ReInvites.Inc()
	}
	e.emit(events.Event{Kind: events.Renegotiation, CallID: d.CallID, PeerIdentity: d.PeerIdentity, SDP: translated})
}

// AnswerIncoming accepts the browser's answer for a ringing incoming
// call: the SDP is flattened, stripped of any video section, validated,
// translated through the media relay (profile inbound-answer), and sent
// as the 200 OK.
func (e *Engine) AnswerIncoming(ctx context.Context, callID, answerSDP string) error {
	d := e.dialogs.Get(callID)
	if d == nil {
		return ErrNotFound
	}
	if d.Direction != dialog.Incoming || d.State() != dialog.Ringing {
		return ErrProtocol
	}

	answerSDP = stripVideoSection(flattenSDP(answerSDP))
	if err := validateSDP(answerSDP); err != nil {
		return err
	}

	translated, err := e.relay.Answer(ctx, callID, d.LocalTag, d.RemoteTag(), answerSDP, mediarelay.ProfileInboundAnswer)
	if err != nil {
		return fmt.Errorf("engine: media-relay answer: %w", err)
	}

	resp := e.build200(d.OriginRequest, translated, d)
	if err := e.txLayer.SendResponse(d.OriginRequest, resp, d.OriginTransportAddress); err != nil {
		return fmt.Errorf("engine: send 200 OK: %w", err)
	}

	// The dialog may have been torn down while the relay call was in
	// flight; a failed transition just means cleanup already owns it.
	d.TryTransition(dialog.Ringing, dialog.Answered)
	return nil
}

// Reject declines a ringing incoming call: sends a final non-2xx and runs
// cleanup immediately, since no ACK-wait is needed for a non-2xx final
// response (the peer's own ACK retires the transaction, but the dialog
// record is done the moment the response is sent).
func (e *Engine) Reject(ctx context.Context, callID string, status int) error {
	d := e.dialogs.Get(callID)
	if d == nil {
		return ErrNotFound
	}
	if d.Direction != dialog.Incoming || d.State() != dialog.Ringing {
		return ErrProtocol
	}
	resp := sip.NewResponseFromRequest(d.OriginRequest, status, sip.ReasonPhrase(status), nil)
	resp.TagTo(d.LocalTag)
	if err := e.txLayer.SendResponse(d.OriginRequest, resp, d.OriginTransportAddress); err != nil {
		e.log.Warn().Err(err).Msg("failed to send reject response")
	}
	e.emit(events.Event{Kind: events.Ended, CallID: callID, PeerIdentity: d.PeerIdentity, Reason: "rejected"})
	e.cleanup(d)
	return nil
}

// handleAck retires the server transaction awaiting ACK for a 2xx and
// flips the dialog to Established.
func (e *Engine) handleAck(req *sip.Request) {
	e.txLayer.HandleAck(req)
	callID := headerCallID(req)
	if callID == "" {
		return
	}
	d := e.dialogs.Get(callID)
	if d == nil {
		return
	}
	d.MarkAcked()
}

// handleBye ends an established dialog the peer hung up first.
func (e *Engine) handleBye(req *sip.Request, raddr *net.UDPAddr) {
	callID := headerCallID(req)
	d := e.dialogs.Get(callID)
	if d == nil {
		e.log.Warn().Str("call-id", callID).Msg("bye for unknown dialog, ignoring")
		return
	}
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	resp.TagTo(d.LocalTag)
	if err := e.txLayer.SendResponse(req, resp, raddr); err != nil {
		e.log.Warn().Err(err).Msg("failed to send 200 to BYE")
	}
	e.emit(events.Event{Kind: events.Ended, CallID: callID, PeerIdentity: d.PeerIdentity, Reason: "bye"})
	e.cleanup(d)
}

// handleCancel aborts a still-ringing incoming call. It deliberately
// bypasses LookupOrCreateServerTx/SendResponse: a CANCEL shares branch,
// call-id and CSeq number with the INVITE it cancels, so registering it
// through the normal server-transaction map would collide with the
// INVITE's own entry under the same TxKey. Both the 200 to the CANCEL and
// the 487 to the original INVITE go out as direct transport sends.
func (e *Engine) handleCancel(req *sip.Request, raddr *net.UDPAddr) {
	callID := headerCallID(req)
	d := e.dialogs.Get(callID)

	okResp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	_ = e.transport.Send(okResp, raddr)

	if d == nil || d.State() != dialog.Ringing {
		return
	}

	resp := e.build487(d)
	_ = e.transport.Send(resp, raddr)

	e.emit(events.Event{Kind: events.Ended, CallID: callID, PeerIdentity: d.PeerIdentity, Reason: "cancelled"})
	e.cleanup(d)
}

// handleInfo extracts out-of-band DTMF from INFO requests. Anything that
// is not a recognized dtmf-relay body is answered 200 OK and
// otherwise ignored, matching the gateway's role as a transparent relay
// for INFO bodies it doesn't understand.
func (e *Engine) handleInfo(req *sip.Request, raddr *net.UDPAddr) {
	callID := headerCallID(req)
	d := e.dialogs.Get(callID)
	if d == nil {
		e.log.Warn().Str("call-id", callID).Msg("info for unknown dialog, ignoring")
		return
	}
	e.sendSimpleResponse(req, raddr, sip.StatusOK, "OK")

	contentType := ""
	if ct := req.ContentType(); ct != nil {
		contentType = string(*ct)
	}
	if !isDTMFCarrier(contentType) {
		return
	}
	digit, durationMS, ok := parseDTMFBody(string(req.Body()))
	if !ok {
		return
	}
	if e.metrics != nil {
		e.metrics.DTMFDigitsReceived.Inc()
	}
	e.emit(events.Event{Kind: events.DTMF, CallID: callID, PeerIdentity: d.PeerIdentity, Digit: digit, Duration: durationMS})
}

// handleOptions answers an OPTIONS liveness probe: 200 OK advertising the
// methods and extensions this gateway supports, with no dialog state
// implied either way.
func (e *Engine) handleOptions(req *sip.Request, raddr *net.UDPAddr) {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Allow", sip.AllowHeaderValue()))
	resp.AppendHeader(sip.NewHeader("Supported", "replaces, timer"))
	resp.AppendHeader(e.contactHeader())
	if err := e.txLayer.SendResponse(req, resp, raddr); err != nil {
		e.log.Warn().Err(err).Msg("failed to send OPTIONS response")
	}
}
