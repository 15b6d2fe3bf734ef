package hub

import (
	"context"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/sip"
)

// Emit implements events.Sink: every engine-side call event is routed to
// the browser peer that owns the dialog and translated into its wire
// message. Runs on whatever goroutine the engine raised the event from;
// peer.enqueue keeps the actual socket write on the peer's single writer
// goroutine.
func (h *Hub) Emit(ev events.Event) {
	switch ev.Kind {
	case events.Incoming:
		h.deliverIncoming(ev)
	case events.Ringing:
		h.toOwner(ev.CallID, outboundMessage{Type: typeCallRinging, CallID: ev.CallID})
	case events.Answered:
		h.toOwner(ev.CallID, outboundMessage{Type: typeCallAnswered, CallID: ev.CallID, SDP: ev.SDP})
	case events.Failed:
		h.toOwner(ev.CallID, outboundMessage{Type: typeCallFailed, CallID: ev.CallID, Reason: ev.Reason})
		h.dropCall(ev.CallID)
	case events.Ended:
		h.toOwner(ev.CallID, outboundMessage{Type: typeCallEnded, CallID: ev.CallID, Reason: ev.Reason})
		h.dropCall(ev.CallID)
	case events.DTMF:
		h.toOwner(ev.CallID, outboundMessage{Type: typeDTMF, CallID: ev.CallID, Digit: ev.Digit, Duration: ev.Duration})
	case events.Renegotiation:
		h.toOwner(ev.CallID, outboundMessage{Type: typeMediaRenegotiation, CallID: ev.CallID, SDP: ev.SDP})
	}
}

// deliverIncoming offers a telephony-originated call to the named browser
// peer, or tells the engine to reject with 480 Temporarily Unavailable
// when that peer is not registered.
func (h *Hub) deliverIncoming(ev events.Event) {
	h.mu.Lock()
	p, ok := h.peers[ev.PeerIdentity]
	if ok {
		h.activeCall[ev.CallID] = activeCall{Owner: ev.PeerIdentity, Origin: dialog.Incoming, Counterpart: ev.From}
		p.incomingCallID = ev.CallID
	}
	h.mu.Unlock()

	if !ok {
		h.log.Info().Str("call-id", ev.CallID).Str("user", ev.PeerIdentity).
			Msg("incoming call for unregistered peer, rejecting 480")
		ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
		defer cancel()
		_ = h.engine.Reject(ctx, ev.CallID, sip.StatusTemporarilyUnavail)
		return
	}
	p.enqueue(outboundMessage{Type: typeIncomingCall, CallID: ev.CallID, From: ev.From, To: ev.To, SDP: ev.SDP})
}

func (h *Hub) toOwner(callID string, msg outboundMessage) {
	h.mu.Lock()
	entry, ok := h.activeCall[callID]
	var p *peer
	if ok {
		p = h.peers[entry.Owner]
	}
	h.mu.Unlock()
	if p == nil {
		return
	}
	p.enqueue(msg)
}

// dropCall forgets a finished call's active-call entry and clears the
// pending-incoming marker if this was the call it pointed at.
func (h *Hub) dropCall(callID string) {
	h.mu.Lock()
	entry, ok := h.activeCall[callID]
	delete(h.activeCall, callID)
	if ok {
		if p := h.peers[entry.Owner]; p != nil && p.incomingCallID == callID {
			p.incomingCallID = ""
		}
	}
	h.mu.Unlock()
}
