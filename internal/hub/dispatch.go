package hub

import (
	"context"
	"strings"
	"time"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/sip"
)

const engineCallTimeout = 5 * time.Second

// isTelephonyTarget reports whether a call-request/offer's "to" names a
// SIP URI, which routes through the signaling engine, rather than another
// registered browser peer's username.
func isTelephonyTarget(to string) bool {
	return strings.HasPrefix(to, "sip:") || strings.HasPrefix(to, "sips:")
}

// dispatch routes one decoded frame from an already-registered peer.
func (h *Hub) dispatch(p *peer, msg inboundMessage) {
	switch msg.Type {
	case typeCallRequest:
		h.handleCallRequest(p, msg)
	case typeCallResponse:
		h.handleCallResponse(p, msg)
	case typeOffer:
		h.handleOffer(p, msg)
	case typeAnswer:
		h.handleAnswer(p, msg)
	case typeICECandidate:
		h.forwardVerbatim(p, msg)
	case typeHangup, typeHangUp:
		h.handleHangup(p, msg)
	case typeReject:
		h.handleReject(p, msg)
	default:
		p.enqueue(outboundMessage{Type: typeError, Message: "unknown message type: " + msg.Type})
	}
}

func (h *Hub) handleCallRequest(p *peer, msg inboundMessage) {
	if !isTelephonyTarget(msg.To) {
		h.forwardVerbatim(p, msg)
		return
	}

	target, err := sip.ParseURI(msg.To)
	if err != nil {
		p.enqueue(outboundMessage{Type: typeError, Message: "invalid sip uri: " + msg.To})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
	defer cancel()
	callID, err := h.engine.PlaceCall(ctx, p.username, target, extractPayloadSDP(msg.Data))
	if err != nil {
		p.enqueue(outboundMessage{Type: typeCallFailed, Reason: err.Error()})
		return
	}
	h.trackCall(callID, p.username, dialog.Outgoing, msg.To)
}

// handleCallResponse covers this message's two distinct meanings: a
// browser-to-browser accept/decline forwarded verbatim, or (when CallID
// names an incoming-direction engine dialog this peer owns and Accepted
// is false) a decline of a telephony call, which maps to a 603 Decline
// rather than a forwarded frame.
func (h *Hub) handleCallResponse(p *peer, msg inboundMessage) {
	if msg.CallID != "" {
		if owner, ok := h.ownerOf(msg.CallID); ok && owner == p.username {
			if _, direction, found := h.engine.Lookup(msg.CallID); found && direction == dialog.Incoming {
				if msg.Accepted == nil || !*msg.Accepted {
					h.rejectDialog(msg.CallID, sip.StatusDecline)
				}
				return
			}
		}
	}
	h.forwardVerbatim(p, msg)
}

func (h *Hub) handleOffer(p *peer, msg inboundMessage) {
	h.forwardVerbatim(p, msg)
}

// handleAnswer routes an answer with no To field, from a peer currently
// holding a pending incoming dialog, into the engine as the browser-side
// answer to that telephony call. Everything else is browser-to-browser
// and forwards verbatim.
func (h *Hub) handleAnswer(p *peer, msg inboundMessage) {
	if msg.To == "" {
		if callID := h.pendingIncoming(p); callID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
			defer cancel()
			if err := h.engine.AnswerIncoming(ctx, callID, extractPayloadSDP(msg.Data)); err != nil {
				p.enqueue(outboundMessage{Type: typeCallFailed, CallID: callID, Reason: err.Error()})
				return
			}
			h.clearPendingIncoming(p, callID)
			return
		}
	}
	h.forwardVerbatim(p, msg)
}

func (h *Hub) handleHangup(p *peer, msg inboundMessage) {
	if msg.CallID != "" {
		if owner, ok := h.ownerOf(msg.CallID); ok && owner == p.username {
			ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
			defer cancel()
			_ = h.engine.Hangup(ctx, msg.CallID)
			return
		}
	}
	if msg.To != "" {
		h.forwardVerbatim(p, msg)
	}
}

func (h *Hub) handleReject(p *peer, msg inboundMessage) {
	if msg.CallID != "" {
		if owner, ok := h.ownerOf(msg.CallID); ok && owner == p.username {
			if _, direction, found := h.engine.Lookup(msg.CallID); found && direction == dialog.Incoming {
				h.rejectDialog(msg.CallID, sip.StatusDecline)
				return
			}
		}
	}
	if msg.To != "" {
		if target, ok := h.peerByName(msg.To); ok {
			target.enqueue(outboundMessage{Type: typeCallRejected, From: p.username})
		}
	}
}

func (h *Hub) rejectDialog(callID string, status int) {
	ctx, cancel := context.WithTimeout(context.Background(), engineCallTimeout)
	defer cancel()
	_ = h.engine.Reject(ctx, callID, status)
}

// forwardVerbatim relays a browser-to-browser frame to msg.To unchanged.
func (h *Hub) forwardVerbatim(p *peer, msg inboundMessage) {
	if msg.To == "" {
		return
	}
	target, ok := h.peerByName(msg.To)
	if !ok {
		p.enqueue(outboundMessage{Type: typeError, Message: "no such user: " + msg.To})
		return
	}
	target.enqueue(outboundMessage{
		Type:   msg.Type,
		From:   p.username,
		CallID: msg.CallID,
		Data:   msg.Data,
	})
}
