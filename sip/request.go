package sip

import (
	"io"
	"strings"
)

// Request is a SIP request (RFC 3261 7.1).
type Request struct {
	MessageData
	Method    RequestMethod
	Recipient Uri
}

// NewRequest builds an empty request line; callers append headers and call
// SetBody to fill in Content-Length.
func NewRequest(method RequestMethod, recipient Uri) *Request {
	req := &Request{Method: method, Recipient: recipient}
	req.SipVersion = "SIP/2.0"
	req.order = make([]Header, 0, 10)
	return req
}

func (req *Request) StartLine() string {
	var b strings.Builder
	req.StartLineWrite(&b)
	return b.String()
}

func (req *Request) StartLineWrite(buffer io.StringWriter) {
	buffer.WriteString(string(req.Method))
	buffer.WriteString(" ")
	req.Recipient.StringWrite(buffer)
	buffer.WriteString(" ")
	buffer.WriteString(req.SipVersion)
}

func (req *Request) String() string {
	var b strings.Builder
	req.StringWrite(&b)
	return b.String()
}

func (req *Request) StringWrite(buffer io.StringWriter) {
	req.StartLineWrite(buffer)
	buffer.WriteString("\r\n")
	req.headers.StringWrite(buffer)
	if req.body != nil {
		buffer.WriteString(string(req.body))
	}
}

func (req *Request) IsInvite() bool { return req.Method == INVITE }
func (req *Request) IsAck() bool    { return req.Method == ACK }
func (req *Request) IsCancel() bool { return req.Method == CANCEL }

func (req *Request) Clone() *Request {
	newReq := NewRequest(req.Method, *req.Recipient.Clone())
	newReq.SipVersion = req.SipVersion
	for _, h := range req.CloneHeaders() {
		newReq.AppendHeader(h)
	}
	body := make([]byte, len(req.body))
	copy(body, req.body)
	newReq.SetBody(body)
	newReq.SetSource(req.Source())
	newReq.SetDestination(req.Destination())
	return newReq
}

// NewNonInviteAck builds the transaction-level ACK sent for a non-2xx final
// response to an INVITE (RFC 3261 17.1.1.3). The ACK for a 2xx is
// dialog-level and is built by the engine instead.
func NewNonInviteAck(invite *Request, resp *Response) *Request {
	ack := NewRequest(ACK, *invite.Recipient.Clone())
	ack.SipVersion = invite.SipVersion

	CopyHeaders("Via", invite, ack)
	if len(invite.GetHeaders("Route")) > 0 {
		CopyHeaders("Route", invite, ack)
	}

	maxFwd := MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	if h := invite.From(); h != nil {
		ack.AppendHeader(h.headerClone())
	}
	if h := resp.To(); h != nil {
		ack.AppendHeader(h.headerClone())
	}
	if h := invite.CallID(); h != nil {
		ack.AppendHeader(h.headerClone())
	}
	if h := invite.CSeq(); h != nil {
		cseq := *h
		cseq.MethodName = ACK
		ack.AppendHeader(&cseq)
	}
	ack.SetSource(invite.Source())
	ack.SetDestination(invite.Destination())
	return ack
}

// NewCancelRequest builds a CANCEL for a still-pending INVITE, matching the
// original branch so the peer can correlate it (RFC 3261 9.1).
func NewCancelRequest(invite *Request) *Request {
	cancel := NewRequest(CANCEL, invite.Recipient)
	cancel.SipVersion = invite.SipVersion
	if via := invite.Via(); via != nil {
		cancel.AppendHeader(via.Clone())
	}
	CopyHeaders("Route", invite, cancel)
	maxFwd := MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	if h := invite.From(); h != nil {
		cancel.AppendHeader(h.headerClone())
	}
	if h := invite.To(); h != nil {
		cancel.AppendHeader(h.headerClone())
	}
	if h := invite.CallID(); h != nil {
		cancel.AppendHeader(h.headerClone())
	}
	if h := invite.CSeq(); h != nil {
		cseq := *h
		cseq.MethodName = CANCEL
		cancel.AppendHeader(&cseq)
	}
	cancel.SetDestination(invite.Destination())
	return cancel
}
