package engine

import (
	"net"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/sip"
)

// gatewayURI is the advertised address the engine writes into Contact,
// Via and Record-Route so peers learn how to reach it.
func (e *Engine) gatewayURI() sip.Uri {
	return sip.Uri{User: e.cfg.GatewayUser, Host: e.cfg.PublicIP, Port: e.cfg.LocalSIPPort}
}

// fromURI is the gateway's logical identity for From headers on requests
// it originates: the configured SIP domain rather than the transport
// address, so upstream servers can apply domain-based routing/screening.
func (e *Engine) fromURI() sip.Uri {
	host := e.cfg.Domain
	if host == "" {
		host = e.cfg.PublicIP
	}
	return sip.Uri{User: e.cfg.GatewayUser, Host: host}
}

func (e *Engine) newVia(branch string) *sip.ViaHeader {
	params := sip.NewParams()
	params.Add("branch", branch)
	return &sip.ViaHeader{Transport: "UDP", Host: e.cfg.PublicIP, Port: e.cfg.LocalSIPPort, Params: params}
}

func (e *Engine) contactHeader() *sip.ContactHeader {
	return &sip.ContactHeader{DisplayName: e.cfg.DisplayName, Address: e.gatewayURI()}
}

// recordRouteHeader pins the gateway into the dialog route set with the
// loose-routing "lr" URI parameter.
func (e *Engine) recordRouteHeader() *sip.RecordRouteHeader {
	u := e.gatewayURI()
	u.UriParams = sip.NewParams()
	u.UriParams.Add("lr", "")
	return &sip.RecordRouteHeader{Address: u}
}

func withTag(tag string) sip.HeaderParams {
	p := sip.NewParams()
	if tag != "" {
		p.Add("tag", tag)
	}
	return p
}

// decorateFinalHeaders appends the Contact/Allow/Supported/Record-Route
// set carried on every 180 and 200 the engine sends for an incoming
// call.
func (e *Engine) decorateFinalHeaders(resp *sip.Response) {
	resp.AppendHeader(e.contactHeader())
	resp.AppendHeader(sip.NewHeader("Allow", sip.AllowHeaderValue()))
	resp.AppendHeader(sip.NewHeader("Supported", "replaces, timer"))
	resp.AppendHeader(e.recordRouteHeader())
}

// buildInvite composes the outbound INVITE for a fresh outgoing dialog.
func (e *Engine) buildInvite(d *dialog.Dialog, target sip.Uri, branch, sdp string) *sip.Request {
	req := sip.NewRequest(sip.INVITE, target)
	req.AppendHeader(e.newVia(branch))
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.FromHeader{DisplayName: e.cfg.DisplayName, Address: e.fromURI(), Params: withTag(d.LocalTag)})
	req.AppendHeader(&sip.ToHeader{Address: *target.Clone()})
	callID := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.Seq(), MethodName: sip.INVITE})
	req.AppendHeader(e.contactHeader())
	ct := sip.ContentTypeHeader("application/sdp")
	req.AppendHeader(&ct)
	req.SetBody([]byte(sdp))
	return req
}

// build100 is the 100 Trying; unlike the 180 and 200 it carries no To tag.
func (e *Engine) build100(req *sip.Request) *sip.Response {
	return sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
}

func (e *Engine) build180(req *sip.Request, d *dialog.Dialog) *sip.Response {
	resp := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	resp.TagTo(d.LocalTag)
	e.decorateFinalHeaders(resp)
	return resp
}

func (e *Engine) build200(req *sip.Request, sdp string, d *dialog.Dialog) *sip.Response {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", []byte(sdp))
	resp.TagTo(d.LocalTag)
	e.decorateFinalHeaders(resp)
	ct := sip.ContentTypeHeader("application/sdp")
	resp.ReplaceHeader(&ct)
	return resp
}

func (e *Engine) build487(d *dialog.Dialog) *sip.Response {
	resp := sip.NewResponseFromRequest(d.OriginRequest, sip.StatusRequestTerminated, "Request Terminated", nil)
	resp.TagTo(d.LocalTag)
	return resp
}

// buildAckFor2xx is the dialog-level ACK for a 2xx response to an INVITE;
// unlike sip.NewNonInviteAck it targets the Contact URI and carries a
// fresh branch, per RFC 3261's 2xx-ACK-is-a-new-transaction rule.
func (e *Engine) buildAckFor2xx(invite *sip.Request, resp *sip.Response) *sip.Request {
	recipient := invite.Recipient
	if c := resp.Contact(); c != nil {
		recipient = *c.Address.Clone()
	}
	ack := sip.NewRequest(sip.ACK, recipient)
	ack.SipVersion = invite.SipVersion
	ack.AppendHeader(e.newVia(sip.GenerateBranch()))
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	if f := invite.From(); f != nil {
		ack.AppendHeader(&sip.FromHeader{DisplayName: f.DisplayName, Address: *f.Address.Clone(), Params: f.Params.Clone()})
	}
	if t := resp.To(); t != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: t.DisplayName, Address: *t.Address.Clone(), Params: t.Params.Clone()})
	}
	if cid := invite.CallID(); cid != nil {
		callID := *cid
		ack.AppendHeader(&callID)
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	return ack
}

// buildBye composes the gateway-initiated BYE for an established or
// answered dialog. From/To follow dialog orientation: for incoming
// dialogs the BYE's From echoes the original To (+local-tag) and its To
// echoes the original From (+remote-tag); for outgoing dialogs the From
// is the gateway's own identity (+local-tag) and the To is the target URI
// (+remote-tag).
func (e *Engine) buildBye(d *dialog.Dialog) *sip.Request {
	seq := d.NextSeq()
	var recipient sip.Uri
	var from *sip.FromHeader
	var to *sip.ToHeader

	if d.Direction == dialog.Incoming && d.OriginRequest != nil {
		origTo := d.OriginRequest.To()
		origFrom := d.OriginRequest.From()
		recipient = *origFrom.Address.Clone()
		from = &sip.FromHeader{DisplayName: origTo.DisplayName, Address: *origTo.Address.Clone(), Params: withTag(d.LocalTag)}
		to = &sip.ToHeader{DisplayName: origFrom.DisplayName, Address: *origFrom.Address.Clone(), Params: withTag(d.RemoteTag())}
	} else {
		recipient = *d.TargetURI.Clone()
		from = &sip.FromHeader{DisplayName: e.cfg.DisplayName, Address: e.fromURI(), Params: withTag(d.LocalTag)}
		to = &sip.ToHeader{Address: *d.TargetURI.Clone(), Params: withTag(d.RemoteTag())}
	}

	req := sip.NewRequest(sip.BYE, recipient)
	req.AppendHeader(e.newVia(sip.GenerateBranch()))
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(from)
	req.AppendHeader(to)
	callID := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})
	return req
}

// byeTarget is the authoritative destination for hop-by-hop requests
// against this dialog: the origin transport address for incoming dialogs
// (it may differ from the From URI behind NAT) and the configured
// upstream server for outgoing dialogs.
func (e *Engine) byeTarget(d *dialog.Dialog) *net.UDPAddr {
	if d.Direction == dialog.Incoming && d.OriginTransportAddress != nil {
		return d.OriginTransportAddress
	}
	return e.sipServerAddr
}

// contactTarget resolves where to send the dialog-level ACK: the 2xx's
// Contact host:port, falling back to the upstream telephony server
// address.
func contactTarget(resp *sip.Response, fallback *net.UDPAddr) *net.UDPAddr {
	if c := resp.Contact(); c != nil && c.Address.Host != "" {
		port := c.Address.Port
		if port == 0 {
			port = 5060
		}
		if addr, err := sip.ResolveUDPAddr(sip.HostPort(c.Address.Host, port)); err == nil {
			return addr
		}
	}
	return fallback
}
