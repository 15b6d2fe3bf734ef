package sip

import (
	"io"
	"strconv"
	"strings"
)

// Header is a single SIP header line.
type Header interface {
	Name() string
	Value() string
	StringWrite(w io.StringWriter)
	headerClone() Header
}

// headers is the ordered header list embedded in every Request/Response,
// plus fast-path pointers to the headers the engine reads on every message.
type headers struct {
	order []Header

	via           *ViaHeader
	from          *FromHeader
	to            *ToHeader
	callID        *CallIDHeader
	contact       *ContactHeader
	cseq          *CSeqHeader
	contentLength *ContentLengthHeader
	contentType   *ContentTypeHeader
	route         *RouteHeader
	recordRoute   *RecordRouteHeader
}

func (hs *headers) StringWrite(buffer io.StringWriter) {
	for _, h := range hs.order {
		h.StringWrite(buffer)
		buffer.WriteString("\r\n")
	}
	buffer.WriteString("\r\n")
}

func (hs *headers) AppendHeader(h Header) {
	hs.order = append(hs.order, h)
	switch v := h.(type) {
	case *ViaHeader:
		// The top Via is the first one seen; later hops only appear in
		// GetHeaders("via") / Headers(), matching RFC 3261's "top entry is
		// the immediate upstream" rule.
		if hs.via == nil {
			hs.via = v
		}
	case *FromHeader:
		hs.from = v
	case *ToHeader:
		hs.to = v
	case *CallIDHeader:
		hs.callID = v
	case *ContactHeader:
		hs.contact = v
	case *CSeqHeader:
		hs.cseq = v
	case *ContentLengthHeader:
		hs.contentLength = v
	case *ContentTypeHeader:
		hs.contentType = v
	case *RouteHeader:
		hs.route = v
	case *RecordRouteHeader:
		hs.recordRoute = v
	}
}

func (hs *headers) PrependHeader(hdrs ...Header) {
	newOrder := make([]Header, 0, len(hs.order)+len(hdrs))
	newOrder = append(newOrder, hdrs...)
	newOrder = append(newOrder, hs.order...)
	hs.order = newOrder
	for _, h := range hdrs {
		hs.indexOne(h)
	}
}

func (hs *headers) indexOne(h Header) {
	switch v := h.(type) {
	case *ViaHeader:
		hs.via = v
	case *FromHeader:
		hs.from = v
	case *ToHeader:
		hs.to = v
	case *CallIDHeader:
		hs.callID = v
	case *ContactHeader:
		hs.contact = v
	case *CSeqHeader:
		hs.cseq = v
	case *ContentLengthHeader:
		hs.contentLength = v
	case *ContentTypeHeader:
		hs.contentType = v
	case *RouteHeader:
		hs.route = v
	case *RecordRouteHeader:
		hs.recordRoute = v
	}
}

func (hs *headers) ReplaceHeader(h Header) {
	nameLower := HeaderToLower(h.Name())
	for i, existing := range hs.order {
		if HeaderToLower(existing.Name()) == nameLower {
			hs.order[i] = h
			hs.indexOne(h)
			return
		}
	}
	hs.AppendHeader(h)
}

func (hs *headers) RemoveHeader(name string) {
	nameLower := HeaderToLower(name)
	for i, h := range hs.order {
		if HeaderToLower(h.Name()) == nameLower {
			hs.order = append(hs.order[:i], hs.order[i+1:]...)
			return
		}
	}
}

func (hs *headers) Headers() []Header { return hs.order }

func (hs *headers) GetHeaders(name string) []Header {
	nameLower := HeaderToLower(name)
	var out []Header
	for _, h := range hs.order {
		if HeaderToLower(h.Name()) == nameLower {
			out = append(out, h)
		}
	}
	return out
}

func (hs *headers) GetHeader(name string) Header {
	nameLower := HeaderToLower(name)
	for _, h := range hs.order {
		if HeaderToLower(h.Name()) == nameLower {
			return h
		}
	}
	return nil
}

func (hs *headers) CloneHeaders() []Header {
	out := make([]Header, 0, len(hs.order))
	for _, h := range hs.order {
		out = append(out, h.headerClone())
	}
	return out
}

func (hs *headers) Via() *ViaHeader                   { return hs.via }
func (hs *headers) From() *FromHeader                 { return hs.from }
func (hs *headers) To() *ToHeader                     { return hs.to }
func (hs *headers) CallID() *CallIDHeader             { return hs.callID }
func (hs *headers) CSeq() *CSeqHeader                 { return hs.cseq }
func (hs *headers) ContentLength() *ContentLengthHeader { return hs.contentLength }
func (hs *headers) ContentType() *ContentTypeHeader   { return hs.contentType }
func (hs *headers) Contact() *ContactHeader           { return hs.contact }
func (hs *headers) Route() *RouteHeader               { return hs.route }
func (hs *headers) RecordRoute() *RecordRouteHeader   { return hs.recordRoute }

// CopyHeaders clones every header named `name` from one message onto another.
func CopyHeaders(name string, from, to Message) {
	for _, h := range from.GetHeaders(name) {
		to.AppendHeader(h.headerClone())
	}
}

// GenericHeader carries any header this package does not give structured
// treatment to (Allow, Supported, Content-Disposition, ...). The gateway
// only ever needs to emit literal values for these, never parse them.
type GenericHeader struct {
	HeaderName string
	Contents   string
}

func NewHeader(name, value string) *GenericHeader {
	return &GenericHeader{HeaderName: name, Contents: value}
}

func (h *GenericHeader) Name() string  { return h.HeaderName }
func (h *GenericHeader) Value() string { return h.Contents }
func (h *GenericHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.HeaderName)
	buffer.WriteString(": ")
	buffer.WriteString(h.Contents)
}
func (h *GenericHeader) headerClone() Header {
	return &GenericHeader{HeaderName: h.HeaderName, Contents: h.Contents}
}

// ToHeader is the 'To' header.
type ToHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *ToHeader) Name() string { return "To" }
func (h *ToHeader) Value() string {
	return writeAddressValueString(h.DisplayName, h.Address, h.Params)
}
func (h *ToHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("To: ")
	buffer.WriteString(h.Value())
}
func (h *ToHeader) headerClone() Header {
	return &ToHeader{DisplayName: h.DisplayName, Address: *h.Address.Clone(), Params: h.Params.Clone()}
}

// FromHeader is the 'From' header.
type FromHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *FromHeader) Name() string { return "From" }
func (h *FromHeader) Value() string {
	return writeAddressValueString(h.DisplayName, h.Address, h.Params)
}
func (h *FromHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("From: ")
	buffer.WriteString(h.Value())
}
func (h *FromHeader) headerClone() Header {
	return &FromHeader{DisplayName: h.DisplayName, Address: *h.Address.Clone(), Params: h.Params.Clone()}
}

// ContactHeader is the 'Contact' header (single-valued for this gateway;
// it never relays third-party Contact lists).
type ContactHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *ContactHeader) Name() string { return "Contact" }
func (h *ContactHeader) Value() string {
	return writeAddressValueString(h.DisplayName, h.Address, h.Params)
}
func (h *ContactHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Contact: ")
	buffer.WriteString(h.Value())
}
func (h *ContactHeader) headerClone() Header {
	return &ContactHeader{DisplayName: h.DisplayName, Address: *h.Address.Clone(), Params: h.Params.Clone()}
}

// CallIDHeader is the 'Call-ID' header.
type CallIDHeader string

func (h *CallIDHeader) Name() string  { return "Call-ID" }
func (h *CallIDHeader) Value() string { return string(*h) }
func (h *CallIDHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Call-ID: ")
	buffer.WriteString(string(*h))
}
func (h *CallIDHeader) headerClone() Header { v := *h; return &v }

// CSeqHeader is the 'CSeq' header.
type CSeqHeader struct {
	SeqNo      uint32
	MethodName RequestMethod
}

func (h *CSeqHeader) Name() string { return "CSeq" }
func (h *CSeqHeader) Value() string {
	return strconv.Itoa(int(h.SeqNo)) + " " + string(h.MethodName)
}
func (h *CSeqHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("CSeq: ")
	buffer.WriteString(h.Value())
}
func (h *CSeqHeader) headerClone() Header {
	return &CSeqHeader{SeqNo: h.SeqNo, MethodName: h.MethodName}
}

// MaxForwardsHeader is the 'Max-Forwards' header.
type MaxForwardsHeader uint32

func (h *MaxForwardsHeader) Name() string  { return "Max-Forwards" }
func (h *MaxForwardsHeader) Value() string { return strconv.Itoa(int(*h)) }
func (h *MaxForwardsHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Max-Forwards: ")
	buffer.WriteString(h.Value())
}
func (h *MaxForwardsHeader) headerClone() Header { v := *h; return &v }

// ContentLengthHeader is the 'Content-Length' header, always computed by
// SetBody rather than trusted from the wire on outbound messages.
type ContentLengthHeader uint32

func (h *ContentLengthHeader) Name() string  { return "Content-Length" }
func (h *ContentLengthHeader) Value() string { return strconv.Itoa(int(*h)) }
func (h *ContentLengthHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Content-Length: ")
	buffer.WriteString(h.Value())
}
func (h *ContentLengthHeader) headerClone() Header { v := *h; return &v }

// ContentTypeHeader is the 'Content-Type' header.
type ContentTypeHeader string

func (h *ContentTypeHeader) Name() string  { return "Content-Type" }
func (h *ContentTypeHeader) Value() string { return string(*h) }
func (h *ContentTypeHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Content-Type: ")
	buffer.WriteString(string(*h))
}
func (h *ContentTypeHeader) headerClone() Header { v := *h; return &v }

// ViaHeader is a single Via hop. Multiple hops on an inbound message are
// kept as a slice on the request/response rather than a linked list; the
// gateway only ever rewrites or echoes the top hop (see NAT fixup).
type ViaHeader struct {
	Transport string
	Host      string
	Port      int
	Params    HeaderParams
}

func (h *ViaHeader) Name() string { return "Via" }
func (h *ViaHeader) Value() string {
	var b strings.Builder
	h.valueWrite(&b)
	return b.String()
}
func (h *ViaHeader) valueWrite(buffer io.StringWriter) {
	buffer.WriteString("SIP/2.0/")
	buffer.WriteString(h.Transport)
	buffer.WriteString(" ")
	buffer.WriteString(h.Host)
	if h.Port > 0 {
		buffer.WriteString(":")
		buffer.WriteString(strconv.Itoa(h.Port))
	}
	if h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}
func (h *ViaHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Via: ")
	h.valueWrite(buffer)
}
func (h *ViaHeader) headerClone() Header {
	return &ViaHeader{Transport: h.Transport, Host: h.Host, Port: h.Port, Params: h.Params.Clone()}
}
func (h *ViaHeader) Clone() *ViaHeader {
	c := h.headerClone().(*ViaHeader)
	return c
}

// RouteHeader and RecordRouteHeader are single-valued on this gateway: it
// only ever pins itself into the route set, never relays someone else's
// multi-hop chain.
type RouteHeader struct{ Address Uri }

func (h *RouteHeader) Name() string  { return "Route" }
func (h *RouteHeader) Value() string { return "<" + h.Address.String() + ">" }
func (h *RouteHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Route: <")
	h.Address.StringWrite(buffer)
	buffer.WriteString(">")
}
func (h *RouteHeader) headerClone() Header { return &RouteHeader{Address: *h.Address.Clone()} }

type RecordRouteHeader struct{ Address Uri }

func (h *RecordRouteHeader) Name() string  { return "Record-Route" }
func (h *RecordRouteHeader) Value() string { return "<" + h.Address.String() + ">" }
func (h *RecordRouteHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString("Record-Route: <")
	h.Address.StringWrite(buffer)
	buffer.WriteString(">")
}
func (h *RecordRouteHeader) headerClone() Header {
	return &RecordRouteHeader{Address: *h.Address.Clone()}
}
