package sip

import "io"

// Message is the shared surface of Request and Response.
type Message interface {
	StartLine() string
	StartLineWrite(io.StringWriter)
	String() string
	StringWrite(io.StringWriter)

	Headers() []Header
	GetHeaders(name string) []Header
	GetHeader(name string) Header
	PrependHeader(header ...Header)
	AppendHeader(header Header)
	ReplaceHeader(header Header)
	RemoveHeader(name string)
	CloneHeaders() []Header

	CallID() *CallIDHeader
	Via() *ViaHeader
	From() *FromHeader
	To() *ToHeader
	CSeq() *CSeqHeader
	ContentLength() *ContentLengthHeader
	ContentType() *ContentTypeHeader
	Contact() *ContactHeader
	Route() *RouteHeader
	RecordRoute() *RecordRouteHeader

	Body() []byte
	SetBody(body []byte)

	Source() string
	SetSource(src string)
	Destination() string
	SetDestination(dest string)
}

// MessageData is the common base embedded by Request and Response.
type MessageData struct {
	headers
	SipVersion string
	body       []byte

	src  string
	dest string
}

func (msg *MessageData) Body() []byte { return msg.body }

// SetBody sets the body and keeps Content-Length consistent.
func (msg *MessageData) SetBody(body []byte) {
	msg.body = body
	length := ContentLengthHeader(len(body))
	if existing := msg.ContentLength(); existing != nil {
		if *existing == length {
			return
		}
		msg.ReplaceHeader(&length)
		return
	}
	msg.AppendHeader(&length)
}

func (msg *MessageData) Source() string       { return msg.src }
func (msg *MessageData) SetSource(src string) { msg.src = src }
func (msg *MessageData) Destination() string  { return msg.dest }
func (msg *MessageData) SetDestination(dest string) {
	msg.dest = dest
}
