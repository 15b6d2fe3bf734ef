package sip

import (
	"io"
	"strconv"
	"strings"
)

// Response is a SIP response (RFC 3261 7.2).
type Response struct {
	MessageData
	StatusCode int
	Reason     string
}

func NewResponse(statusCode int, reason string) *Response {
	res := &Response{StatusCode: statusCode, Reason: reason}
	res.SipVersion = "SIP/2.0"
	res.order = make([]Header, 0, 10)
	return res
}

func (res *Response) StartLine() string {
	var b strings.Builder
	res.StartLineWrite(&b)
	return b.String()
}

func (res *Response) StartLineWrite(buffer io.StringWriter) {
	buffer.WriteString(res.SipVersion)
	buffer.WriteString(" ")
	buffer.WriteString(strconv.Itoa(res.StatusCode))
	buffer.WriteString(" ")
	buffer.WriteString(res.Reason)
}

func (res *Response) String() string {
	var b strings.Builder
	res.StringWrite(&b)
	return b.String()
}

func (res *Response) StringWrite(buffer io.StringWriter) {
	res.StartLineWrite(buffer)
	buffer.WriteString("\r\n")
	res.headers.StringWrite(buffer)
	if res.body != nil {
		buffer.WriteString(string(res.body))
	}
}

func (res *Response) IsProvisional() bool  { return res.StatusCode < 200 }
func (res *Response) IsSuccess() bool      { return res.StatusCode >= 200 && res.StatusCode < 300 }
func (res *Response) IsFinal() bool        { return res.StatusCode >= 200 }

// NewResponseFromRequest builds a response by copying Via/Record-Route/
// From/To/Call-ID/CSeq from the request (RFC 3261 8.2.6). The To header is
// copied as is; callers add the local tag with TagTo.
func NewResponseFromRequest(req *Request, statusCode int, reason string, body []byte) *Response {
	res := NewResponse(statusCode, reason)
	res.SipVersion = req.SipVersion
	CopyHeaders("Via", req, res)
	CopyHeaders("Record-Route", req, res)

	if h := req.From(); h != nil {
		res.AppendHeader(h.headerClone())
	}
	if h := req.To(); h != nil {
		toClone := h.headerClone().(*ToHeader)
		res.AppendHeader(toClone)
	}
	if h := req.CallID(); h != nil {
		res.AppendHeader(h.headerClone())
	}
	if h := req.CSeq(); h != nil {
		res.AppendHeader(h.headerClone())
	}

	res.SetBody(body)
	res.SetDestination(req.Source())
	return res
}

// TagTo appends a tag param to the response's To header if it is not
// already tagged (100 Trying is the one response that may legitimately
// stay untagged).
func (res *Response) TagTo(tag string) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params.Has("tag") {
		return
	}
	to.Params.Add("tag", tag)
}
