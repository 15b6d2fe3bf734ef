package sip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvite = "INVITE sip:bob@10.0.0.5:5060 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.9:5060;branch=z9hG4bK.abc123;rport\r\n" +
	"From: \"Alice\" <sip:alice@10.0.0.9>;tag=111\r\n" +
	"To: <sip:bob@10.0.0.5>\r\n" +
	"Call-ID: call-1@10.0.0.9\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Max-Forwards: 70\r\n" +
	"Contact: <sip:alice@10.0.0.9:5060>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"test"

func TestParseMessage_Invite(t *testing.T) {
	msg, err := ParseMessage([]byte(sampleInvite))
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, INVITE, req.Method)
	assert.Equal(t, "bob", req.Recipient.User)
	assert.Equal(t, "10.0.0.5", req.Recipient.Host)
	assert.Equal(t, 5060, req.Recipient.Port)

	via := req.Via()
	require.NotNil(t, via)
	assert.Equal(t, "UDP", via.Transport)
	assert.Equal(t, "10.0.0.9", via.Host)
	assert.Equal(t, 5060, via.Port)
	branch, ok := via.Params.Get("branch")
	require.True(t, ok)
	assert.Equal(t, "z9hG4bK.abc123", branch)

	from := req.From()
	require.NotNil(t, from)
	assert.Equal(t, "Alice", from.DisplayName)
	assert.Equal(t, "alice", from.Address.User)
	tag, ok := from.Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "111", tag)

	require.NotNil(t, req.CallID())
	assert.Equal(t, "call-1@10.0.0.9", string(*req.CallID()))

	require.NotNil(t, req.CSeq())
	assert.Equal(t, uint32(1), req.CSeq().SeqNo)
	assert.Equal(t, INVITE, req.CSeq().MethodName)

	assert.Equal(t, "test", string(req.Body()))
	require.NotNil(t, req.ContentLength())
	assert.Equal(t, uint32(4), uint32(*req.ContentLength()))
}

// Compact and long header forms must parse to the same canonical header.
func TestParseMessage_CompactHeaders(t *testing.T) {
	compact := "INVITE sip:bob@10.0.0.5 SIP/2.0\r\n" +
		"v: SIP/2.0/UDP 10.0.0.9:5060;branch=z9hG4bK.xyz\r\n" +
		"f: <sip:alice@10.0.0.9>;tag=1\r\n" +
		"t: <sip:bob@10.0.0.5>\r\n" +
		"i: call-2@10.0.0.9\r\n" +
		"CSeq: 2 INVITE\r\n" +
		"m: <sip:alice@10.0.0.9>\r\n" +
		"l: 0\r\n" +
		"\r\n"

	msg, err := ParseMessage([]byte(compact))
	require.NoError(t, err)
	req := msg.(*Request)

	assert.NotNil(t, req.Via())
	assert.NotNil(t, req.From())
	assert.NotNil(t, req.To())
	assert.NotNil(t, req.CallID())
	assert.NotNil(t, req.Contact())
	assert.NotNil(t, req.ContentLength())
	assert.Equal(t, "call-2@10.0.0.9", string(*req.CallID()))
}

// A well-formed message survives a serialize/parse round trip.
func TestRoundTrip_Request(t *testing.T) {
	msg, err := ParseMessage([]byte(sampleInvite))
	require.NoError(t, err)

	reserialized := msg.String()
	msg2, err := ParseMessage([]byte(reserialized))
	require.NoError(t, err)

	req1 := msg.(*Request)
	req2 := msg2.(*Request)
	assert.Equal(t, req1.Method, req2.Method)
	assert.Equal(t, req1.Recipient.String(), req2.Recipient.String())
	assert.Equal(t, string(*req1.CallID()), string(*req2.CallID()))
	assert.Equal(t, req1.CSeq().SeqNo, req2.CSeq().SeqNo)
	assert.Equal(t, string(req1.Body()), string(req2.Body()))
}

func TestParseMessage_Response(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.9:5060;branch=z9hG4bK.abc123\r\n" +
		"From: <sip:alice@10.0.0.9>;tag=111\r\n" +
		"To: <sip:bob@10.0.0.5>;tag=222\r\n" +
		"Call-ID: call-1@10.0.0.9\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.True(t, resp.IsFinal())
	assert.False(t, resp.IsProvisional())

	to := resp.To()
	require.NotNil(t, to)
	tag, ok := to.Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "222", tag)
}

func TestParseMessage_UnknownHeaderDoesNotSinkMessage(t *testing.T) {
	raw := "OPTIONS sip:bob@10.0.0.5 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.9:5060;branch=z9hG4bK.q1\r\n" +
		"From: <sip:alice@10.0.0.9>;tag=1\r\n" +
		"To: <sip:bob@10.0.0.5>\r\n" +
		"Call-ID: call-3@10.0.0.9\r\n" +
		"CSeq: 1 OPTIONS\r\n" +
		"X-Weird-Header without-a-colon\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	req := msg.(*Request)
	assert.Equal(t, OPTIONS, req.Method)
}

func TestParseURI(t *testing.T) {
	u, err := ParseURI("sip:alice:secret@10.0.0.9:5061;transport=udp?subject=test")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.User)
	assert.Equal(t, "secret", u.Password)
	assert.Equal(t, "10.0.0.9", u.Host)
	assert.Equal(t, 5061, u.Port)
	transport, ok := u.UriParams.Get("transport")
	require.True(t, ok)
	assert.Equal(t, "udp", transport)
	subject, ok := u.Headers.Get("subject")
	require.True(t, ok)
	assert.Equal(t, "test", subject)
}

func TestParseURI_RejectsNonSipScheme(t *testing.T) {
	_, err := ParseURI("tel:+15551234567")
	assert.Error(t, err)
}

func TestParseAddressValue_BareURI(t *testing.T) {
	dn, uri, params, err := ParseAddressValue("sip:bob@10.0.0.5;tag=9")
	require.NoError(t, err)
	assert.Equal(t, "", dn)
	assert.Equal(t, "bob", uri.User)
	tag, ok := params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, "9", tag)
}

func TestGeneratedIdentifierFormats(t *testing.T) {
	branch := GenerateBranch()
	require.True(t, strings.HasPrefix(branch, RFC3261BranchMagicCookie))
	assert.Len(t, strings.TrimPrefix(branch, RFC3261BranchMagicCookie), 32)

	assert.Len(t, GenerateTag(), 16)

	callID := GenerateCallID("203.0.113.9")
	local, host, found := strings.Cut(callID, "@")
	require.True(t, found)
	assert.Len(t, local, 32)
	assert.Equal(t, "203.0.113.9", host)
}
