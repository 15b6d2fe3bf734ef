package engine

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipbridge/gateway/sip"
)

func requestWithVia(host string, port int, withRport bool) *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "alice", Host: "gw.local"})
	params := sip.NewParams()
	params.Add("branch", "z9hG4bK.test1")
	if withRport {
		params.Add("rport", "")
	}
	req.AppendHeader(&sip.ViaHeader{Transport: "UDP", Host: host, Port: port, Params: params})
	return req
}

func TestNATFixup_RewritesRportAndReceived(t *testing.T) {
	req := requestWithVia("10.0.0.9", 5060, true)
	raddr := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 31337}

	natFixup(req, raddr)

	via := req.Via()
	require.NotNil(t, via)
	rport, ok := via.Params.Get("rport")
	require.True(t, ok)
	assert.Equal(t, "31337", rport)
	received, ok := via.Params.Get("received")
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", received)
}

func TestNATFixup_NoRportLeavesViaUntouched(t *testing.T) {
	req := requestWithVia("10.0.0.9", 5060, false)
	before := req.Via().Value()

	natFixup(req, &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 31337})

	assert.Equal(t, before, req.Via().Value())
}

func TestNATFixup_NoReceivedWhenSourceMatchesVia(t *testing.T) {
	req := requestWithVia("203.0.113.7", 31337, true)

	natFixup(req, &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 31337})

	via := req.Via()
	rport, ok := via.Params.Get("rport")
	require.True(t, ok)
	assert.Equal(t, "31337", rport)
	assert.False(t, via.Params.Has("received"))
}

// Applying the fixup twice with the same source yields the same Via.
func TestNATFixup_Idempotent(t *testing.T) {
	req := requestWithVia("10.0.0.9", 5060, true)
	raddr := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 31337}

	natFixup(req, raddr)
	once := req.Via().Value()
	natFixup(req, raddr)

	assert.Equal(t, once, req.Via().Value())
}
