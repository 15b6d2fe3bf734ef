package sip

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func newInvite(t *testing.T, raddr *net.UDPAddr) *Request {
	t.Helper()
	recipient, err := ParseURI("sip:bob@" + raddr.String())
	require.NoError(t, err)
	req := NewRequest(INVITE, recipient)
	req.AppendHeader(&ViaHeader{Transport: "UDP", Host: "127.0.0.1", Port: 1,
		Params: HeaderParams{{K: "branch", V: GenerateBranch()}}})
	cid := CallIDHeader("call-" + GenerateTag() + "@test")
	req.AppendHeader(&cid)
	req.AppendHeader(&CSeqHeader{SeqNo: 1, MethodName: INVITE})
	return req
}

// A duplicate INVITE on an existing server-transaction key is answered by
// replaying the remembered response, not by creating a second record.
func TestServerTx_DuplicateInviteReplays(t *testing.T) {
	tr := newLoopbackTransport(t)
	layer := NewLayer(tr, nil)

	req := newInvite(t, tr.LocalAddr())

	existed, remembered := layer.LookupOrCreateServerTx(req, tr.LocalAddr())
	assert.False(t, existed)
	assert.Nil(t, remembered)

	ringing := NewResponseFromRequest(req, StatusRinging, "Ringing", nil)
	require.NoError(t, layer.SendResponse(req, ringing, tr.LocalAddr()))

	existedAgain, rememberedAgain := layer.LookupOrCreateServerTx(req, tr.LocalAddr())
	assert.True(t, existedAgain)
	require.NotNil(t, rememberedAgain)
	assert.Equal(t, StatusRinging, rememberedAgain.StatusCode)
}

// A duplicate INVITE arriving after the 200 is replayed the 200, not the
// earlier 180.
func TestServerTx_LastResponseWinsReplay(t *testing.T) {
	tr := newLoopbackTransport(t)
	layer := NewLayer(tr, nil)

	req := newInvite(t, tr.LocalAddr())
	layer.LookupOrCreateServerTx(req, tr.LocalAddr())

	ringing := NewResponseFromRequest(req, StatusRinging, "Ringing", nil)
	require.NoError(t, layer.SendResponse(req, ringing, tr.LocalAddr()))
	ok := NewResponseFromRequest(req, StatusOK, "OK", nil)
	require.NoError(t, layer.SendResponse(req, ok, tr.LocalAddr()))

	existed, remembered := layer.LookupOrCreateServerTx(req, tr.LocalAddr())
	assert.True(t, existed)
	require.NotNil(t, remembered)
	assert.Equal(t, StatusOK, remembered.StatusCode)

	layer.CancelServerTx(mustKey(t, req))
}

func mustKey(t *testing.T, req *Request) TxKey {
	t.Helper()
	key, ok := TxKeyFromRequest(req)
	require.True(t, ok)
	return key
}

func TestClientTx_TimeoutProducesSynthetic408(t *testing.T) {
	tr := newLoopbackTransport(t)
	layer := NewLayer(tr, nil)

	unreachable, err := net.ResolveUDPAddr("udp", "127.0.0.1:1")
	require.NoError(t, err)
	req := newInvite(t, unreachable)

	var mu sync.Mutex
	var got *Response
	var timedOut bool
	done := make(chan struct{})

	// TimerB/F are fixed package consts (32s); rather than wait that long,
	// register the transaction directly and trigger expiry manually.
	key, ok := TxKeyFromRequest(req)
	require.True(t, ok)
	layer.mu.Lock()
	layer.clients[key] = &clientTx{key: key, method: req.Method, raddr: unreachable, onResp: func(resp *Response, isTimeout bool) {
		mu.Lock()
		got = resp
		timedOut = isTimeout
		mu.Unlock()
		close(done)
	}, timer: time.AfterFunc(10 * time.Millisecond, func() {})}
	layer.mu.Unlock()

	layer.expireClientTx(key)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.True(t, timedOut)
	assert.Equal(t, StatusRequestTimeout, got.StatusCode)
}

func TestLayer_HandleResponse_MatchesClientTx(t *testing.T) {
	tr := newLoopbackTransport(t)
	layer := NewLayer(tr, nil)

	req := newInvite(t, tr.LocalAddr())
	got := make(chan *Response, 1)
	err := layer.SendRequest(req, tr.LocalAddr(), func(resp *Response, isTimeout bool) {
		got <- resp
	})
	require.NoError(t, err)

	resp := NewResponseFromRequest(req, StatusOK, "OK", nil)
	handled := layer.HandleResponse(resp)
	assert.True(t, handled)

	select {
	case r := <-got:
		assert.Equal(t, StatusOK, r.StatusCode)
	case <-time.After(time.Second):
		t.Fatal("response callback never fired")
	}
}

func TestLayer_HandleAck_EvictsServerTx(t *testing.T) {
	tr := newLoopbackTransport(t)
	layer := NewLayer(tr, nil)

	req := newInvite(t, tr.LocalAddr())
	layer.LookupOrCreateServerTx(req, tr.LocalAddr())

	ok := NewResponseFromRequest(req, StatusOK, "OK", nil)
	require.NoError(t, layer.SendResponse(req, ok, tr.LocalAddr()))

	ack := NewNonInviteAck(req, ok)
	layer.HandleAck(ack)

	existed, remembered := layer.LookupOrCreateServerTx(req, tr.LocalAddr())
	assert.False(t, existed)
	assert.Nil(t, remembered)
}
