package mediarelay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return New(u.Hostname(), port, zerolog.Nop())
}

func TestClient_OfferReturnsTranslatedSDP(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Response{Result: "ok", SDP: "v=0\r\nm=audio 9 RTP/AVP 0\r\n"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	sdp, err := c.Offer(context.Background(), "call-1@gw", "tag-a", "", "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n", ProfileOutboundOffer)
	require.NoError(t, err)
	assert.Equal(t, "v=0\r\nm=audio 9 RTP/AVP 0\r\n", sdp)

	assert.Equal(t, "call-1@gw", got.CallID)
	assert.Equal(t, "tag-a", got.FromTag)
	assert.Empty(t, got.ToTag)
	assert.Equal(t, "RTP/AVP", got.Profile.Transport)
	assert.Equal(t, "remove", got.Profile.ICE)
	assert.Equal(t, []string{"PCMU", "PCMA"}, got.Profile.CodecOffer)
}

func TestClient_NonOKResultIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Result: "error", ErrorReason: "unknown call"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	err := c.Delete(context.Background(), "call-1@gw", "tag-a", "tag-b")
	assert.ErrorIs(t, err, ErrRelay)
	assert.Contains(t, err.Error(), "unknown call")
}

func TestClient_RetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Result: "ok"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_StoppedClientRejectsWithoutNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(Response{Result: "ok"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	c.Stop()

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrRelay)
	assert.Equal(t, int32(0), calls.Load())
}

func TestReInviteProfile_SetsGenerateMidOnly(t *testing.T) {
	p := ReInviteProfile(ProfileInboundOffer)
	assert.True(t, p.GenerateMid)
	assert.Equal(t, ProfileInboundOffer.Transport, p.Transport)
	assert.Equal(t, ProfileInboundOffer.ICE, p.ICE)
	assert.False(t, ProfileInboundOffer.GenerateMid)
}

func TestClient_ObserverSeesEveryOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{Result: "ok", SDP: "v=0\r\nm=audio 9 RTP/AVP 0\r\n"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	var ops []string
	c.SetObserver(func(op string, _ time.Duration) { ops = append(ops, op) })

	require.NoError(t, c.Ping(context.Background()))
	_, err := c.Answer(context.Background(), "call-1@gw", "tag-a", "tag-b", "v=0\r\nm=audio 9 RTP/AVP 0\r\n", ProfileInboundAnswer)
	require.NoError(t, err)

	assert.Equal(t, []string{"ping", "answer"}, ops)
}
