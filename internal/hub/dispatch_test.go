package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/events"
	"github.com/sipbridge/gateway/sip"
)

type placedCall struct {
	user string
	to   sip.Uri
	sdp  string
}

type rejectedCall struct {
	callID string
	status int
}

type fakeEngine struct {
	placed   []placedCall
	placeErr error
	nextID   string

	answered map[string]string
	hungup   []string
	rejected []rejectedCall

	dialogs map[string]dialog.Direction
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextID:   "call-1@gw",
		answered: make(map[string]string),
		dialogs:  make(map[string]dialog.Direction),
	}
}

func (f *fakeEngine) PlaceCall(_ context.Context, user string, to sip.Uri, sdp string) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed = append(f.placed, placedCall{user: user, to: to, sdp: sdp})
	f.dialogs[f.nextID] = dialog.Outgoing
	return f.nextID, nil
}

func (f *fakeEngine) AnswerIncoming(_ context.Context, callID, sdp string) error {
	f.answered[callID] = sdp
	return nil
}

func (f *fakeEngine) Hangup(_ context.Context, callID string) error {
	f.hungup = append(f.hungup, callID)
	return nil
}

func (f *fakeEngine) Reject(_ context.Context, callID string, status int) error {
	f.rejected = append(f.rejected, rejectedCall{callID: callID, status: status})
	return nil
}

func (f *fakeEngine) Lookup(callID string) (string, dialog.Direction, bool) {
	d, ok := f.dialogs[callID]
	return "", d, ok
}

func newTestHub(eng Engine) *Hub {
	return New(eng, zerolog.Nop(), nil)
}

// addPeer registers a peer without a live websocket; enqueue only touches
// the send channel, so dispatch and event routing are fully testable.
func addPeer(t *testing.T, h *Hub, name string) *peer {
	t.Helper()
	p, err := h.register(name, nil)
	require.NoError(t, err)
	drain(p)
	return p
}

func drain(p *peer) []outboundMessage {
	var out []outboundMessage
	for {
		select {
		case data := <-p.send:
			var msg outboundMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

// A username outside the grammar never enters the registry.
func TestRegister_RejectsInvalidUsernames(t *testing.T) {
	h := newTestHub(newFakeEngine())
	for _, name := range []string{"ab", "", "has space", "way_too_long_name_over_32_characters_x", "emoji😀"} {
		_, err := h.register(name, nil)
		assert.ErrorIs(t, err, errInvalidUsername, "username %q", name)
	}
	assert.Equal(t, 0, h.PeerCount())
}

func TestRegister_RejectsDuplicateUsername(t *testing.T) {
	h := newTestHub(newFakeEngine())
	addPeer(t, h, "alice")

	_, err := h.register("alice", nil)
	assert.ErrorIs(t, err, errUsernameTaken)
	assert.Equal(t, 1, h.PeerCount())
}

func TestRegister_SendsUserListAndBroadcastsJoin(t *testing.T) {
	h := newTestHub(newFakeEngine())
	alice := addPeer(t, h, "alice")

	bob, err := h.register("bob", nil)
	require.NoError(t, err)

	bobMsgs := drain(bob)
	require.Len(t, bobMsgs, 2)
	assert.Equal(t, typeRegistered, bobMsgs[0].Type)
	assert.Equal(t, typeUserList, bobMsgs[1].Type)
	assert.Equal(t, []string{"alice"}, bobMsgs[1].Users)

	aliceMsgs := drain(alice)
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, typeUserJoined, aliceMsgs[0].Type)
	assert.Equal(t, "bob", aliceMsgs[0].Username)
}

func TestCallRequest_TelephonyTargetPlacesCall(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")

	sdp, _ := json.Marshal("v=0\r\nm=audio 9 RTP/AVP 0\r\n")
	h.dispatch(alice, inboundMessage{Type: typeCallRequest, To: "sip:bob@10.0.0.2", Data: sdp})

	require.Len(t, eng.placed, 1)
	assert.Equal(t, "alice", eng.placed[0].user)
	assert.Equal(t, "bob", eng.placed[0].to.User)
	assert.Equal(t, "10.0.0.2", eng.placed[0].to.Host)
	assert.Equal(t, "v=0\r\nm=audio 9 RTP/AVP 0\r\n", eng.placed[0].sdp)

	owner, ok := h.ownerOf("call-1@gw")
	require.True(t, ok)
	assert.Equal(t, "alice", owner)
}

func TestCallRequest_BrowserTargetIsForwarded(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	bob := addPeer(t, h, "bob")

	h.dispatch(alice, inboundMessage{Type: typeCallRequest, To: "bob"})

	assert.Empty(t, eng.placed)
	msgs := drain(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, typeCallRequest, msgs[0].Type)
	assert.Equal(t, "alice", msgs[0].From)
}

func TestAnswer_WithoutToRoutesToPendingIncomingDialog(t *testing.T) {
	eng := newFakeEngine()
	eng.dialogs["call-in@gw"] = dialog.Incoming
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")

	h.Emit(events.Event{Kind: events.Incoming, CallID: "call-in@gw", PeerIdentity: "alice", From: "bob", SDP: "v=0"})
	msgs := drain(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, typeIncomingCall, msgs[0].Type)
	assert.Equal(t, "call-in@gw", msgs[0].CallID)

	sdp, _ := json.Marshal(map[string]string{"type": "answer", "sdp": "v=0\r\nm=audio 9 RTP/AVP 0\r\n"})
	h.dispatch(alice, inboundMessage{Type: typeAnswer, Data: sdp})

	assert.Equal(t, "v=0\r\nm=audio 9 RTP/AVP 0\r\n", eng.answered["call-in@gw"])
	assert.Empty(t, alice.incomingCallID)
}

func TestIncoming_UnreachablePeerRejects480(t *testing.T) {
	eng := newFakeEngine()
	eng.dialogs["call-in@gw"] = dialog.Incoming
	h := newTestHub(eng)

	h.Emit(events.Event{Kind: events.Incoming, CallID: "call-in@gw", PeerIdentity: "nobody"})

	require.Len(t, eng.rejected, 1)
	assert.Equal(t, "call-in@gw", eng.rejected[0].callID)
	assert.Equal(t, sip.StatusTemporarilyUnavail, eng.rejected[0].status)
}

func TestHangup_OwnedCallInvokesEngine(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-1@gw", "alice", dialog.Outgoing, "sip:bob@10.0.0.2")
	eng.dialogs["call-1@gw"] = dialog.Outgoing

	h.dispatch(alice, inboundMessage{Type: typeHangup, CallID: "call-1@gw"})

	assert.Equal(t, []string{"call-1@gw"}, eng.hungup)
}

func TestHangup_UnownedCallIsNotHungUp(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-1@gw", "bob_elsewhere", dialog.Outgoing, "sip:bob@10.0.0.2")

	h.dispatch(alice, inboundMessage{Type: typeHangup, CallID: "call-1@gw"})

	assert.Empty(t, eng.hungup)
}

func TestReject_IncomingDialogSends603(t *testing.T) {
	eng := newFakeEngine()
	eng.dialogs["call-in@gw"] = dialog.Incoming
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-in@gw", "alice", dialog.Incoming, "bob")

	h.dispatch(alice, inboundMessage{Type: typeReject, CallID: "call-in@gw"})

	require.Len(t, eng.rejected, 1)
	assert.Equal(t, sip.StatusDecline, eng.rejected[0].status)
}

func TestCallResponse_DeclineOfIncomingDialogSends603(t *testing.T) {
	eng := newFakeEngine()
	eng.dialogs["call-in@gw"] = dialog.Incoming
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-in@gw", "alice", dialog.Incoming, "bob")

	accepted := false
	h.dispatch(alice, inboundMessage{Type: typeCallResponse, CallID: "call-in@gw", Accepted: &accepted})

	require.Len(t, eng.rejected, 1)
	assert.Equal(t, sip.StatusDecline, eng.rejected[0].status)
}

func TestEmit_EventsRouteToOwningPeer(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-1@gw", "alice", dialog.Outgoing, "sip:bob@10.0.0.2")

	h.Emit(events.Event{Kind: events.Ringing, CallID: "call-1@gw"})
	h.Emit(events.Event{Kind: events.Answered, CallID: "call-1@gw", SDP: "v=0"})
	h.Emit(events.Event{Kind: events.DTMF, CallID: "call-1@gw", Digit: "5", Duration: 200})
	h.Emit(events.Event{Kind: events.Renegotiation, CallID: "call-1@gw", SDP: "v=0"})
	h.Emit(events.Event{Kind: events.Ended, CallID: "call-1@gw", Reason: "bye"})

	msgs := drain(alice)
	require.Len(t, msgs, 5)
	assert.Equal(t, typeCallRinging, msgs[0].Type)
	assert.Equal(t, typeCallAnswered, msgs[1].Type)
	assert.Equal(t, "v=0", msgs[1].SDP)
	assert.Equal(t, typeDTMF, msgs[2].Type)
	assert.Equal(t, "5", msgs[2].Digit)
	assert.Equal(t, 200, msgs[2].Duration)
	assert.Equal(t, typeMediaRenegotiation, msgs[3].Type)
	assert.Equal(t, typeCallEnded, msgs[4].Type)
	assert.Equal(t, "bye", msgs[4].Reason)

	// Ended dropped the active-call entry.
	_, ok := h.ownerOf("call-1@gw")
	assert.False(t, ok)
}

func TestEmit_FailedEventCarriesReason(t *testing.T) {
	eng := newFakeEngine()
	h := newTestHub(eng)
	alice := addPeer(t, h, "alice")
	h.trackCall("call-1@gw", "alice", dialog.Outgoing, "sip:bob@10.0.0.2")

	h.Emit(events.Event{Kind: events.Failed, CallID: "call-1@gw", Reason: "ack-timeout"})

	msgs := drain(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, typeCallFailed, msgs[0].Type)
	assert.Equal(t, "ack-timeout", msgs[0].Reason)
}
