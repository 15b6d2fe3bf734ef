package hub

import "encoding/json"

// inboundMessage is the single envelope every browser-to-hub frame
// decodes into. Only the fields relevant to Type are populated; unused
// string fields are simply empty.
type inboundMessage struct {
	Type      string          `json:"type"`
	Username  string          `json:"username,omitempty"`
	To        string          `json:"to,omitempty"`
	CallID    string          `json:"call-id,omitempty"`
	Accepted  *bool           `json:"accepted,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// outboundMessage is the single envelope every hub-to-browser frame
// encodes from. sdp carries call-media payloads (incoming-call,
// call-answered, media-renegotiation); data carries a forwarded
// offer/answer/ice-candidate payload unchanged from whatever shape the
// originating browser sent.
type outboundMessage struct {
	Type     string          `json:"type"`
	Username string          `json:"username,omitempty"`
	Users    []string        `json:"users,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	CallID   string          `json:"call-id,omitempty"`
	SDP      string          `json:"sdp,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Digit    string          `json:"digit,omitempty"`
	Duration int             `json:"duration,omitempty"`
	Message  string          `json:"message,omitempty"`
}

const (
	typeRegister     = "register"
	typeCallRequest  = "call-request"
	typeCallResponse = "call-response"
	typeOffer        = "offer"
	typeAnswer       = "answer"
	typeICECandidate = "ice-candidate"
	typeHangup       = "hangup"
	typeHangUp       = "hang-up"
	typeReject       = "reject"

	typeConnected          = "connected"
	typeRegistered         = "registered"
	typeUserList           = "user-list"
	typeUserJoined         = "user-joined"
	typeUserLeft           = "user-left"
	typeIncomingCall       = "incoming-call"
	typeCallRinging        = "call-ringing"
	typeCallAnswered       = "call-answered"
	typeCallFailed         = "call-failed"
	typeCallEnded          = "call-ended"
	typeCallRejected       = "call-rejected"
	typeMediaRenegotiation = "media-renegotiation"
	typeDTMF               = "dtmf"
	typeError              = "error"
)

// extractPayloadSDP pulls an SDP body out of a data field that may be a
// bare JSON string or a {"type":...,"sdp":...} object, so the engine only
// ever sees plain SDP strings.
func extractPayloadSDP(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.SDP
	}
	return string(data)
}
