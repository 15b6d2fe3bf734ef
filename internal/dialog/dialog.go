// Package dialog holds the in-memory call-dialog store: the central
// per-call record, its state machine, and the concurrent store that owns
// it.
package dialog

import (
	"net"
	"sync"
	"time"

	"github.com/sipbridge/gateway/sip"
)

// Direction is which side originated the call.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// State is the call-dialog lifecycle.
type State int

const (
	Calling State = iota
	Ringing
	Answered
	Established
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Calling:
		return "calling"
	case Ringing:
		return "ringing"
	case Answered:
		return "answered"
	case Established:
		return "established"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Dialog is the central call record. The exported fields are fixed at
// creation (before the dialog enters a Store) and read-only afterwards;
// everything that mutates over the dialog's life — state, remote tag,
// sequence number, ack flag — sits behind mu and is only touched through
// the methods below, so UDP-receive, relay-completion and hub goroutines
// always see totally ordered transitions.
type Dialog struct {
	CallID string

	Direction    Direction
	PeerIdentity string

	LocalTag  string
	TargetURI sip.Uri

	OriginRequest          *sip.Request
	OriginTransportAddress *net.UDPAddr
	TransactionKey         sip.TxKey

	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	remoteTag   string
	seqNo       uint32
	ackReceived bool
}

// NewOutgoing creates a dialog in state Calling, ready for the engine to
// register in a Store.
func NewOutgoing(callID, peerIdentity string, target sip.Uri) *Dialog {
	return &Dialog{
		CallID:       callID,
		Direction:    Outgoing,
		PeerIdentity: peerIdentity,
		LocalTag:     sip.GenerateTag(),
		seqNo:        1,
		state:        Calling,
		TargetURI:    target,
		CreatedAt:    timeNow(),
	}
}

// NewIncoming creates a dialog for an inbound INVITE, state Ringing. The
// caller fills in OriginRequest/OriginTransportAddress/TransactionKey
// before handing it to a Store.
func NewIncoming(callID, peerIdentity string) *Dialog {
	return &Dialog{
		CallID:       callID,
		Direction:    Incoming,
		PeerIdentity: peerIdentity,
		LocalTag:     sip.GenerateTag(),
		seqNo:        1,
		state:        Ringing,
		CreatedAt:    timeNow(),
	}
}

// NewCallID mints a fresh call identifier keyed to the advertised host
// (32 hex chars + "@" + host).
func NewCallID(advertisedHost string) string {
	return sip.GenerateCallID(advertisedHost)
}

// State returns the current lifecycle state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// RemoteTag returns the peer's tag, empty until learned.
func (d *Dialog) RemoteTag() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteTag
}

// SetRemoteTag records the peer's tag from its first tagged From/To.
func (d *Dialog) SetRemoteTag(tag string) {
	d.mu.Lock()
	d.remoteTag = tag
	d.mu.Unlock()
}

// TryTransition moves the dialog from one named state to another,
// rejecting out-of-sequence transitions: it reports false and leaves the
// state untouched unless the dialog is currently in from.
func (d *Dialog) TryTransition(from, to State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return false
	}
	d.state = to
	return true
}

// MarkAcked records the ACK for an answered dialog and moves it to
// Established. Reports false if the dialog is not awaiting an ACK, so a
// late ACK after teardown cannot resurrect the call.
func (d *Dialog) MarkAcked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Answered {
		return false
	}
	d.ackReceived = true
	d.state = Established
	return true
}

// Establish moves a still-active dialog to Established; a dialog already
// tearing down stays put.
func (d *Dialog) Establish() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Terminating || d.state == Terminated {
		return false
	}
	d.state = Established
	return true
}

// BeginTerminate moves the dialog to Terminating and returns the prior
// state. Reports false when the dialog is already Terminating or
// Terminated, making teardown idempotent even when two paths race.
func (d *Dialog) BeginTerminate() (prev State, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Terminating || d.state == Terminated {
		return d.state, false
	}
	prev = d.state
	d.state = Terminating
	return prev, true
}

// IsEstablished reports whether the dialog is fully pinned: established
// with both tags present.
func (d *Dialog) IsEstablished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == Established && d.LocalTag != "" && d.remoteTag != ""
}

// Seq returns the dialog's current outbound CSeq number.
func (d *Dialog) Seq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seqNo
}

// NextSeq increments and returns the dialog's outbound CSeq number.
func (d *Dialog) NextSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqNo++
	return d.seqNo
}

var timeNow = time.Now
