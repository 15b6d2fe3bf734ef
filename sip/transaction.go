package sip

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// TxKey identifies a transaction by branch, call-id and cseq.
type TxKey struct {
	Branch string
	CallID string
	CSeq   uint32
}

func txKeyFromHeaders(via *ViaHeader, callID *CallIDHeader, cseq *CSeqHeader) (TxKey, bool) {
	if via == nil || callID == nil || cseq == nil {
		return TxKey{}, false
	}
	branch, _ := via.Params.Get("branch")
	if branch == "" {
		return TxKey{}, false
	}
	return TxKey{Branch: branch, CallID: string(*callID), CSeq: cseq.SeqNo}, true
}

// TxKeyFromRequest derives the key a request's own transaction is (or will
// be) stored under.
func TxKeyFromRequest(req *Request) (TxKey, bool) {
	return txKeyFromHeaders(req.Via(), req.CallID(), req.CSeq())
}

// TxKeyFromResponse derives the client-transaction key a response answers.
// The key carries the CSeq number but not the CSeq method, so a response to
// a CANCEL maps to the same key as the INVITE it cancels.
func TxKeyFromResponse(resp *Response) (TxKey, bool) {
	return txKeyFromHeaders(resp.Via(), resp.CallID(), resp.CSeq())
}

// ResponseCallback receives each response for a client transaction.
// isTimeout is true exactly once, for the synthetic 408 delivered when
// Timer-B/F expires without a final response.
type ResponseCallback func(resp *Response, isTimeout bool)

type clientTx struct {
	key     TxKey
	method  RequestMethod
	raddr   *net.UDPAddr
	onResp  ResponseCallback
	timer   *time.Timer
	mu      sync.Mutex
	done    bool
}

type serverTx struct {
	key        TxKey
	isInvite   bool
	mu         sync.Mutex
	remembered *Response
	raddr      *net.UDPAddr
	acked      bool
	retransmit *time.Timer
	timerH     *time.Timer
	retries    int
}

// Layer is the transaction layer: it owns client and server transaction
// records and the UDP transport beneath them, so the engine never touches
// raw sockets or retransmit timers directly.
type Layer struct {
	transport *Transport
	log       *slog.Logger

	mu      sync.Mutex
	clients map[TxKey]*clientTx
	servers map[TxKey]*serverTx

	// onAckTimeout, when set, is invoked when Timer-H fires before the ACK
	// for a 2xx arrives. The engine wires this to its own dialog-cleanup
	// path so an unacknowledged answer terminates the call.
	onAckTimeout func(TxKey)
}

func NewLayer(transport *Transport, log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{
		transport: transport,
		log:       log,
		clients:   make(map[TxKey]*clientTx),
		servers:   make(map[TxKey]*serverTx),
	}
}

// Transport exposes the underlying UDP transport for fire-and-forget sends
// the transaction layer itself does not need to track, such as the
// dialog-level ACK for a 2xx and replaying a remembered response to a
// retransmitted INVITE.
func (l *Layer) Transport() *Transport { return l.transport }

// SetAckTimeoutHandler registers the callback Timer-H invokes.
func (l *Layer) SetAckTimeoutHandler(fn func(TxKey)) {
	l.onAckTimeout = fn
}

// SendRequest emits req and registers a client transaction keyed on its own
// Via branch/call-id/cseq. Timer-B governs INVITE, Timer-F everything else;
// both are 64*T1.
func (l *Layer) SendRequest(req *Request, raddr *net.UDPAddr, onResp ResponseCallback) error {
	key, ok := TxKeyFromRequest(req)
	if !ok {
		return errMissingTxHeaders
	}

	tx := &clientTx{key: key, method: req.Method, raddr: raddr, onResp: onResp}
	l.mu.Lock()
	l.clients[key] = tx
	l.mu.Unlock()

	timeout := TimerF
	if req.IsInvite() {
		timeout = TimerB
	}
	tx.timer = time.AfterFunc(timeout, func() { l.expireClientTx(key) })

	if err := l.transport.Send(req, raddr); err != nil {
		return err
	}
	return nil
}

func (l *Layer) expireClientTx(key TxKey) {
	l.mu.Lock()
	tx, ok := l.clients[key]
	if ok {
		delete(l.clients, key)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return
	}
	tx.done = true
	tx.mu.Unlock()

	timeout := NewResponse(StatusRequestTimeout, "Request Timeout")
	tx.onResp(timeout, true)
}

// HandleResponse dispatches an inbound response to its waiting client
// transaction, if any. Only status >= 200 retires an INVITE transaction;
// provisional responses keep it alive.
func (l *Layer) HandleResponse(resp *Response) bool {
	key, ok := TxKeyFromResponse(resp)
	if !ok {
		return false
	}
	l.mu.Lock()
	tx, found := l.clients[key]
	if found && (resp.IsFinal() || tx.method != INVITE) {
		delete(l.clients, key)
	}
	l.mu.Unlock()
	if !found {
		return false
	}

	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return true
	}
	if resp.IsFinal() || tx.method != INVITE {
		tx.done = true
		tx.timer.Stop()
	}
	tx.mu.Unlock()

	tx.onResp(resp, false)
	return true
}

// LookupOrCreateServerTx implements duplicate-INVITE detection: the
// second return value is true when this key was already known, in
// which case the caller should replay the remembered response (if any)
// instead of re-entering the dialog state machine.
func (l *Layer) LookupOrCreateServerTx(req *Request, raddr *net.UDPAddr) (existed bool, remembered *Response) {
	key, ok := TxKeyFromRequest(req)
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if stx, found := l.servers[key]; found {
		stx.mu.Lock()
		resp := stx.remembered
		stx.mu.Unlock()
		return true, resp
	}
	l.servers[key] = &serverTx{key: key, isInvite: req.IsInvite(), raddr: raddr}
	return false, nil
}

// SendResponse sends resp for the server transaction belonging to req.
// Every response at status >= 180 is remembered for replay; an INVITE's
// final response is retransmitted with capped exponential backoff until
// ACK arrives or Timer-H expires.
func (l *Layer) SendResponse(req *Request, resp *Response, raddr *net.UDPAddr) error {
	key, ok := TxKeyFromRequest(req)
	if !ok {
		return l.transport.Send(resp, raddr)
	}

	l.mu.Lock()
	stx, found := l.servers[key]
	if !found {
		stx = &serverTx{key: key, isInvite: req.IsInvite(), raddr: raddr}
		l.servers[key] = stx
	}
	l.mu.Unlock()

	stx.mu.Lock()
	// Last response wins: a duplicate INVITE arriving after the 200 must be
	// answered with the 200, not the earlier 180, and the 2xx retransmit
	// schedule below re-sends whatever is remembered.
	if resp.StatusCode >= StatusRinging {
		stx.remembered = resp
	}
	needsRetransmit := stx.isInvite && resp.IsFinal() && stx.retransmit == nil
	stx.mu.Unlock()

	if err := l.transport.Send(resp, raddr); err != nil {
		return err
	}

	if needsRetransmit {
		l.armRetransmit(stx)
	}
	return nil
}

func (l *Layer) armRetransmit(stx *serverTx) {
	interval := T1
	var fire func()
	fire = func() {
		stx.mu.Lock()
		if stx.acked || stx.retries >= MaxFinalResponseRetransmits {
			stx.mu.Unlock()
			return
		}
		stx.retries++
		resp := stx.remembered
		raddr := stx.raddr
		interval *= 2
		if interval > T2 {
			interval = T2
		}
		stx.retransmit = time.AfterFunc(interval, fire)
		stx.mu.Unlock()
		if resp != nil {
			_ = l.transport.Send(resp, raddr)
		}
	}
	stx.mu.Lock()
	stx.retransmit = time.AfterFunc(T1, fire)
	stx.timerH = time.AfterFunc(TimerH, func() { l.expireServerTx(stx.key) })
	stx.mu.Unlock()
}

// HandleAck retires the server transaction an ACK answers, cancelling its
// retransmit and Timer-H timers; the dialog becomes the sole authoritative
// record from this point on. A 2xx response
// is ACKed in a transaction of its own with a fresh branch (RFC 3261
// 13.2.2.4), so the lookup matches on call-id and CSeq number only,
// ignoring branch; a non-2xx ACK does reuse the INVITE's branch but still
// matches under this looser comparison.
func (l *Layer) HandleAck(ack *Request) {
	callID := ack.CallID()
	cseq := ack.CSeq()
	if callID == nil || cseq == nil {
		return
	}
	l.mu.Lock()
	var key TxKey
	var stx *serverTx
	found := false
	for k, s := range l.servers {
		if k.CallID == string(*callID) && k.CSeq == cseq.SeqNo && s.isInvite {
			key, stx, found = k, s, true
			break
		}
	}
	if found {
		delete(l.servers, key)
	}
	l.mu.Unlock()
	if !found {
		return
	}
	stx.mu.Lock()
	stx.acked = true
	if stx.retransmit != nil {
		stx.retransmit.Stop()
	}
	if stx.timerH != nil {
		stx.timerH.Stop()
	}
	stx.mu.Unlock()
}

// CancelServerTx stops a server transaction's retransmit/Timer-H timers and
// evicts it without invoking onAckTimeout, for callers that are already
// tearing the dialog down through another path (disconnect-driven cleanup
// racing an unacked 2xx) and don't want a spurious ack-timeout event on
// top of the one they are already handling.
func (l *Layer) CancelServerTx(key TxKey) {
	l.mu.Lock()
	stx, ok := l.servers[key]
	if ok {
		delete(l.servers, key)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	stx.mu.Lock()
	if stx.retransmit != nil {
		stx.retransmit.Stop()
	}
	if stx.timerH != nil {
		stx.timerH.Stop()
	}
	stx.mu.Unlock()
}

func (l *Layer) expireServerTx(key TxKey) {
	l.mu.Lock()
	stx, ok := l.servers[key]
	if ok {
		delete(l.servers, key)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	stx.mu.Lock()
	acked := stx.acked
	stx.mu.Unlock()
	if !acked && l.onAckTimeout != nil {
		l.onAckTimeout(key)
	}
}

var errMissingTxHeaders = &txHeaderError{}

type txHeaderError struct{}

func (*txHeaderError) Error() string {
	return "sip: request missing Via/Call-ID/CSeq needed to key a transaction"
}
