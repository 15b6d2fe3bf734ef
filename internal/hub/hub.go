// Package hub implements the browser-signaling WebSocket hub: a
// named-peer registry, JSON-framed call-control relay, and the engine
// event sink that routes telephony-side events to the right browser.
package hub

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sipbridge/gateway/internal/dialog"
	"github.com/sipbridge/gateway/internal/metrics"
	"github.com/sipbridge/gateway/sip"
)

// usernamePattern is the identity grammar the registry enforces.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// Engine is the subset of internal/engine.Engine the hub drives. Declared
// as an interface so hub tests can supply a fake without building a real
// UDP transport.
type Engine interface {
	PlaceCall(ctx context.Context, peerIdentity string, target sip.Uri, offerSDP string) (string, error)
	AnswerIncoming(ctx context.Context, callID, answerSDP string) error
	Hangup(ctx context.Context, callID string) error
	Reject(ctx context.Context, callID string, status int) error
	Lookup(callID string) (peerIdentity string, direction dialog.Direction, ok bool)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the single shared signaling channel every browser peer connects
// to. It implements events.Sink to receive engine-side call events and
// forwards them to the owning peer's connection.
type Hub struct {
	engine  Engine
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	peers      map[string]*peer
	activeCall map[string]activeCall
}

// activeCall is one entry of the call-id index: who owns the dialog on the
// browser side, which side originated it, and who the other party is.
type activeCall struct {
	Owner       string
	Origin      dialog.Direction
	Counterpart string
}

func New(engine Engine, log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		engine:     engine,
		log:        log,
		metrics:    m,
		peers:      make(map[string]*peer),
		activeCall: make(map[string]activeCall),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// socket closes, then cleans up the peer's registration and any dialogs
// it owns.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	// The connection id correlates log lines for a channel before and
	// after it acquires a username.
	connID := uuid.NewString()
	h.log.Debug().Str("conn", connID).Str("remote", conn.RemoteAddr().String()).Msg("browser channel connected")
	h.runConnection(connID, conn)
}

func (h *Hub) runConnection(connID string, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var p *peer
	defer func() {
		if p != nil {
			h.log.Debug().Str("conn", connID).Str("user", p.username).Msg("browser channel closed")
			h.unregister(p)
		}
		_ = conn.Close()
	}()

	h.writeRaw(conn, outboundMessage{Type: typeConnected})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			// A frame above the 64 KiB limit is rejected without parsing;
			// the error frame is best-effort since gorilla has already
			// failed the connection.
			if errors.Is(err, websocket.ErrReadLimit) {
				h.writeRaw(conn, outboundMessage{Type: typeError, Message: "Message too large"})
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if p == nil {
			if msg.Type != typeRegister {
				h.writeRaw(conn, outboundMessage{Type: typeError, Message: "must register before sending other messages"})
				continue
			}
			registered, err := h.register(msg.Username, conn)
			if err != nil {
				h.writeRaw(conn, outboundMessage{Type: typeError, Message: err.Error()})
				continue
			}
			p = registered
			go p.writePump()
			continue
		}

		h.dispatch(p, msg)
	}
}

func (h *Hub) writeRaw(conn *websocket.Conn, msg outboundMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(msg)
}

// register validates and reserves a username, sends the registered peer
// its user-list, and broadcasts user-joined to everyone else.
func (h *Hub) register(username string, conn *websocket.Conn) (*peer, error) {
	if !usernamePattern.MatchString(username) {
		return nil, errInvalidUsername
	}

	h.mu.Lock()
	if _, exists := h.peers[username]; exists {
		h.mu.Unlock()
		return nil, errUsernameTaken
	}
	p := newPeer(username, conn)
	h.peers[username] = p
	others := h.otherUsernames(username)
	count := len(h.peers)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RegisteredPeers.Set(float64(count))
	}

	p.enqueue(outboundMessage{Type: typeRegistered, Username: username})
	p.enqueue(outboundMessage{Type: typeUserList, Users: others})
	h.broadcastExcept(username, outboundMessage{Type: typeUserJoined, Username: username})
	return p, nil
}

func (h *Hub) otherUsernames(except string) []string {
	out := make([]string, 0, len(h.peers))
	for name := range h.peers {
		if name != except {
			out = append(out, name)
		}
	}
	return out
}

func (h *Hub) broadcastExcept(except string, msg outboundMessage) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.peers))
	for name, p := range h.peers {
		if name != except {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()
	for _, p := range targets {
		p.enqueue(msg)
	}
}

// unregister removes the peer and tears down every dialog it owns.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	delete(h.peers, p.username)
	var owned []string
	for callID, entry := range h.activeCall {
		if entry.Owner == p.username {
			owned = append(owned, callID)
		}
	}
	for _, callID := range owned {
		delete(h.activeCall, callID)
	}
	count := len(h.peers)
	h.mu.Unlock()

	p.close()

	if h.metrics != nil {
		h.metrics.RegisteredPeers.Set(float64(count))
	}
	h.broadcastExcept(p.username, outboundMessage{Type: typeUserLeft, Username: p.username})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, callID := range owned {
		// An incoming call the peer never answered declines with 603; an
		// answered or outgoing one hangs up with BYE/CANCEL.
		if _, direction, ok := h.engine.Lookup(callID); ok && direction == dialog.Incoming {
			if err := h.engine.Reject(ctx, callID, sip.StatusDecline); err == nil {
				continue
			}
		}
		_ = h.engine.Hangup(ctx, callID)
	}
}

// PeerCount reports the registered-peer count for the /health surface.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) peerByName(name string) (*peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[name]
	return p, ok
}

// pendingIncoming reads a peer's not-yet-answered incoming call-id under
// the hub lock; the field is written by the event-routing goroutine, read
// by the peer's own read loop.
func (h *Hub) pendingIncoming(p *peer) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return p.incomingCallID
}

func (h *Hub) clearPendingIncoming(p *peer, callID string) {
	h.mu.Lock()
	if p.incomingCallID == callID {
		p.incomingCallID = ""
	}
	h.mu.Unlock()
}

func (h *Hub) trackCall(callID, owner string, origin dialog.Direction, counterpart string) {
	h.mu.Lock()
	h.activeCall[callID] = activeCall{Owner: owner, Origin: origin, Counterpart: counterpart}
	h.mu.Unlock()
}

func (h *Hub) ownerOf(callID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.activeCall[callID]
	return entry.Owner, ok
}
