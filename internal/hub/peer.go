package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageBytes = 64 * 1024
	heartbeatPeriod = 30 * time.Second
	pongWait        = heartbeatPeriod*2 + 5*time.Second
	writeWait       = 5 * time.Second
	sendQueueLen    = 32
)

// peer is one registered browser's WebSocket channel, following the
// single-writer-goroutine-fed-by-a-channel hub pattern: the read loop
// only ever reads, every write goes through send so concurrent writers
// (the hub's event-routing goroutine and the read loop itself) never race
// on the same *websocket.Conn.
type peer struct {
	username string
	conn     *websocket.Conn
	send     chan []byte

	// done is closed on unregister; send itself is never closed, so an
	// engine event racing a disconnect can never panic on a closed channel.
	done     chan struct{}
	doneOnce sync.Once

	// incomingCallID is the one telephony-originated dialog currently
	// being offered to this peer and not yet answered/rejected, so an
	// answer frame with no explicit "to" can be routed unambiguously as
	// the browser-side answer for that dialog. Guarded by the hub's mu:
	// the event-routing goroutine writes it, the read loop consumes it.
	incomingCallID string
}

func newPeer(username string, conn *websocket.Conn) *peer {
	return &peer{
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendQueueLen),
		done:     make(chan struct{}),
	}
}

func (p *peer) close() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *peer) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (p *peer) enqueue(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-p.done:
	case p.send <- data:
	default:
		// send queue full: drop rather than block the routing goroutine.
	}
}
