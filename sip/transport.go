package sip

import (
	"fmt"
	"log/slog"
	"net"
)

// MessageHandler receives a parsed message and the address it arrived from.
type MessageHandler func(msg Message, raddr *net.UDPAddr)

// Transport is a single UDP listener. The gateway only ever speaks SIP over
// UDP, so unlike a multi-transport stack this has no transport-selection
// layer above it.
type Transport struct {
	conn   *net.UDPConn
	log    *slog.Logger
	handle MessageHandler

	closed chan struct{}
}

// ListenUDP binds addr (host:port) and returns a Transport ready to Serve.
func ListenUDP(addr string, log *slog.Logger) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("sip: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("sip: listen udp: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{conn: conn, log: log, closed: make(chan struct{})}, nil
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Serve blocks reading datagrams and dispatching them to handle until the
// transport is closed. One UDP read equals one SIP message; there is no
// fragmentation handling since RFC 3261 18.1.1 requires senders to keep
// UDP messages under the path MTU.
func (t *Transport) Serve(handle MessageHandler) error {
	t.handle = handle
	buf := make([]byte, 65535)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return nil
			default:
			}
			t.log.Error("udp read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go t.dispatch(data, raddr)
	}
}

func (t *Transport) dispatch(data []byte, raddr *net.UDPAddr) {
	msg, err := ParseMessage(data)
	if err != nil {
		t.log.Warn("discarding unparsable datagram", "from", raddr.String(), "error", err)
		return
	}
	msg.SetSource(raddr.String())
	t.handle(msg, raddr)
}

// Send writes msg to raddr. Sends are best-effort: a failure is logged
// and otherwise has no effect on caller state, matching UDP's
// unreliable-delivery contract (the transaction layer is what retransmits).
func (t *Transport) Send(msg Message, raddr *net.UDPAddr) error {
	var b bytesBuilder
	msg.StringWrite(&b)
	_, err := t.conn.WriteToUDP(b.Bytes(), raddr)
	if err != nil {
		t.log.Warn("udp write failed", "to", raddr.String(), "error", err)
	}
	return err
}

// ResolveUDPAddr is a small wrapper kept here so callers never need to
// import net directly just to turn a host:port string into a send target.
func ResolveUDPAddr(hostport string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", hostport)
}

func (t *Transport) Close() error {
	close(t.closed)
	return t.conn.Close()
}

// bytesBuilder adapts a growable byte slice to io.StringWriter so
// StringWrite methods can serialize directly into the send buffer without
// an intermediate strings.Builder/string round trip.
type bytesBuilder struct {
	buf []byte
}

func (b *bytesBuilder) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

func (b *bytesBuilder) Bytes() []byte { return b.buf }
