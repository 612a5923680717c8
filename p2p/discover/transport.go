package discover

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Transport is the abstract UDP socket the v5 handle speaks over. The real
// discv5 wire handshake crypto is out of scope; this interface
// is intentionally just net.PacketConn, so production code uses a real
// net.ListenUDP socket and tests use the in-memory implementation below.
type Transport = net.PacketConn

// memNetwork is a process-wide registry letting memPacketConns address each
// other by net.Addr, the way real UDP sockets address each other by
// host:port. It exists purely to make multi-node discovery tests
// deterministic without opening real sockets.
type memNetwork struct {
	mu    sync.Mutex
	conns map[string]*memPacketConn
}

var globalMemNetwork = &memNetwork{conns: make(map[string]*memPacketConn)}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memPacketConn struct {
	addr memAddr
	net  *memNetwork

	mu     sync.Mutex
	closed bool
	inbox  chan memPacket
}

type memPacket struct {
	data []byte
	from net.Addr
}

// NewMemTransport creates an in-memory Transport bound to addr. Packets
// written to addr from any other memPacketConn on the same process are
// delivered here.
func NewMemTransport(addr string) (Transport, error) {
	n := globalMemNetwork
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.conns[addr]; exists {
		return nil, fmt.Errorf("discover: in-memory address %q already bound", addr)
	}
	c := &memPacketConn{addr: memAddr(addr), net: n, inbox: make(chan memPacket, 256)}
	n.conns[addr] = c
	return c, nil
}

func (c *memPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	pkt, ok := <-c.inbox
	if !ok {
		return 0, nil, fmt.Errorf("discover: in-memory transport closed")
	}
	n := copy(p, pkt.data)
	return n, pkt.from, nil
}

func (c *memPacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.net.mu.Lock()
	dst, ok := c.net.conns[addr.String()]
	c.net.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("discover: no in-memory peer at %q", addr.String())
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	dst.mu.Lock()
	closed := dst.closed
	dst.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("discover: peer %q closed", addr.String())
	}
	select {
	case dst.inbox <- memPacket{data: cp, from: c.addr}:
	default:
		return 0, fmt.Errorf("discover: in-memory peer %q inbox full", addr.String())
	}
	return len(p), nil
}

func (c *memPacketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.net.mu.Lock()
	delete(c.net.conns, string(c.addr))
	c.net.mu.Unlock()
	close(c.inbox)
	return nil
}

func (c *memPacketConn) LocalAddr() net.Addr { return c.addr }

func (c *memPacketConn) SetDeadline(t time.Time) error      { return nil }
func (c *memPacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *memPacketConn) SetWriteDeadline(t time.Time) error { return nil }
