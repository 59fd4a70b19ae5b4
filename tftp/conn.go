package tftp

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// Transport is the datagram endpoint owned by one session. net.PacketConn
// satisfies it.
type Transport interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

var errTimeout = errors.New("tftp: read timed out")

// requestConn binds a Transport to the peer of one session and filters
// inbound datagrams by source address.
type requestConn struct {
	conn   Transport
	addr   net.Addr
	locked bool
	buf    []byte
}

func newRequestConn(conn Transport, addr net.Addr, locked bool) *requestConn {
	return &requestConn{
		conn:   conn,
		addr:   addr,
		locked: locked,
		buf:    make([]byte, maxPacketSize+1),
	}
}

func (c *requestConn) send(p Packet) ([]byte, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return b, c.write(b)
}

func (c *requestConn) write(b []byte) error {
	_, err := c.conn.WriteTo(b, c.addr)
	return err
}

// receive waits until deadline for one datagram. The returned slice is only
// valid until the next call. A ctx that is already done returns errTimeout
// at once, since its wake-up may have been overwritten by the new deadline.
func (c *requestConn) receive(ctx context.Context, deadline time.Time) ([]byte, net.Addr, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, errTimeout
	}

	n, addr, err := c.conn.ReadFrom(c.buf)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, nil, errTimeout
		}
		return nil, nil, err
	}
	return c.buf[:n], addr, nil
}

// matches reports whether a datagram from addr belongs to this session. An
// unlocked conn takes any port on the peer's host; that is how a client
// learns the server's transfer ID.
func (c *requestConn) matches(addr net.Addr) bool {
	if c.locked {
		return sameAddr(c.addr, addr)
	}
	return sameHost(c.addr, addr)
}

// lock fixes the peer to addr. Later datagrams must come from exactly there.
func (c *requestConn) lock(addr net.Addr) {
	if c.locked {
		return
	}
	c.addr = addr
	c.locked = true
}

func (c *requestConn) Close() error {
	return c.conn.Close()
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

func sameHost(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.IP.Equal(ub.IP)
	}
	hostA, _, errA := net.SplitHostPort(a.String())
	hostB, _, errB := net.SplitHostPort(b.String())
	return errA == nil && errB == nil && hostA == hostB
}

// peerKey is the transfer ID of a peer as used by the session table.
func peerKey(addr net.Addr) string {
	return addr.Network() + "/" + addr.String()
}
