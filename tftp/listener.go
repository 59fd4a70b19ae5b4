package tftp

import (
	"net"

	"golang.org/x/net/ipv4"
)

// listener reads requests from the well-known socket. On IPv4 sockets it also
// reports the address each request was sent to, so the reply socket can be
// bound to the same interface address on multi-homed hosts.
type listener struct {
	conn net.PacketConn
	pc4  *ipv4.PacketConn
}

func newListener(conn net.PacketConn) *listener {
	l := &listener{conn: conn}
	if udp, ok := conn.(*net.UDPConn); ok {
		pc := ipv4.NewPacketConn(udp)
		if err := pc.SetControlMessage(ipv4.FlagDst, true); err == nil {
			l.pc4 = pc
		}
	}
	return l
}

func (l *listener) readRequest(b []byte) (int, net.Addr, net.IP, error) {
	if l.pc4 == nil {
		n, src, err := l.conn.ReadFrom(b)
		return n, src, nil, err
	}
	n, cm, src, err := l.pc4.ReadFrom(b)
	if err != nil {
		return n, src, nil, err
	}
	var dst net.IP
	if cm != nil {
		dst = cm.Dst
	}
	return n, src, dst, nil
}

// sessionAddr is the local address for a new session socket: an ephemeral
// port on dst when dst is a unicast address, any address otherwise.
func sessionAddr(dst net.IP) string {
	if dst == nil || dst.IsUnspecified() || dst.IsMulticast() || dst.Equal(net.IPv4bcast) {
		return ":0"
	}
	return net.JoinHostPort(dst.String(), "0")
}
