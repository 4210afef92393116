package transmit

import (
	"errors"
	"net"
	"os"
	"time"
)

// udpTransmit wraps a *net.UDPConn as a Transmit. Go's net package has no
// direct equivalent of a non-blocking recv; TryRecvFrom emulates it by
// setting an already-elapsed read deadline before each attempt, the
// standard idiom for a non-blocking poll over a blocking net.Conn, then
// clearing the deadline again so a caller's own blocking use of the same
// conn (if any) is unaffected.
type udpTransmit struct {
	conn    *net.UDPConn
	maxSize int
}

// New wraps conn as a Transmit with the given maximum datagram length
// (typically 1200, per spec §3, to stay under common MTU).
func New(conn *net.UDPConn, maxDatagramLength int) Transmit {
	return &udpTransmit{conn: conn, maxSize: maxDatagramLength}
}

func (t *udpTransmit) MaxDatagramLength() int { return t.maxSize }

func (t *udpTransmit) SendTo(data []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return 0, err
		}
		udpAddr = resolved
	}
	return t.conn.WriteToUDP(data, udpAddr)
}

func (t *udpTransmit) TryRecvFrom(buf []byte) (int, net.Addr, error) {
	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, nil, err
	}
	defer t.conn.SetReadDeadline(time.Time{})

	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, ErrNoPendingPackets
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, ErrNoPendingPackets
		}
		return 0, nil, err
	}
	return n, addr, nil
}
