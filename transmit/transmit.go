// Package transmit defines the Transmit capability (spec §4.2): an
// abstract, non-blocking datagram send/receive surface the rest of this
// module is built against, plus a concrete UDP implementation and an
// in-memory lossy pipe for deterministic tests.
package transmit

import (
	"errors"
	"net"
)

// Errors returned by TryRecvFrom. NoPendingPackets is the non-blocking
// "nothing right now" signal; callers retry on their own cadence.
var (
	ErrNoPendingPackets = errors.New("transmit: no pending packets")
	ErrMalformedPacket  = errors.New("transmit: malformed packet")
)

// Transmit is the capability this module consumes for datagram I/O. It
// promises nothing about ordering or deduplication — see
// original_source/src/endpoint/transmit.rs's trait doc, which this
// mirrors field-for-field.
type Transmit interface {
	// MaxDatagramLength is the largest datagram the substrate carries;
	// sealed packets are variable-length and may be shorter.
	MaxDatagramLength() int

	// SendTo sends data to addr, returning the number of bytes sent
	// (len(data) on success) or an IO error.
	SendTo(data []byte, addr net.Addr) (int, error)

	// TryRecvFrom attempts to read one pending datagram into buf without
	// blocking. Returns ErrNoPendingPackets if none is available right now.
	TryRecvFrom(buf []byte) (int, net.Addr, error)
}
