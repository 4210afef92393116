// Package endpoint implements the demux endpoint (spec §4.3): a shared
// wrapper around a transmit.Transmit that buckets inbound, hash-verified
// packets by connection id, so one local socket can back many concurrent
// connections. Grounded on original_source/src/endpoint/server.rs
// (ServerUdpEndpoint) and original_source/src/connection/socket.rs
// (ClientSocket vs ServerSocket).
package endpoint

import (
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/transmit"
	"github.com/griffone/gnet/wlog"
)

// HandshakeInbox receives REQUEST_CONNECTION, ACCEPT_CONNECTION and
// REJECT_CONNECTION packets addressed to connection id 0: requests for a
// responder/listener to consume, accepts and rejects for a
// PendingConnection's TryPromote.
type HandshakeInbox struct {
	mu    sync.Mutex
	queue []HandshakeDatagram
}

// HandshakeDatagram is one verified, parsed handshake-directed packet.
type HandshakeDatagram struct {
	Packet packet.Packet
	Addr   net.Addr
}

func (h *HandshakeInbox) push(d HandshakeDatagram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, d)
}

// Take swaps out and returns all queued handshake datagrams.
func (h *HandshakeInbox) Take() []HandshakeDatagram {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queue
	h.queue = nil
	return out
}

// bucket is the ordered queue of verified packets accumulated for one
// connection id between Take calls.
type bucket struct {
	packets []packet.Packet
}

// Endpoint is the shared demux endpoint. The zero value is not usable;
// construct with NewServer or NewClient. Safe for concurrent use — Allow/Block/Pump/Take all
// take a single mutex, released before returning, per spec §5 (no
// long-held locks across substrate I/O beyond the non-blocking drain).
type Endpoint struct {
	transmit transmit.Transmit
	log      *log.Logger

	mu       sync.Mutex
	buckets  map[uint32]*bucket
	inbox    HandshakeInbox
	isServer bool
}

// NewServer constructs a demux endpoint that only retains packets for
// connection ids explicitly Allow'd, matching
// original_source ServerUdpEndpoint/ServerSocket.
func NewServer(t transmit.Transmit) *Endpoint {
	return &Endpoint{
		transmit: t,
		log:      wlog.New("endpoint"),
		buckets:  make(map[uint32]*bucket),
		isServer: true,
	}
}

// NewClient constructs a demux endpoint for a single outbound connection,
// matching original_source ClientSocket: all non-zero connection ids are
// accepted without a prior Allow call (there is exactly one connection to
// route to), while id 0 (handshake traffic) is still routed to the
// handshake inbox if present.
func NewClient(t transmit.Transmit) *Endpoint {
	return &Endpoint{
		transmit: t,
		log:      wlog.New("endpoint"),
		buckets:  make(map[uint32]*bucket),
		isServer: false,
	}
}

// Allow creates an empty bucket for id, idempotently. Required before
// packets addressed to id are retained by a server endpoint; a no-op on a
// client endpoint, which accepts any non-zero id unconditionally.
func (e *Endpoint) Allow(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[id]; !ok {
		e.buckets[id] = &bucket{}
	}
}

// Block removes id's bucket; subsequent packets for id are dropped.
func (e *Endpoint) Block(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.buckets, id)
}

// Pump drains the substrate (calling TryRecvFrom until it reports no
// pending packets), verifying each datagram's hash and routing it to the
// right bucket, or to the handshake inbox, or dropping it.
func (e *Endpoint) Pump(hb packet.HashBuilder) {
	maxLen := e.transmit.MaxDatagramLength()
	scratch := packet.NewScratchBuffer(maxLen)
	for {
		n, addr, err := e.transmit.TryRecvFrom(scratch)
		if err != nil {
			if err != transmit.ErrNoPendingPackets {
				e.log.Debugf("pump: recv error: %v", err)
			}
			return
		}
		e.handleDatagram(scratch[:n], addr, hb)
	}
}

func (e *Endpoint) handleDatagram(raw []byte, addr net.Addr, hb packet.HashBuilder) {
	pkt, err := packet.Parse(raw, hb)
	if err != nil {
		e.log.Debugf("pump: dropping malformed/unverified datagram from %v", addr)
		return
	}

	id := pkt.Header.ConnectionID

	e.mu.Lock()
	defer e.mu.Unlock()

	if id == 0 {
		if pkt.Header.Flags.Has(packet.FlagRequestConnection) || pkt.Header.Flags.Has(packet.FlagAcceptConnection) || pkt.Header.Flags.Has(packet.FlagRejectConnection) {
			// copy the payload out since scratch is reused on the next Pump
			cp := make([]byte, len(pkt.Payload))
			copy(cp, pkt.Payload)
			e.inbox.push(HandshakeDatagram{Packet: packet.Packet{Header: pkt.Header, Payload: cp}, Addr: addr})
		}
		return
	}

	b, ok := e.buckets[id]
	if !ok {
		if e.isServer {
			return // connection id not admitted; drop
		}
		// client endpoint: implicitly admit any non-zero id the caller
		// expects traffic from (there is only ever one live connection).
		b = &bucket{}
		e.buckets[id] = b
	}
	cp := make([]byte, len(pkt.Payload))
	copy(cp, pkt.Payload)
	b.packets = append(b.packets, packet.Packet{Header: pkt.Header, Payload: cp})
}

// Take swaps out and returns id's accumulated packets, oldest first. A
// missing or empty bucket returns nil.
func (e *Endpoint) Take(id uint32) []packet.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.buckets[id]
	if !ok || len(b.packets) == 0 {
		return nil
	}
	out := b.packets
	b.packets = nil
	return out
}

// HandshakeInboxTake swaps out and returns the endpoint's queued inbound
// handshake-directed (connection id 0) packets, for a listener or a
// PendingConnection to consume.
func (e *Endpoint) HandshakeInboxTake() []HandshakeDatagram {
	return e.inbox.Take()
}

// PushHandshakeDatagram requeues a datagram taken from the handshake inbox
// that didn't belong to the caller (a different pending handshake sharing
// the same endpoint). Ordering versus freshly arrived datagrams is not
// preserved.
func (e *Endpoint) PushHandshakeDatagram(d HandshakeDatagram) {
	e.inbox.push(d)
}

// Transmit exposes the underlying Transmit for direct sends (handshake
// requests/replies, which travel outside any bucket).
func (e *Endpoint) Transmit() transmit.Transmit { return e.transmit }
