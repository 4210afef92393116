package transmit

import (
	"net"
	"sync"
)

// MemAddr is a net.Addr for in-memory endpoints in a Medium.
type MemAddr string

func (a MemAddr) Network() string { return "mem" }
func (a MemAddr) String() string  { return string(a) }

// Filter decides whether a datagram from src to dst should be delivered.
// Returning false drops it — the mechanism scenario S3 (dropped
// retransmission) and property 6 (duplicate injection) are built on.
type Filter func(src, dst net.Addr, payload []byte) bool

// Medium is an in-memory substrate connecting any number of MemTransmit
// endpoints, used by tests in place of a real UDP network so that loss,
// duplication and reordering are deterministic and scriptable (see
// original_source/src/endpoint/transmit/test.rs, whose role this fills,
// and sockatz/common.QUICProxyConn's channel-per-direction idiom, adapted
// here to a shared mutex-guarded queue so the Filter hook can inspect and
// veto traffic between arbitrary endpoint pairs rather than just one).
type Medium struct {
	mu        sync.Mutex
	endpoints map[MemAddr]*MemTransmit
	filter    Filter
	maxSize   int
}

// NewMedium constructs an empty Medium. filter may be nil (deliver
// everything unconditionally).
func NewMedium(maxDatagramLength int, filter Filter) *Medium {
	if filter == nil {
		filter = func(net.Addr, net.Addr, []byte) bool { return true }
	}
	return &Medium{
		endpoints: make(map[MemAddr]*MemTransmit),
		filter:    filter,
		maxSize:   maxDatagramLength,
	}
}

// SetFilter replaces the delivery filter.
func (m *Medium) SetFilter(filter Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
}

// NewEndpoint registers and returns a Transmit bound to addr on this Medium.
func (m *Medium) NewEndpoint(addr MemAddr) *MemTransmit {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep := &MemTransmit{addr: addr, medium: m}
	m.endpoints[addr] = ep
	return ep
}

// Inject hands payload to dst as if it arrived from src, bypassing the
// filter. Used by tests that want to replay a captured datagram (e.g. to
// exercise duplicate suppression, property 6).
func (m *Medium) Inject(src, dst MemAddr, payload []byte) {
	m.mu.Lock()
	ep, ok := m.endpoints[dst]
	m.mu.Unlock()
	if !ok {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	ep.push(src, cp)
}

// MemTransmit is a Transmit backed by a Medium.
type MemTransmit struct {
	addr   MemAddr
	medium *Medium

	mu    sync.Mutex
	inbox []memDatagram
}

type memDatagram struct {
	from    net.Addr
	payload []byte
}

func (t *MemTransmit) Addr() MemAddr { return t.addr }

func (t *MemTransmit) MaxDatagramLength() int { return t.medium.maxSize }

func (t *MemTransmit) SendTo(data []byte, addr net.Addr) (int, error) {
	dst, ok := addr.(MemAddr)
	if !ok {
		dst = MemAddr(addr.String())
	}
	t.medium.mu.Lock()
	ep, exists := t.medium.endpoints[dst]
	filter := t.medium.filter
	t.medium.mu.Unlock()
	if !exists {
		return len(data), nil // peer not reachable; UDP-like silent drop
	}
	if !filter(t.addr, dst, data) {
		return len(data), nil // dropped on the wire
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ep.push(t.addr, cp)
	return len(data), nil
}

func (t *MemTransmit) push(from net.Addr, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, memDatagram{from: from, payload: payload})
}

func (t *MemTransmit) TryRecvFrom(buf []byte) (int, net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbox) == 0 {
		return 0, nil, ErrNoPendingPackets
	}
	dg := t.inbox[0]
	t.inbox = t.inbox[1:]
	n := copy(buf, dg.payload)
	return n, dg.from, nil
}
