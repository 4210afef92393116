// Package conn implements the Connection façade (spec §4.8): a
// single-threaded, cooperative state machine layering the handshake,
// reliability, parcel and stream engines over one demuxed connection id.
// Grounded on original_source/src/connection/connection.rs's
// Connection/ConnectionStatus directly, with error-on-non-Open-status
// checks following client2/connection.go's pattern of deriving status
// from timers at the top of every public method.
package conn

import (
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/parcel"
	"github.com/griffone/gnet/reliability"
	"github.com/griffone/gnet/stream"
	"github.com/griffone/gnet/wlog"
)

// Status is a Connection's lifecycle state (spec §3 "Lifecycle").
type Status int

const (
	Open Status = iota
	Lost
	Closed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "Open"
	case Lost:
		return "Lost"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Errors surfaced by Connection methods once status has left Open (spec §7).
var (
	ErrConnectionLost   = errors.New("conn: connection lost")
	ErrConnectionClosed = errors.New("conn: connection closed")
)

// Connection is the façade over one established, demuxed conversation.
// Generic over T, the application parcel type carried by PushReliableParcel
// / PushVolatileParcel / PopParcel / WriteItemToStream. Not safe for
// concurrent use (spec §5).
type Connection[T any] struct {
	id         uint32
	remoteAddr net.Addr
	ep         *endpoint.Endpoint
	hb         packet.HashBuilder

	status  Status
	timeout time.Duration

	lastRecvTime time.Time

	reliability *reliability.Engine
	parcels     *parcel.Channel[T]
	stream      *stream.Channel
	serializer  parcel.Serializer[T]

	log *log.Logger
}

// New constructs an open Connection bound to connectionID against the
// given demux endpoint, using serializer for both the parcel channel and
// WriteItemToStream. timeout is the Open->Lost inactivity threshold (spec
// §6, default 5s).
func New[T any](id uint32, remoteAddr net.Addr, ep *endpoint.Endpoint, hb packet.HashBuilder, serializer parcel.Serializer[T], rcfg reliability.Config, timeout time.Duration, now time.Time) *Connection[T] {
	l := wlog.New("conn")
	c := &Connection[T]{
		id:           id,
		remoteAddr:   remoteAddr,
		ep:           ep,
		hb:           hb,
		status:       Open,
		timeout:      timeout,
		lastRecvTime: now,
		log:          l,
	}
	send := func(buf []byte) error {
		_, err := ep.Transmit().SendTo(buf, remoteAddr)
		return err
	}
	c.reliability = reliability.New(id, hb, send, rcfg)
	c.parcels = parcel.NewChannel[T](c.reliability, serializer)
	maxChunk := ep.Transmit().MaxDatagramLength() - packet.HeaderSize - packet.HashSize
	c.stream = stream.NewChannel(c.reliability, maxChunk)
	c.serializer = serializer
	return c
}

// refreshStatus derives status from timers, per spec §4.8 "Each call
// first updates status from timers".
func (c *Connection[T]) refreshStatus(now time.Time) {
	if c.status != Open {
		return
	}
	// LastRecvTime reflects the reliability engine's view, which starts
	// zero until the first packet is received; fall back to the
	// connection's own creation time until then.
	last := c.reliability.LastRecvTime()
	if last.IsZero() {
		last = c.lastRecvTime
	}
	if now.Sub(last) > c.timeout {
		c.status = Lost
		c.log.Warnf("connection %d: Open -> Lost (no traffic for %v)", c.id, now.Sub(last))
	}
}

// ID returns the demuxed connection id this Connection was assigned during
// the handshake.
func (c *Connection[T]) ID() uint32 { return c.id }

// Status returns the connection's current lifecycle state.
func (c *Connection[T]) Status() Status { return c.status }

// IsOpen reports whether status is Open. A subsequent call may still fail
// since this only queries the last-derived status.
func (c *Connection[T]) IsOpen() bool { return c.status == Open }

func (c *Connection[T]) checkOpen(now time.Time) error {
	c.refreshStatus(now)
	switch c.status {
	case Lost:
		return ErrConnectionLost
	case Closed:
		return ErrConnectionClosed
	default:
		return nil
	}
}

// Deliver feeds one demuxed, verified packet addressed to this connection
// through the reliability engine, dispatching delivered payloads to the
// parcel or stream channel by flag, or observing a CLOSE (spec §4.5 and
// §4.8).
func (c *Connection[T]) Deliver(pkt packet.Packet, now time.Time) {
	if pkt.Header.Flags.Has(packet.FlagClose) {
		c.status = Closed
		c.log.Infof("connection %d: Open -> Closed (peer CLOSE)", c.id)
		return
	}
	outcome := c.reliability.Receive(pkt.Header, now)
	if !outcome.Deliver {
		return
	}
	switch {
	case pkt.Header.Flags.Has(packet.FlagCarriesParcel):
		if err := c.parcels.OnDelivered(pkt.Header, pkt.Payload); err != nil {
			c.log.Debugf("connection %d: dropping malformed parcel: %v", c.id, err)
		}
	case pkt.Header.Flags.Has(packet.FlagCarriesStream):
		c.stream.OnDelivered(pkt.Header, pkt.Payload)
	}
}

// Tick drives retransmission (spec §5 "callers drive progress by ...
// per-connection tick"). Expected cadence 30-120 Hz.
func (c *Connection[T]) Tick(now time.Time) {
	if c.status != Open {
		return
	}
	if err := c.reliability.Tick(now); err != nil {
		c.status = Lost
		c.log.Warnf("connection %d: Open -> Lost (%v)", c.id, err)
	}
}

// PopParcel returns the oldest pending (parcel, prelude), or
// ErrNoPendingParcels.
func (c *Connection[T]) PopParcel(now time.Time) (parcel.Received[T], error) {
	if err := c.checkOpen(now); err != nil {
		return parcel.Received[T]{}, err
	}
	return c.parcels.PopParcel()
}

// PushReliableParcel sends v tracked for retransmission until acked.
func (c *Connection[T]) PushReliableParcel(v T, prelude uint32, now time.Time) error {
	if err := c.checkOpen(now); err != nil {
		return err
	}
	return c.parcels.PushReliableParcel(v, prelude, now)
}

// PushVolatileParcel sends v with no retransmission tracking.
func (c *Connection[T]) PushVolatileParcel(v T, prelude uint32) error {
	if err := c.checkOpen(time.Now()); err != nil {
		return err
	}
	return c.parcels.PushVolatileParcel(v, prelude)
}

// WriteBytesToStream appends data to the outgoing stream outbox.
func (c *Connection[T]) WriteBytesToStream(data []byte, now time.Time) error {
	if err := c.checkOpen(now); err != nil {
		return err
	}
	return c.stream.WriteBytesToStream(data)
}

// WriteItemToStream serializes v with the connection's serializer and
// appends the result to the outgoing stream outbox (spec §4.8
// write_item_to_stream — sugar over write_bytes_to_stream for a typed
// item, with no framing of its own: the reader must know how to delimit
// items, e.g. by first writing their length).
func (c *Connection[T]) WriteItemToStream(v T, now time.Time) error {
	if err := c.checkOpen(now); err != nil {
		return err
	}
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return err
	}
	return c.stream.WriteBytesToStream(data)
}

// ReadFromStream copies from the contiguous receive buffer into buf.
func (c *Connection[T]) ReadFromStream(buf []byte, now time.Time) (int, error) {
	if err := c.checkOpen(now); err != nil {
		return 0, err
	}
	return c.stream.ReadFromStream(buf), nil
}

// PendingIncomingStreamBytes reports how many contiguous bytes are ready
// for ReadFromStream.
func (c *Connection[T]) PendingIncomingStreamBytes() int {
	return c.stream.PendingIncomingStreamBytes()
}

// Flush emits a packet carrying whatever remains buffered in the stream
// outbox, even a partial chunk.
func (c *Connection[T]) Flush(now time.Time) error {
	if err := c.checkOpen(now); err != nil {
		return err
	}
	return c.stream.Flush(now)
}

// Close queues a single CLOSE packet and transitions local status to
// Closed immediately; no acknowledgement is required (spec §5
// "Cancellation and timeouts").
func (c *Connection[T]) Close() error {
	h := packet.Header{ConnectionID: c.id, Flags: packet.FlagClose}
	buf := make([]byte, packet.SealedSize(0))
	if _, err := packet.Seal(buf, h, nil, c.hb); err != nil {
		return err
	}
	_, err := c.ep.Transmit().SendTo(buf, c.remoteAddr)
	c.status = Closed
	c.log.Infof("connection %d: Open -> Closed (local close)", c.id)
	return err
}
