// Package stream implements the ordered byte stream channel (spec §4.7):
// bytes carried in CARRIES_STREAM packets whose 32-bit prelude holds the
// low bits of the absolute send offset, reassembled on the receiving side
// via a sparse offset-keyed inbox that coalesces into a contiguous
// buffer. Adapted from a Frame/window/ack loop sequencing whole messages
// by index; this package instead sub-divides raw bytes by absolute offset
// so they can be packed opportunistically alongside parcels.
package stream

import (
	"bytes"
	"errors"
	"time"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/reliability"
)

// ErrChunkTooLarge names a maxChunk larger than the substrate can carry.
// Nothing in this package returns it: NewChannel does not check maxChunk
// against the substrate, and the caller sizes it (conn.New uses
// MaxDatagramLength minus header and hash).
var ErrChunkTooLarge = errors.New("stream: chunk exceeds max payload")

// Channel is the per-connection byte stream: a send-side outbox chunked
// into reliable packets, and a receive-side sparse inbox that coalesces
// into an ordered contiguous buffer. Not safe for concurrent use.
type Channel struct {
	engine   *reliability.Engine
	maxChunk int

	outbox     bytes.Buffer
	sendOffset uint64

	haveRecvAny bool
	recvOffset  uint64
	recvHigh32  uint32
	maxLow32    uint32
	contiguous  bytes.Buffer
	pending     map[uint64][]byte
}

// NewChannel constructs a stream Channel over engine. maxChunk bounds how
// many bytes of stream payload are packed per packet (typically
// max_datagram_length minus header/hash overhead).
func NewChannel(engine *reliability.Engine, maxChunk int) *Channel {
	return &Channel{
		engine:   engine,
		maxChunk: maxChunk,
		pending:  make(map[uint64][]byte),
	}
}

// WriteBytesToStream appends data to the outbox (spec §4.7 "Sender").
// Bytes queued this way are not sent until Flush, or until the outbox
// reaches one max-payload worth.
func (c *Channel) WriteBytesToStream(data []byte) error {
	c.outbox.Write(data)
	return c.flushFullChunks(time.Time{})
}

// flushFullChunks emits complete max-payload chunks without requiring an
// explicit Flush; called after every write so a stream under steady load
// doesn't buffer unboundedly between Flush calls. now is only used when a
// full chunk is actually emitted, so a zero Time is fine when the outbox
// holds less than one chunk.
func (c *Channel) flushFullChunks(now time.Time) error {
	for c.outbox.Len() >= c.maxChunk {
		if now.IsZero() {
			now = time.Now()
		}
		if err := c.emitChunk(c.maxChunk, now); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits one packet carrying whatever remains in the outbox (up to
// maxChunk bytes), even if it's a partial chunk. A no-op if the outbox is
// empty.
func (c *Channel) Flush(now time.Time) error {
	if c.outbox.Len() == 0 {
		return nil
	}
	n := c.outbox.Len()
	if n > c.maxChunk {
		n = c.maxChunk
	}
	return c.emitChunk(n, now)
}

func (c *Channel) emitChunk(n int, now time.Time) error {
	chunk := make([]byte, n)
	if _, err := c.outbox.Read(chunk); err != nil {
		return err
	}
	prelude := uint32(c.sendOffset)
	if _, err := c.engine.SendReliable(packet.FlagCarriesStream, prelude, chunk, now); err != nil {
		return err
	}
	c.sendOffset += uint64(n)
	return nil
}

// OnDelivered handles one non-duplicate delivered packet carrying
// CARRIES_STREAM: computes its absolute offset (tracking the peer's
// 32-bit prelude wraparound against the high bits seen so far), trims any
// overlap with bytes already consumed, places the remainder in the
// contiguous buffer or the sparse pending map, then coalesces any
// contiguous runs starting at recvOffset (spec §4.7 "Receiver").
func (c *Channel) OnDelivered(h packet.Header, payload []byte) {
	offset := c.absoluteOffset(h.Prelude)

	if offset+uint64(len(payload)) <= c.recvOffset {
		return // entirely already consumed
	}
	if offset < c.recvOffset {
		trim := c.recvOffset - offset
		payload = payload[trim:]
		offset = c.recvOffset
	}

	if offset == c.recvOffset {
		c.contiguous.Write(payload)
		c.recvOffset += uint64(len(payload))
		c.coalescePending()
		return
	}

	c.pending[offset] = append([]byte(nil), payload...)
}

// absoluteOffset reconstructs the 64-bit absolute offset from a packet's
// 32-bit prelude, advancing the high-32 counter whenever the low-32 value
// wraps backward relative to the highest low-32 value seen so far in the
// current epoch (spec §4.7) — not the most recently processed packet's
// value, since packets routinely arrive out of order (spec §1, scenario
// S4) without that being a genuine 32-bit wraparound. A regression is only
// treated as a wrap once it exceeds half the 32-bit range, the same
// "newer if delta < half range" rule reliability.SeqNewer applies to the
// 16-bit packet_index space; ordinary reordering never spans anywhere
// close to that distance.
func (c *Channel) absoluteOffset(low uint32) uint64 {
	if !c.haveRecvAny {
		c.haveRecvAny = true
		c.maxLow32 = low
		return uint64(low)
	}
	if low < c.maxLow32 && c.maxLow32-low > 1<<31 {
		c.recvHigh32++
		c.maxLow32 = low
		return uint64(c.recvHigh32)<<32 | uint64(low)
	}
	if low > c.maxLow32 {
		c.maxLow32 = low
	}
	return uint64(c.recvHigh32)<<32 | uint64(low)
}

// coalescePending moves any runs of pending chunks that are now
// contiguous with recvOffset into the contiguous buffer.
func (c *Channel) coalescePending() {
	for {
		chunk, ok := c.pending[c.recvOffset]
		if !ok {
			return
		}
		delete(c.pending, c.recvOffset)
		c.contiguous.Write(chunk)
		c.recvOffset += uint64(len(chunk))
	}
}

// ReadFromStream copies from the contiguous buffer into buf, returning
// the number of bytes copied (may be less than len(buf)).
func (c *Channel) ReadFromStream(buf []byte) int {
	n, _ := c.contiguous.Read(buf)
	return n
}

// PendingIncomingStreamBytes returns the number of contiguous bytes
// currently available to ReadFromStream. May lag behind what has actually
// arrived if there's a gap at the front of the receive window.
func (c *Channel) PendingIncomingStreamBytes() int {
	return c.contiguous.Len()
}
