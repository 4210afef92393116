// Package reliability implements the reliability engine (spec §4.5):
// 16-bit wrapping sequence numbers, a 64-bit receive-ack bitmask window,
// and a retransmit queue with doubling RTO. Grounded on
// client2/arq.go's ARQ (timer-driven retransmission, a retry counter
// capped at max_retries) and stream/stream.go's ack bookkeeping
// (f_ack_idx / wack), adapted from frame indices to a 16-bit-wrap/
// 64-bit-mask model.
package reliability

import (
	"container/list"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/wlog"
)

// ErrConnectionLost is returned by Tick once an unacked entry has been
// retransmitted max_retries times without being acknowledged.
var ErrConnectionLost = errors.New("reliability: max retries exceeded")

// Config holds the reliability engine's tunables (spec §6).
type Config struct {
	RTOInitial time.Duration
	RTOMax     time.Duration
	MaxRetries int
}

// DefaultConfig matches spec §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		RTOInitial: 100 * time.Millisecond,
		RTOMax:     1 * time.Second,
		MaxRetries: 10,
	}
}

// SendFunc transmits one fully sealed packet buffer; supplied by the
// caller (the conn façade), which owns the remote address and Transmit.
type SendFunc func(buf []byte) error

type unackedEntry struct {
	packetIndex     uint16
	flags           packet.Flags
	prelude         uint32
	payload         []byte
	sendTime        time.Time
	rto             time.Duration
	retransmitCount int
}

// ReceiveOutcome reports what Receive decided about an inbound packet.
type ReceiveOutcome struct {
	// Deliver is true if the packet should be handed to upper layers
	// (parcel/stream). False for duplicates and out-of-window packets.
	Deliver bool
	// Duplicate is true if this exact packet_index was already seen.
	Duplicate bool
}

// Engine is the per-connection reliability state: sequencing, the receive
// ack window, and the unacked retransmit queue. Not safe for concurrent
// use — callers serialize access the way conn.Connection does.
type Engine struct {
	connectionID uint32
	hb           packet.HashBuilder
	send         SendFunc
	cfg          Config
	log          *log.Logger

	nextSentIndex uint16

	haveRecvAny  bool
	recvAckIndex uint16
	recvAckMask  uint64
	lastRecvTime time.Time

	unacked    *list.List
	unackedIdx map[uint16]*list.Element

	lost bool
}

// New constructs an Engine for connectionID, sending sealed packets via
// send and using hb for the packet hash.
func New(connectionID uint32, hb packet.HashBuilder, send SendFunc, cfg Config) *Engine {
	return &Engine{
		connectionID: connectionID,
		hb:           hb,
		send:         send,
		cfg:          cfg,
		log:          wlog.New("reliability"),
		unacked:      list.New(),
		unackedIdx:   make(map[uint16]*list.Element),
	}
}

// LastRecvTime returns the time of the most recently received packet, the
// zero Time if none has been received yet.
func (e *Engine) LastRecvTime() time.Time { return e.lastRecvTime }

// IsLost reports whether an unacked entry exceeded max_retries.
func (e *Engine) IsLost() bool { return e.lost }

// PendingUnackedCount returns the number of reliable packets awaiting ack,
// for tests and diagnostics.
func (e *Engine) PendingUnackedCount() int { return e.unacked.Len() }

func (e *Engine) buildAndSend(idx uint16, flags packet.Flags, prelude uint32, payload []byte) error {
	h := packet.Header{
		ConnectionID:  e.connectionID,
		PacketIndex:   idx,
		AckIndex:      e.recvAckIndex,
		AckMask:       e.recvAckMask,
		Flags:         flags,
		Prelude:       prelude,
	}
	buf := make([]byte, packet.SealedSize(len(payload)))
	if _, err := packet.Seal(buf, h, payload, e.hb); err != nil {
		return err
	}
	return e.send(buf)
}

// SendReliable builds, seals and sends a packet carrying payload, and
// records it in the unacked queue for retransmission until acked (spec
// §4.5 "Sending a reliable payload").
func (e *Engine) SendReliable(flags packet.Flags, prelude uint32, payload []byte, now time.Time) (packetIndex uint16, err error) {
	idx := e.nextSentIndex
	e.nextSentIndex++

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	if err := e.buildAndSend(idx, flags, prelude, payload); err != nil {
		return idx, err
	}

	entry := &unackedEntry{
		packetIndex: idx,
		flags:       flags,
		prelude:     prelude,
		payload:     payloadCopy,
		sendTime:    now,
		rto:         e.cfg.RTOInitial,
	}
	elem := e.unacked.PushBack(entry)
	e.unackedIdx[idx] = elem
	return idx, nil
}

// SendVolatile builds, seals and sends a packet carrying payload without
// any retransmission tracking (spec §4.5 "Sending a volatile payload").
func (e *Engine) SendVolatile(flags packet.Flags, prelude uint32, payload []byte) (packetIndex uint16, err error) {
	idx := e.nextSentIndex
	e.nextSentIndex++
	return idx, e.buildAndSend(idx, flags, prelude, payload)
}

// Receive processes one verified, demuxed inbound packet: updates
// last_recv_time, advances or checks the receive ack window, and removes
// any unacked entries the peer's ack info covers (spec §4.5 "Receiving
// any packet").
func (e *Engine) Receive(h packet.Header, now time.Time) ReceiveOutcome {
	e.lastRecvTime = now
	p := h.PacketIndex

	outcome := ReceiveOutcome{}

	switch {
	case !e.haveRecvAny:
		e.haveRecvAny = true
		e.recvAckIndex = p
		e.recvAckMask = 0 // nothing known below the first packet we've ever seen
		outcome.Deliver = true

	case SeqNewer(p, e.recvAckIndex):
		shift := SeqDistance(p, e.recvAckIndex)
		if shift >= 64 {
			e.recvAckMask = 0
		} else {
			e.recvAckMask <<= shift
			e.recvAckMask |= 1 << (shift - 1) // old recvAckIndex was received -> its bit is shift-1 below the new LSB
		}
		e.recvAckIndex = p
		outcome.Deliver = true

	case p == e.recvAckIndex:
		outcome.Duplicate = true

	default:
		d := SeqDistance(e.recvAckIndex, p)
		if d >= 1 && d <= 64 {
			bit := uint64(1) << (d - 1)
			if e.recvAckMask&bit != 0 {
				outcome.Duplicate = true
			} else {
				e.recvAckMask |= bit
				outcome.Deliver = true
			}
		}
		// d > 64: outside window, discard (Deliver stays false).
	}

	e.processPeerAck(h.AckIndex, h.AckMask)
	return outcome
}

// processPeerAck removes unacked entries the peer's (ack_index, ack_mask)
// covers: packet_index == ack_index, and for each set bit d in ack_mask
// (1-indexed from the LSB), packet_index == ack_index - d.
func (e *Engine) processPeerAck(ackIndex uint16, ackMask uint64) {
	e.ackOne(ackIndex)
	for d := uint16(1); d <= 64; d++ {
		if ackMask&(1<<(d-1)) != 0 {
			e.ackOne(ackIndex - d)
		}
	}
}

func (e *Engine) ackOne(idx uint16) {
	elem, ok := e.unackedIdx[idx]
	if !ok {
		return
	}
	e.unacked.Remove(elem)
	delete(e.unackedIdx, idx)
}

// Tick retransmits any unacked entry whose RTO has elapsed, doubling its
// RTO up to RTOMax and incrementing its retry count (spec §4.5
// "Retransmission"). Returns ErrConnectionLost once an entry's retry
// count reaches MaxRetries; the caller should flip connection status to
// Lost and stop calling Tick for this engine.
func (e *Engine) Tick(now time.Time) error {
	for elem := e.unacked.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*unackedEntry)
		if now.Sub(entry.sendTime) <= entry.rto {
			continue
		}
		if err := e.buildAndSend(entry.packetIndex, entry.flags, entry.prelude, entry.payload); err != nil {
			e.log.Debugf("retransmit of packet_index=%d failed: %v", entry.packetIndex, err)
			continue
		}
		entry.sendTime = now
		entry.retransmitCount++
		entry.rto *= 2
		if entry.rto > e.cfg.RTOMax {
			entry.rto = e.cfg.RTOMax
		}
		if entry.retransmitCount >= e.cfg.MaxRetries {
			e.lost = true
			return ErrConnectionLost
		}
	}
	return nil
}
