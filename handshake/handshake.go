// Package handshake implements the four-way connection handshake (spec
// §4.4): REQUEST → ACCEPT/REJECT → implicit ack → established. Grounded on
// original_source/src/connection/connection.rs (connect/try_promote/sync)
// for the state machine, and client2/connection.go for the
// ConnectError/ProtocolError wrapper idiom and charmbracelet/log usage.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/wlog"
)

// Sentinel errors distinct from the wrapped ConnectError/ProtocolError —
// these are the values callers compare against with errors.Is.
var (
	ErrPayloadTooLarge = errors.New("handshake: payload exceeds max_datagram_length")
	ErrRejected        = errors.New("handshake: rejected by peer")
	ErrTimedOut        = errors.New("handshake: timed out waiting for peer")
	ErrStillPending    = errors.New("handshake: still pending")
)

const (
	// DefaultRetryInterval is half of DefaultTimeout, per spec §4.4 step 3.
	DefaultRetryInterval = 2500 * time.Millisecond
	DefaultTimeout       = 5 * time.Second
)

// Promotion is the result of a successful TryPromote: the connection id
// the peer assigned for this conversation, to be used as ConnectionID on
// all subsequent non-handshake packets.
type Promotion struct {
	ConnectionID uint32
	RemoteAddr   net.Addr
}

// PendingConnection is the initiator side of the handshake
// (original_source's PendingConnection). One PendingConnection is expected
// per endpoint — TryPromote drains the endpoint's entire handshake inbox
// and requeues datagrams that don't belong to it, so sharing one endpoint
// across several concurrent outbound handshakes works but pays an O(n)
// requeue cost per call.
type PendingConnection struct {
	ep         *endpoint.Endpoint
	hb         packet.HashBuilder
	remoteAddr net.Addr

	nonce   uint32
	payload []byte

	retryInterval time.Duration
	timeout       time.Duration

	lastSentTime time.Time
	lastCommTime time.Time

	log *log.Logger
}

// Connect sends the initial REQUEST_CONNECTION packet and returns a
// PendingConnection tracking it. payload is the application-supplied
// opaque data carried on the request (spec §4.4 step 1); it must fit
// within max_datagram_length minus header and hash overhead.
func Connect(ep *endpoint.Endpoint, remoteAddr net.Addr, payload []byte, hb packet.HashBuilder, now time.Time) (*PendingConnection, error) {
	return ConnectWithTiming(ep, remoteAddr, payload, hb, now, DefaultRetryInterval, DefaultTimeout)
}

// ConnectWithTiming is Connect with explicit retry/timeout durations, for
// callers driven by wconfig.Config rather than the package defaults.
func ConnectWithTiming(ep *endpoint.Endpoint, remoteAddr net.Addr, payload []byte, hb packet.HashBuilder, now time.Time, retryInterval, timeout time.Duration) (*PendingConnection, error) {
	maxPayload := ep.Transmit().MaxDatagramLength() - packet.HeaderSize - packet.HashSize
	if len(payload) > maxPayload {
		return nil, newConnectError("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, newConnectError("generating handshake nonce: %w", err)
	}

	p := &PendingConnection{
		ep:            ep,
		hb:            hb,
		remoteAddr:    remoteAddr,
		nonce:         nonce,
		payload:       payload,
		retryInterval: retryInterval,
		timeout:       timeout,
		lastSentTime:  now,
		lastCommTime:  now,
		log:           wlog.New("handshake/init"),
	}

	if err := p.sendRequest(); err != nil {
		return nil, newConnectError("sending request: %w", err)
	}
	p.log.Debugf("sent REQUEST_CONNECTION to %v nonce=%08x", remoteAddr, nonce)
	return p, nil
}

func randomNonce() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (p *PendingConnection) sendRequest() error {
	h := packet.Header{ConnectionID: 0, Flags: packet.FlagRequestConnection, Prelude: p.nonce}
	buf := make([]byte, packet.SealedSize(len(p.payload)))
	if _, err := packet.Seal(buf, h, p.payload, p.hb); err != nil {
		return err
	}
	_, err := p.ep.Transmit().SendTo(buf, p.remoteAddr)
	return err
}

// Sync drives retransmission and timeout detection (spec §4.4 step 3). Call
// it on the same cadence as the rest of the engine. A non-nil error means
// the pending connection has failed and must be discarded.
func (p *PendingConnection) Sync(now time.Time) error {
	if now.Sub(p.lastCommTime) >= p.timeout {
		return newConnectError("%w", ErrTimedOut)
	}
	if now.Sub(p.lastSentTime) >= p.retryInterval {
		if err := p.sendRequest(); err != nil {
			return newConnectError("retransmitting request: %w", err)
		}
		p.lastSentTime = now
		p.log.Debugf("retransmitted REQUEST_CONNECTION to %v", p.remoteAddr)
	}
	return nil
}

// TryPromote consumes handshake-inbox datagrams looking for an ACCEPT or
// REJECT matching this PendingConnection's nonce. Returns ErrStillPending
// (wrapped in nothing — check with errors.Is) if nothing matched yet,
// ErrRejected (wrapped in ProtocolError) on REJECT_CONNECTION, or a
// Promotion on success.
func (p *PendingConnection) TryPromote(now time.Time) (*Promotion, error) {
	datagrams := p.ep.HandshakeInboxTake()
	var result *Promotion
	var failErr error

	for _, d := range datagrams {
		if result != nil || failErr != nil {
			p.ep.PushHandshakeDatagram(d)
			continue
		}
		if d.Packet.Header.Prelude != p.nonce {
			p.ep.PushHandshakeDatagram(d)
			continue
		}
		switch {
		case d.Packet.Header.Flags.Has(packet.FlagAcceptConnection):
			id, err := decodeAcceptPayload(d.Packet.Payload)
			if err != nil {
				p.log.Debugf("malformed ACCEPT_CONNECTION payload from %v: %v", d.Addr, err)
				continue
			}
			p.lastCommTime = now
			result = &Promotion{ConnectionID: id, RemoteAddr: d.Addr}
			p.log.Debugf("promoted: connection_id=%d peer=%v", id, d.Addr)
		case d.Packet.Header.Flags.Has(packet.FlagRejectConnection):
			p.lastCommTime = now
			failErr = newProtocolError("%w", ErrRejected)
		default:
			p.ep.PushHandshakeDatagram(d)
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	if result != nil {
		return result, nil
	}
	return nil, ErrStillPending
}

// encodeAcceptPayload/decodeAcceptPayload implement the "dedicated field of
// the accept payload" spec §4.4 step 4 refers to: a little-endian uint32
// carrying the connection id the responder assigned.
func encodeAcceptPayload(id uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, id)
	return buf
}

func decodeAcceptPayload(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, packet.ErrMalformedPacket
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// Accept is the responder-side reply to a REQUEST_CONNECTION (spec §4.4
// "Responder"): it sends an ACCEPT_CONNECTION packet carrying nonce and
// the assigned connection id. Callers must have already called
// ep.Allow(assignedID) before, or immediately after, calling Accept.
func Accept(ep *endpoint.Endpoint, remoteAddr net.Addr, nonce uint32, assignedID uint32, hb packet.HashBuilder) error {
	payload := encodeAcceptPayload(assignedID)
	h := packet.Header{ConnectionID: 0, Flags: packet.FlagAcceptConnection, Prelude: nonce}
	buf := make([]byte, packet.SealedSize(len(payload)))
	if _, err := packet.Seal(buf, h, payload, hb); err != nil {
		return err
	}
	_, err := ep.Transmit().SendTo(buf, remoteAddr)
	return err
}

// Reject is the responder-side refusal of a REQUEST_CONNECTION: no state
// is allocated, the initiator's TryPromote will observe ErrRejected.
func Reject(ep *endpoint.Endpoint, remoteAddr net.Addr, nonce uint32, hb packet.HashBuilder) error {
	h := packet.Header{ConnectionID: 0, Flags: packet.FlagRejectConnection, Prelude: nonce}
	buf := make([]byte, packet.SealedSize(0))
	if _, err := packet.Seal(buf, h, nil, hb); err != nil {
		return err
	}
	_, err := ep.Transmit().SendTo(buf, remoteAddr)
	return err
}
