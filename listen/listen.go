// Package listen implements the responder side of the handshake (spec
// §4.4 "Responder"): it drains an endpoint's handshake inbox, hands each
// REQUEST_CONNECTION to an application-supplied accept policy, and on
// acceptance allocates a connection id, replies ACCEPT_CONNECTION, and
// returns an open *conn.Connection. Grounded on client2/connection.go's
// start()/connectWorker idiom — a worker goroutine pulling off a channel
// and dispatching — adapted here to a tick-driven Accept call, since the
// rest of this module has no suspension points.
package listen

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/griffone/gnet/conn"
	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/handshake"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/parcel"
	"github.com/griffone/gnet/reliability"
	"github.com/griffone/gnet/wlog"
)

// ErrPredicateFail is the error kind for a peer's handshake payload refused
// by the accept predicate (spec §7 PredicateFail). Listener does not return
// it: a Predicate signals refusal by returning false, and Accept answers
// with REJECT_CONNECTION.
var ErrPredicateFail = errors.New("listen: predicate rejected peer payload")

// Predicate decides whether to accept an incoming handshake request,
// given the application payload carried on the REQUEST_CONNECTION packet
// (spec §7 PredicateFail).
type Predicate func(remoteAddr net.Addr, payload []byte) bool

// pendingKey identifies one in-flight handshake by the initiator's address
// and nonce, so a retransmitted REQUEST_CONNECTION (spec §4.4 "the request
// is idempotent") resends the existing ACCEPT instead of minting a second
// connection id.
type pendingKey struct {
	addr  string
	nonce uint32
}

type acceptedRequest struct {
	id         uint32
	acceptedAt time.Time
}

// Listener allocates connection ids and drives the responder side of the
// handshake over a shared server endpoint.
type Listener[T any] struct {
	ep         *endpoint.Endpoint
	hb         packet.HashBuilder
	serializer parcel.Serializer[T]
	rcfg       reliability.Config
	timeout    time.Duration
	predicate  Predicate

	nextID   uint32
	accepted map[pendingKey]acceptedRequest
	log      *log.Logger
}

// New constructs a Listener over ep. predicate may be nil (accept
// everything). Connection ids are allocated sequentially starting at 1
// (0 is reserved for handshake traffic, spec §3 invariant 4).
func New[T any](ep *endpoint.Endpoint, hb packet.HashBuilder, serializer parcel.Serializer[T], rcfg reliability.Config, timeout time.Duration, predicate Predicate) *Listener[T] {
	if predicate == nil {
		predicate = func(net.Addr, []byte) bool { return true }
	}
	return &Listener[T]{
		ep:         ep,
		hb:         hb,
		serializer: serializer,
		rcfg:       rcfg,
		timeout:    timeout,
		predicate:  predicate,
		accepted:   make(map[pendingKey]acceptedRequest),
		log:        wlog.New("listen"),
	}
}

// pendingEntryTTL bounds how long a dedup entry survives without a repeat
// REQUEST_CONNECTION. The initiator stops retransmitting once it promotes
// (spec §4.4 step 3), so anything this stale is either established or
// abandoned; either way it's safe to forget.
const pendingEntryTTL = 30 * time.Second

func (l *Listener[T]) pruneStale(now time.Time) {
	for k, v := range l.accepted {
		if now.Sub(v.acceptedAt) > pendingEntryTTL {
			delete(l.accepted, k)
		}
	}
}

func (l *Listener[T]) allocateID() uint32 {
	return atomic.AddUint32(&l.nextID, 1)
}

// Accept drains the endpoint's handshake inbox, evaluating the predicate
// against each REQUEST_CONNECTION and replying ACCEPT or REJECT. Returns
// every newly established Connection this call produced; callers should
// call Accept on the same cadence as Endpoint.Pump.
func (l *Listener[T]) Accept(now time.Time) []*conn.Connection[T] {
	var out []*conn.Connection[T]
	l.pruneStale(now)

	for _, d := range l.ep.HandshakeInboxTake() {
		if !d.Packet.Header.Flags.Has(packet.FlagRequestConnection) {
			// ACCEPT/REJECT traffic addressed to a PendingConnection this
			// listener doesn't own; requeue for whoever does.
			l.ep.PushHandshakeDatagram(d)
			continue
		}

		key := pendingKey{addr: d.Addr.String(), nonce: d.Packet.Header.Prelude}
		if prior, ok := l.accepted[key]; ok {
			// Retransmitted REQUEST_CONNECTION (spec §4.4: "the request is
			// idempotent; the responder's accept must also be retransmitted
			// until it sees a non-handshake packet from the initiator").
			// Resend the same ACCEPT; don't mint a second connection id or
			// hand the caller a duplicate Connection.
			if err := handshake.Accept(l.ep, d.Addr, d.Packet.Header.Prelude, prior.id, l.hb); err != nil {
				l.log.Debugf("listen: accept retransmit failed for %v: %v", d.Addr, err)
			}
			prior.acceptedAt = now
			l.accepted[key] = prior
			continue
		}

		if !l.predicate(d.Addr, d.Packet.Payload) {
			if err := handshake.Reject(l.ep, d.Addr, d.Packet.Header.Prelude, l.hb); err != nil {
				l.log.Debugf("listen: reject send failed for %v: %v", d.Addr, err)
			}
			continue
		}

		id := l.allocateID()
		l.ep.Allow(id)
		if err := handshake.Accept(l.ep, d.Addr, d.Packet.Header.Prelude, id, l.hb); err != nil {
			l.log.Debugf("listen: accept send failed for %v: %v", d.Addr, err)
			l.ep.Block(id)
			continue
		}

		l.accepted[key] = acceptedRequest{id: id, acceptedAt: now}
		c := conn.New[T](id, d.Addr, l.ep, l.hb, l.serializer, l.rcfg, l.timeout, now)
		l.log.Infof("listen: accepted connection_id=%d from %v", id, d.Addr)
		out = append(out, c)
	}

	return out
}
