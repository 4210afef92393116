// Package parcel implements reliable and volatile parcel channels (spec
// §4.6): application-level messages layered over the reliability engine,
// each emitted packet carrying at most one parcel under the
// CARRIES_PARCEL flag. Grounded on stream/stream.go's Frame type (cbor
// marshal/unmarshal of a typed payload) and map/client's Put/Get
// request/response framing idiom for the (payload, prelude) shape.
package parcel

import (
	"errors"
	"time"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/reliability"
)

// ErrNoPendingParcels is returned by PopParcel when the inbox is empty
// (spec §7).
var ErrNoPendingParcels = errors.New("parcel: no pending parcels")

// Serializer is the ByteSerialize capability spec §4.6 requires of
// anything carried over a parcel channel.
type Serializer[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// CBORSerializer adapts github.com/fxamacker/cbor/v2 to Serializer,
// matching stream/stream.go's cbor.Marshal(Frame{}) usage.
type CBORSerializer[T any] struct{}

func (CBORSerializer[T]) Marshal(v T) ([]byte, error) { return cbor.Marshal(v) }

func (CBORSerializer[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := cbor.Unmarshal(data, &v)
	return v, err
}

// Received is one delivered parcel together with the 32-bit prelude its
// packet carried.
type Received[T any] struct {
	Parcel  T
	Prelude uint32
}

// Channel is the reliable+volatile parcel channel for payload type T,
// layered over a reliability.Engine. Not safe for concurrent use — the
// same serialization discipline as reliability.Engine applies.
type Channel[T any] struct {
	engine     *reliability.Engine
	serializer Serializer[T]
	inbox      []Received[T]
}

// NewChannel constructs a parcel Channel over engine, using serializer
// for the wire encoding of T.
func NewChannel[T any](engine *reliability.Engine, serializer Serializer[T]) *Channel[T] {
	return &Channel[T]{engine: engine, serializer: serializer}
}

// PushReliableParcel serializes v and sends it as a CARRIES_PARCEL packet
// tracked by the reliability engine until acked (spec §4.6 "Reliable
// parcels").
func (c *Channel[T]) PushReliableParcel(v T, prelude uint32, now time.Time) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.engine.SendReliable(packet.FlagCarriesParcel, prelude, data, now)
	return err
}

// PushVolatileParcel serializes v and sends it as a CARRIES_PARCEL packet
// with no retransmission tracking (spec §4.6 "Volatile parcels").
func (c *Channel[T]) PushVolatileParcel(v T, prelude uint32) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.engine.SendVolatile(packet.FlagCarriesParcel, prelude, data)
	return err
}

// OnDelivered is called by the connection façade for every non-duplicate
// delivered packet carrying CARRIES_PARCEL. It deserializes the payload
// and appends (parcel, prelude) to the inbox; on a deserialize failure it
// returns packet.ErrMalformedPacket and the caller discards the packet
// (spec §4.6, §7).
func (c *Channel[T]) OnDelivered(h packet.Header, payload []byte) error {
	v, err := c.serializer.Unmarshal(payload)
	if err != nil {
		return packet.ErrMalformedPacket
	}
	c.inbox = append(c.inbox, Received[T]{Parcel: v, Prelude: h.Prelude})
	return nil
}

// PopParcel returns and removes the oldest received (parcel, prelude), or
// ErrNoPendingParcels if none is queued.
func (c *Channel[T]) PopParcel() (Received[T], error) {
	if len(c.inbox) == 0 {
		return Received[T]{}, ErrNoPendingParcels
	}
	v := c.inbox[0]
	c.inbox = c.inbox[1:]
	return v, nil
}

// PendingParcels reports how many parcels are queued in the inbox.
func (c *Channel[T]) PendingParcels() int { return len(c.inbox) }
