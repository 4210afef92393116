package parcel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/reliability"
)

type ping struct {
	Seq int
}

func TestPushAndDeliverReliableParcel(t *testing.T) {
	hb := packet.NewMapHashBuilder()
	var sent [][]byte
	engine := reliability.New(1, hb, func(buf []byte) error {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		sent = append(sent, cp)
		return nil
	}, reliability.DefaultConfig())

	ch := NewChannel[ping](engine, CBORSerializer[ping]{})

	require.NoError(t, ch.PushReliableParcel(ping{Seq: 3}, 0xAA, time.Unix(0, 0)))
	require.Len(t, sent, 1)

	pkt, err := packet.Parse(sent[0], hb)
	require.NoError(t, err)
	require.True(t, pkt.Header.Flags.Has(packet.FlagCarriesParcel))

	require.NoError(t, ch.OnDelivered(pkt.Header, pkt.Payload))
	got, err := ch.PopParcel()
	require.NoError(t, err)
	require.Equal(t, ping{Seq: 3}, got.Parcel)
	require.Equal(t, uint32(0xAA), got.Prelude)

	_, err = ch.PopParcel()
	require.ErrorIs(t, err, ErrNoPendingParcels)
}

func TestOnDeliveredRejectsMalformedPayload(t *testing.T) {
	hb := packet.NewMapHashBuilder()
	engine := reliability.New(1, hb, func([]byte) error { return nil }, reliability.DefaultConfig())
	ch := NewChannel[ping](engine, CBORSerializer[ping]{})

	err := ch.OnDelivered(packet.Header{}, []byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, packet.ErrMalformedPacket)
}
