package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/parcel"
	"github.com/griffone/gnet/reliability"
	"github.com/griffone/gnet/transmit"
)

type chatMsg struct {
	Text string
}

// testHB is shared by both connections and by deliverAll: a MapHashBuilder
// only verifies packets sealed with its own seed.
var testHB = packet.NewMapHashBuilder()

// twoConnections wires up a pair of Connections sharing a single
// connection id 1 over an in-memory Medium, one per side.
func twoConnections(t *testing.T) (a, b *Connection[chatMsg], aEp, bEp *endpoint.Endpoint) {
	t.Helper()
	hb := testHB
	medium := transmit.NewMedium(1200, nil)
	aT := medium.NewEndpoint("a")
	bT := medium.NewEndpoint("b")
	aEp = endpoint.NewServer(aT)
	bEp = endpoint.NewServer(bT)
	aEp.Allow(1)
	bEp.Allow(1)

	now := time.Unix(0, 0)
	a = New[chatMsg](1, transmit.MemAddr("b"), aEp, hb, parcel.CBORSerializer[chatMsg]{}, reliability.DefaultConfig(), 5*time.Second, now)
	b = New[chatMsg](1, transmit.MemAddr("a"), bEp, hb, parcel.CBORSerializer[chatMsg]{}, reliability.DefaultConfig(), 5*time.Second, now)
	return a, b, aEp, bEp
}

// deliverAll pumps ep's substrate and hands every packet queued for
// connection id 1 to to.
func deliverAll(ep *endpoint.Endpoint, to *Connection[chatMsg], now time.Time) {
	ep.Pump(testHB)
	for _, pkt := range ep.Take(1) {
		to.Deliver(pkt, now)
	}
}

func TestReliableParcelRoundTrip(t *testing.T) {
	a, b, _, bEp := twoConnections(t)
	now := time.Unix(0, 0)

	require.NoError(t, a.PushReliableParcel(chatMsg{Text: "hi"}, 0, now))
	deliverAll(bEp, b, now)

	got, err := b.PopParcel(now)
	require.NoError(t, err)
	require.Equal(t, "hi", got.Parcel.Text)
}

func TestStreamRoundTripAcrossPackets(t *testing.T) {
	a, b, _, bEp := twoConnections(t)
	now := time.Unix(0, 0)

	require.NoError(t, a.WriteBytesToStream([]byte("streamed bytes"), now))
	require.NoError(t, a.Flush(now))
	deliverAll(bEp, b, now)

	require.Equal(t, len("streamed bytes"), b.PendingIncomingStreamBytes())
	buf := make([]byte, 32)
	n, err := b.ReadFromStream(buf, now)
	require.NoError(t, err)
	require.Equal(t, "streamed bytes", string(buf[:n]))
}

func TestConnectionTransitionsToLostAfterTimeout(t *testing.T) {
	a, _, _, _ := twoConnections(t)
	start := time.Unix(0, 0)
	require.True(t, a.IsOpen())

	_, err := a.PopParcel(start.Add(10 * time.Second))
	require.ErrorIs(t, err, ErrConnectionLost)
	require.Equal(t, Lost, a.Status())
}

func TestCloseIsImmediateAndLocal(t *testing.T) {
	a, _, _, _ := twoConnections(t)
	require.NoError(t, a.Close())
	require.Equal(t, Closed, a.Status())

	_, err := a.PopParcel(time.Unix(0, 0))
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestDeliverObservesPeerClose(t *testing.T) {
	_, b, _, _ := twoConnections(t)
	closePkt := packet.Packet{Header: packet.Header{ConnectionID: 1, Flags: packet.FlagClose}}
	b.Deliver(closePkt, time.Unix(0, 0))
	require.Equal(t, Closed, b.Status())
}
