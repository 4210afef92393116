package listen

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/griffone/gnet/endpoint"
	"github.com/griffone/gnet/handshake"
	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/parcel"
	"github.com/griffone/gnet/reliability"
	"github.com/griffone/gnet/transmit"
)

type ping struct{ N int }

func TestListenerAcceptsAndPromotesInitiator(t *testing.T) {
	hb := packet.NewMapHashBuilder()
	medium := transmit.NewMedium(1200, nil)
	clientT := medium.NewEndpoint("client")
	serverT := medium.NewEndpoint("server")

	clientEp := endpoint.NewClient(clientT)
	serverEp := endpoint.NewServer(serverT)

	now := time.Unix(0, 0)
	pc, err := handshake.Connect(clientEp, transmit.MemAddr("server"), []byte("hello"), hb, now)
	require.NoError(t, err)

	l := New[ping](serverEp, hb, parcel.CBORSerializer[ping]{}, reliability.DefaultConfig(), 5*time.Second, nil)

	serverEp.Pump(hb)
	accepted := l.Accept(now)
	require.Len(t, accepted, 1)

	clientEp.Pump(hb)
	promo, err := pc.TryPromote(now)
	require.NoError(t, err)
	require.Equal(t, uint32(1), promo.ConnectionID)
}

func TestListenerDedupsRetransmittedRequest(t *testing.T) {
	hb := packet.NewMapHashBuilder()
	medium := transmit.NewMedium(1200, nil)
	clientT := medium.NewEndpoint("client")
	serverT := medium.NewEndpoint("server")

	clientEp := endpoint.NewClient(clientT)
	serverEp := endpoint.NewServer(serverT)

	now := time.Unix(0, 0)
	pc, err := handshake.Connect(clientEp, transmit.MemAddr("server"), []byte("hello"), hb, now)
	require.NoError(t, err)

	l := New[ping](serverEp, hb, parcel.CBORSerializer[ping]{}, reliability.DefaultConfig(), 5*time.Second, nil)

	serverEp.Pump(hb)
	first := l.Accept(now)
	require.Len(t, first, 1)
	firstID := first[0].ID()

	// Simulate the initiator retransmitting its REQUEST_CONNECTION because
	// it hasn't yet seen the ACCEPT (spec §4.4 step 3).
	later := now.Add(time.Second)
	require.NoError(t, pc.Sync(later.Add(handshake.DefaultRetryInterval)))
	serverEp.Pump(hb)
	second := l.Accept(later)
	require.Empty(t, second, "a duplicate request must not produce a second Connection")

	clientEp.Pump(hb)
	promo, err := pc.TryPromote(later)
	require.NoError(t, err)
	require.Equal(t, firstID, promo.ConnectionID)
}

func TestListenerRejectsViaPredicate(t *testing.T) {
	hb := packet.NewMapHashBuilder()
	medium := transmit.NewMedium(1200, nil)
	clientT := medium.NewEndpoint("client")
	serverT := medium.NewEndpoint("server")

	clientEp := endpoint.NewClient(clientT)
	serverEp := endpoint.NewServer(serverT)

	now := time.Unix(0, 0)
	pc, err := handshake.Connect(clientEp, transmit.MemAddr("server"), []byte("nope"), hb, now)
	require.NoError(t, err)

	reject := func(_ net.Addr, payload []byte) bool { return string(payload) != "nope" }
	l := New[ping](serverEp, hb, parcel.CBORSerializer[ping]{}, reliability.DefaultConfig(), 5*time.Second, reject)

	serverEp.Pump(hb)
	accepted := l.Accept(now)
	require.Empty(t, accepted)

	clientEp.Pump(hb)
	_, err = pc.TryPromote(now)
	require.ErrorIs(t, err, handshake.ErrRejected)
}
