package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/griffone/gnet/packet"
	"github.com/griffone/gnet/transmit"
)

func testHB() packet.HashBuilder { return packet.NewMapHashBuilder() }

func sealPacket(t *testing.T, h packet.Header, payload []byte, hb packet.HashBuilder) []byte {
	t.Helper()
	buf := make([]byte, packet.SealedSize(len(payload)))
	_, err := packet.Seal(buf, h, payload, hb)
	require.NoError(t, err)
	return buf
}

func TestServerEndpointDropsUnadmittedConnectionID(t *testing.T) {
	hb := testHB()
	medium := transmit.NewMedium(1200, nil)
	server := medium.NewEndpoint("server")
	client := medium.NewEndpoint("client")

	ep := NewServer(server)

	pkt := sealPacket(t, packet.Header{ConnectionID: 5, PacketIndex: 1}, []byte("hi"), hb)
	_, err := client.SendTo(pkt, client.Addr())
	require.NoError(t, err)
	_, err = client.SendTo(pkt, "server")
	require.NoError(t, err)

	ep.Pump(hb)
	require.Empty(t, ep.Take(5), "packet for an unallowed connection id must be dropped")

	ep.Allow(5)
	_, err = client.SendTo(pkt, "server")
	require.NoError(t, err)
	ep.Pump(hb)
	got := ep.Take(5)
	require.Len(t, got, 1)
	require.Equal(t, []byte("hi"), got[0].Payload)
}

func TestClientEndpointAcceptsAnyNonZeroID(t *testing.T) {
	hb := testHB()
	medium := transmit.NewMedium(1200, nil)
	serverSide := medium.NewEndpoint("server")
	clientSide := medium.NewEndpoint("client")

	ep := NewClient(clientSide)

	pkt := sealPacket(t, packet.Header{ConnectionID: 77, PacketIndex: 1}, []byte("pong"), hb)
	_, err := serverSide.SendTo(pkt, "client")
	require.NoError(t, err)

	ep.Pump(hb)
	got := ep.Take(77)
	require.Len(t, got, 1)
	require.Equal(t, []byte("pong"), got[0].Payload)
}

func TestHandshakeTrafficRoutedToInbox(t *testing.T) {
	hb := testHB()
	medium := transmit.NewMedium(1200, nil)
	serverSide := medium.NewEndpoint("server")
	clientSide := medium.NewEndpoint("client")

	ep := NewServer(serverSide)

	req := sealPacket(t, packet.Header{ConnectionID: 0, Flags: packet.FlagRequestConnection}, []byte("nonce"), hb)
	_, err := clientSide.SendTo(req, "server")
	require.NoError(t, err)

	ep.Pump(hb)
	require.Empty(t, ep.Take(0))

	got := ep.HandshakeInboxTake()
	require.Len(t, got, 1)
	require.Equal(t, []byte("nonce"), got[0].Packet.Payload)
}

func TestBlockRemovesBucket(t *testing.T) {
	hb := testHB()
	medium := transmit.NewMedium(1200, nil)
	serverSide := medium.NewEndpoint("server")
	clientSide := medium.NewEndpoint("client")

	ep := NewServer(serverSide)
	ep.Allow(1)

	pkt := sealPacket(t, packet.Header{ConnectionID: 1}, nil, hb)
	_, err := clientSide.SendTo(pkt, "server")
	require.NoError(t, err)
	ep.Pump(hb)
	require.Len(t, ep.Take(1), 1)

	ep.Block(1)
	_, err = clientSide.SendTo(pkt, "server")
	require.NoError(t, err)
	ep.Pump(hb)
	require.Empty(t, ep.Take(1))
}
