package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testHashBuilder() HashBuilder {
	return NewMapHashBuilder()
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		ConnectionID:  7,
		PacketIndex:   42,
		AckIndex:      41,
		AckMask:       0xdeadbeefcafef00d,
		Flags:         FlagCarriesParcel | FlagSynchronized,
		Prelude:       0xfeedface,
		PayloadLength: 3,
	}
	buf := make([]byte, HeaderSize)
	WriteHeader(buf, h)
	got := ReadHeader(buf)
	require.Equal(t, h, got)
}

func TestSealVerifyRoundTrip(t *testing.T) {
	hb := testHashBuilder()
	payload := []byte("hello")
	buf := make([]byte, SealedSize(len(payload)))
	h := Header{ConnectionID: 1, PacketIndex: 9, Flags: FlagCarriesParcel}
	n, err := Seal(buf, h, payload, hb)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.True(t, Verify(buf, hb))

	parsed, err := Parse(buf, hb)
	require.NoError(t, err)
	require.Equal(t, payload, parsed.Payload)
	require.Equal(t, uint32(1), parsed.Header.ConnectionID)
}

func TestHashRejectsBitFlip(t *testing.T) {
	hb := testHashBuilder()
	payload := []byte("parcel-bytes")
	buf := make([]byte, SealedSize(len(payload)))
	h := Header{ConnectionID: 99, PacketIndex: 5}
	_, err := Seal(buf, h, payload, hb)
	require.NoError(t, err)
	require.True(t, Verify(buf, hb))

	for i := range buf {
		mutated := make([]byte, len(buf))
		copy(mutated, buf)
		mutated[i] ^= 0x01
		require.False(t, Verify(mutated, hb), "bit flip at byte %d should invalidate hash", i)
	}
}

func TestParseRejectsOversizedPayloadLength(t *testing.T) {
	hb := testHashBuilder()
	payload := []byte("x")
	buf := make([]byte, SealedSize(len(payload)))
	h := Header{ConnectionID: 1, PacketIndex: 1}
	_, err := Seal(buf, h, payload, hb)
	require.NoError(t, err)

	// Corrupt payload_length to claim more bytes than the buffer holds,
	// then reseal the hash over the corrupted prefix so Parse reaches the
	// structural check rather than failing at Verify.
	buf[21] = 0xff
	buf[22] = 0xff
	prefixLen := len(buf) - HashSize
	sum := hashPrefix(buf[:prefixLen], hb)
	for i := 0; i < HashSize; i++ {
		buf[prefixLen+i] = byte(sum >> (8 * i))
	}

	_, err = Parse(buf, hb)
	require.ErrorIs(t, err, ErrMalformedPacket)
}

func TestParseRejectsTruncatedBuffer(t *testing.T) {
	hb := testHashBuilder()
	_, err := Parse([]byte{1, 2, 3}, hb)
	require.ErrorIs(t, err, ErrMalformedPacket)
}
