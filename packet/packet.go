// Package packet implements the wire framing for gnet packets: a fixed
// 23-byte header, an optional payload, and a trailing 64-bit keyed hash.
// See original_source/src/connection/socket.rs (packet::get_header,
// packet::valid_hash) for the layout this is ported from.
package packet

import (
	"encoding/binary"
	"errors"
)

// Flag bits, one byte, OR-combined.
type Flags uint8

const (
	FlagRequestConnection Flags = 1 << iota
	FlagAcceptConnection
	FlagRejectConnection
	FlagKeepalive
	FlagCarriesParcel
	FlagCarriesStream
	FlagSynchronized
	FlagClose
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// HeaderSize is the fixed on-wire size of a Header, per spec §6:
// 4 (connection id) + 2 (packet index) + 2 (ack index) + 8 (ack mask)
// + 1 (flags) + 4 (prelude) + 2 (payload length) = 23 bytes.
//
// Note: spec §6 states the header is "19 bytes (4+2+2+8+1+4+2 before
// payload)"; summing its own field list gives 23. We sum the field list
// literally (23) rather than the stated total, since the field list is
// the authoritative byte-for-byte definition and the stray total is the
// one place arithmetic can silently drift.
const HeaderSize = 4 + 2 + 2 + 8 + 1 + 4 + 2

// HashSize is the trailing keyed-hash size in bytes.
const HashSize = 8

var (
	// ErrMalformedPacket is returned when a buffer is structurally invalid:
	// wrong total length, payload_length overruns the buffer, or (after
	// Parse) the hash does not verify.
	ErrMalformedPacket = errors.New("packet: malformed")
)

// Header is the fixed-layout prefix of every packet.
type Header struct {
	ConnectionID  uint32
	PacketIndex   uint16
	AckIndex      uint16
	AckMask       uint64
	Flags         Flags
	Prelude       uint32
	PayloadLength uint16
}

// WriteHeader encodes h into the first HeaderSize bytes of buf, which must
// be at least that long.
func WriteHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], h.ConnectionID)
	binary.LittleEndian.PutUint16(buf[4:6], h.PacketIndex)
	binary.LittleEndian.PutUint16(buf[6:8], h.AckIndex)
	binary.LittleEndian.PutUint64(buf[8:16], h.AckMask)
	buf[16] = byte(h.Flags)
	binary.LittleEndian.PutUint32(buf[17:21], h.Prelude)
	binary.LittleEndian.PutUint16(buf[21:23], h.PayloadLength)
}

// ReadHeader decodes the first HeaderSize bytes of buf into a Header.
func ReadHeader(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		ConnectionID:  binary.LittleEndian.Uint32(buf[0:4]),
		PacketIndex:   binary.LittleEndian.Uint16(buf[4:6]),
		AckIndex:      binary.LittleEndian.Uint16(buf[6:8]),
		AckMask:       binary.LittleEndian.Uint64(buf[8:16]),
		Flags:         Flags(buf[16]),
		Prelude:       binary.LittleEndian.Uint32(buf[17:21]),
		PayloadLength: binary.LittleEndian.Uint16(buf[21:23]),
	}
}

// Packet is a fully decoded, hash-verified packet: header plus payload.
// Payload aliases the buffer it was parsed from; callers that retain it
// past the next Pump/recv must copy.
type Packet struct {
	Header  Header
	Payload []byte
}

// Hasher produces a running keyed hash over a byte stream and yields a
// 64-bit sum. A StableBuildHasher (see packet.HashBuilder) constructs a
// fresh Hasher per packet so the hash is a pure function of the packet
// bytes and the shared key.
type Hasher interface {
	Write(p []byte)
	Sum64() uint64
}

// HashBuilder is gnet's StableBuildHasher capability: given the same
// configuration on both peers, BuildHasher() must produce hashers that
// hash identical input to identical output, deterministically across
// runs and across the two peers. See DESIGN.md for why hash/maphash is
// unsuitable here and siphash (packet.SipHashBuilder) is the supplied
// default.
type HashBuilder interface {
	BuildHasher() Hasher
}

// Seal writes header and payload into buf starting at offset 0, then
// appends the trailing keyed hash computed over the header+payload prefix
// using a fresh hasher from hb. buf must have capacity for HeaderSize +
// len(payload) + HashSize; Seal returns the total sealed length.
func Seal(buf []byte, h Header, payload []byte, hb HashBuilder) (int, error) {
	h.PayloadLength = uint16(len(payload))
	total := HeaderSize + len(payload) + HashSize
	if len(buf) < total {
		return 0, errors.New("packet: buffer too small to seal")
	}
	WriteHeader(buf, h)
	copy(buf[HeaderSize:], payload)
	sum := hashPrefix(buf[:HeaderSize+len(payload)], hb)
	binary.LittleEndian.PutUint64(buf[HeaderSize+len(payload):total], sum)
	return total, nil
}

// SealedSize returns the total wire size for a packet carrying payloadLen
// bytes of payload.
func SealedSize(payloadLen int) int {
	return HeaderSize + payloadLen + HashSize
}

func hashPrefix(prefix []byte, hb HashBuilder) uint64 {
	hasher := hb.BuildHasher()
	hasher.Write(prefix)
	return hasher.Sum64()
}

// Verify reports whether buf's trailing hash matches the keyed hash of its
// header+payload prefix, computed with a fresh hasher from hb. buf must be
// at least HeaderSize+HashSize bytes; a too-short buffer never verifies.
func Verify(buf []byte, hb HashBuilder) bool {
	if len(buf) < HeaderSize+HashSize {
		return false
	}
	prefixLen := len(buf) - HashSize
	want := binary.LittleEndian.Uint64(buf[prefixLen:])
	got := hashPrefix(buf[:prefixLen], hb)
	return want == got
}

// Parse validates and decodes a full datagram: verifies the keyed hash,
// checks structural consistency (payload_length fits within the buffer,
// per spec §9's resolution of the payload_length-overrun open question),
// and returns the decoded Packet. On any failure it returns
// ErrMalformedPacket; per spec §7 the caller's only valid response is to
// drop the datagram and continue.
func Parse(buf []byte, hb HashBuilder) (Packet, error) {
	if len(buf) < HeaderSize+HashSize {
		return Packet{}, ErrMalformedPacket
	}
	if !Verify(buf, hb) {
		return Packet{}, ErrMalformedPacket
	}
	h := ReadHeader(buf)
	payloadEnd := HeaderSize + int(h.PayloadLength)
	if payloadEnd+HashSize != len(buf) {
		return Packet{}, ErrMalformedPacket
	}
	return Packet{Header: h, Payload: buf[HeaderSize:payloadEnd]}, nil
}

// NewScratchBuffer allocates a reusable receive buffer sized to hold the
// largest packet this configuration can produce, per DESIGN.md's
// packet-buffer-reuse supplement (original_source PacketBuffer/new_buffer).
func NewScratchBuffer(maxDatagramLength int) []byte {
	return make([]byte, maxDatagramLength)
}
