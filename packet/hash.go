package packet

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/dchest/siphash"
)

// SipHashBuilder is the recommended StableBuildHasher: a 128-bit siphash
// key shared out-of-band by both peers, producing a deterministic 64-bit
// sum per packet. Keyed rather than an unauthenticated checksum, matching
// client2/connection.go's crypto/hmac usage; dchest/siphash is used
// directly here instead since it is already a dependency of this module.
type SipHashBuilder struct {
	K0, K1 uint64
}

// NewSipHashBuilder derives a SipHashBuilder from a shared 16-byte key.
func NewSipHashBuilder(key [16]byte) SipHashBuilder {
	return SipHashBuilder{
		K0: binary.LittleEndian.Uint64(key[0:8]),
		K1: binary.LittleEndian.Uint64(key[8:16]),
	}
}

func (b SipHashBuilder) BuildHasher() Hasher {
	return &sipHasher{k0: b.K0, k1: b.K1, buf: make([]byte, 0, 64)}
}

type sipHasher struct {
	k0, k1 uint64
	buf    []byte
}

func (h *sipHasher) Write(p []byte) { h.buf = append(h.buf, p...) }
func (h *sipHasher) Sum64() uint64  { return siphash.Hash(h.k0, h.k1, h.buf) }

// MapHashBuilder is a zero-configuration StableBuildHasher backed by
// hash/maphash, seeded once at construction. It is NOT peer-portable: its
// seed is process-local and not reproducible across processes or Go
// versions, so it must only be used when both ends of a test share one
// process (unit tests, loopback fixtures) — never across a real network
// link. See DESIGN.md's packet entry.
type MapHashBuilder struct {
	seed maphash.Seed
}

// NewMapHashBuilder constructs a process-local hash builder suitable only
// for same-process tests.
func NewMapHashBuilder() MapHashBuilder {
	return MapHashBuilder{seed: maphash.MakeSeed()}
}

func (b MapHashBuilder) BuildHasher() Hasher {
	h := &maphash.Hash{}
	h.SetSeed(b.seed)
	return (*maphashHasher)(h)
}

type maphashHasher maphash.Hash

func (h *maphashHasher) Write(p []byte) { (*maphash.Hash)(h).Write(p) }
func (h *maphashHasher) Sum64() uint64  { return (*maphash.Hash)(h).Sum64() }
