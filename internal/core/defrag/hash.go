package defrag

import (
	crand "crypto/rand"
	"encoding/binary"
	"time"

	"firestige.xyz/defrag/internal/core"
)

const goldenRatio = 0x9e3779b9

// jhash3 is Jenkins' three-word mix, the same bucket function the
// classic reassembly path uses. Non-cryptographic; the random seed is
// what defeats collision construction.
func jhash3(a, b, c, seed uint32) uint32 {
	a += goldenRatio
	b += goldenRatio
	c += seed

	a -= b
	a -= c
	a ^= c >> 13
	b -= c
	b -= a
	b ^= a << 8
	c -= a
	c -= b
	c ^= b >> 13
	a -= b
	a -= c
	a ^= c >> 12
	b -= c
	b -= a
	b ^= a << 16
	c -= a
	c -= b
	c ^= b >> 5
	a -= b
	a -= c
	a ^= c >> 3
	b -= c
	b -= a
	b ^= a << 10
	c -= a
	c -= b
	c ^= b >> 15

	return c
}

// hashKey folds the reassembly 4-tuple into one bucket hash.
func hashKey(key core.FragmentKey, seed uint32) uint32 {
	saddr := binary.BigEndian.Uint32(key.SrcIP[:])
	daddr := binary.BigEndian.Uint32(key.DstIP[:])
	return jhash3(uint32(key.ID)<<16|uint32(key.Protocol), saddr, daddr, seed)
}

// newSeed draws a fresh 32-bit hash seed from the system entropy source.
func newSeed() uint32 {
	var b [4]byte
	if _, err := crand.Read(b[:]); err != nil {
		// Entropy read failures are effectively impossible on any
		// supported platform; degrade to clock bits rather than abort.
		return uint32(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint32(b[:])
}
