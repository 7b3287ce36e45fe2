// Package bloom implements the 2048-bit log index attached to execution
// results. Membership tests may yield false positives but never false
// negatives.
package bloom

import (
	"encoding/hex"

	"github.com/govm-net/scvm/core"
)

const (
	// ByteLength is the size of a bloom in bytes.
	ByteLength = 256
	// BitLength is the size of a bloom in bits.
	BitLength = 8 * ByteLength
)

// Bloom is a fixed 2048-bit probabilistic set.
type Bloom [ByteLength]byte

// Add sets the three bits derived from data.
func (b *Bloom) Add(data []byte) {
	for _, pos := range bitPositions(data) {
		b[ByteLength-1-pos/8] |= 1 << (pos % 8)
	}
}

// Test reports whether all three bits derived from data are set.
func (b *Bloom) Test(data []byte) bool {
	for _, pos := range bitPositions(data) {
		if b[ByteLength-1-pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

// Or merges other into b.
func (b *Bloom) Or(other *Bloom) {
	for i := range b {
		b[i] |= other[i]
	}
}

// Bytes returns a copy of the raw bloom.
func (b Bloom) Bytes() []byte {
	out := make([]byte, ByteLength)
	copy(out, b[:])
	return out
}

func (b Bloom) String() string {
	return hex.EncodeToString(b[:])
}

// FromLogs returns a bloom containing the address and every topic of logs.
func FromLogs(logs []core.Log) Bloom {
	var b Bloom
	for _, l := range logs {
		b.Add(l.Address[:])
		for _, topic := range l.Topics {
			b.Add(topic)
		}
	}
	return b
}

// bitPositions takes the low 11 bits of each of the first three 16-bit
// windows of the keccak-256 hash of data.
func bitPositions(data []byte) [3]uint {
	h := core.Keccak256(data)
	var out [3]uint
	for i := range out {
		out[i] = (uint(h[2*i])<<8 | uint(h[2*i+1])) & (BitLength - 1)
	}
	return out
}
