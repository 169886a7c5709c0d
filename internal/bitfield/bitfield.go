// Package bitfield implements the big-endian bit-per-chunk availability
// representation used throughout the replication core. It is a
// pure value type: no I/O, no locking, safe to copy by value only through
// Clone (the backing byte slice is shared otherwise).
package bitfield

import (
	"encoding/base64"
	"math/bits"

	"github.com/artifactkeeper/borgcore/internal/apierr"
)

// Bitfield is a packed, big-endian availability map for one artifact. For
// chunk index N: byte = N/8, bit = 7-(N mod 8) (bit 0 lives in the MSB of
// byte 0). Padding bits in the final byte are always zero.
type Bitfield struct {
	bytes       []byte
	totalChunks uint32
}

// byteLen returns ceil(totalChunks/8).
func byteLen(totalChunks uint32) int {
	return int((totalChunks + 7) / 8)
}

// New allocates an all-zero bitfield sized for totalChunks.
func New(totalChunks uint32) *Bitfield {
	return &Bitfield{
		bytes:       make([]byte, byteLen(totalChunks)),
		totalChunks: totalChunks,
	}
}

// TotalChunks reports the bitfield's declared chunk count.
func (b *Bitfield) TotalChunks() uint32 { return b.totalChunks }

// Has reports whether chunk index n is set. Out-of-range indices are false.
func (b *Bitfield) Has(n uint32) bool {
	if n >= b.totalChunks {
		return false
	}
	byteIdx := n / 8
	bit := 7 - (n % 8)
	return b.bytes[byteIdx]&(1<<bit) != 0
}

// Set marks chunk index n present. It is a no-op if n is out of range.
func (b *Bitfield) Set(n uint32) {
	if n >= b.totalChunks {
		return
	}
	byteIdx := n / 8
	bit := 7 - (n % 8)
	b.bytes[byteIdx] |= 1 << bit
}

// Popcount returns the number of set bits, i.e. available_count.
func (b *Bitfield) Popcount() uint32 {
	var n uint32
	for _, byt := range b.bytes {
		n += uint32(bits.OnesCount8(byt))
	}
	return n
}

// And returns a new bitfield that is the bitwise AND of b and other. Both
// must share totalChunks.
func (b *Bitfield) And(other *Bitfield) *Bitfield {
	out := New(b.totalChunks)
	n := len(out.bytes)
	for i := 0; i < n; i++ {
		var ob byte
		if i < len(other.bytes) {
			ob = other.bytes[i]
		}
		out.bytes[i] = b.bytes[i] & ob
	}
	return out
}

// AndNot returns b AND NOT other: chunks b has that other lacks.
func (b *Bitfield) AndNot(other *Bitfield) *Bitfield {
	out := New(b.totalChunks)
	n := len(out.bytes)
	for i := 0; i < n; i++ {
		var ob byte
		if i < len(other.bytes) {
			ob = other.bytes[i]
		}
		out.bytes[i] = b.bytes[i] &^ ob
	}
	return out
}

// Clone returns an independent copy.
func (b *Bitfield) Clone() *Bitfield {
	out := &Bitfield{
		bytes:       make([]byte, len(b.bytes)),
		totalChunks: b.totalChunks,
	}
	copy(out.bytes, b.bytes)
	return out
}

// ToBase64 encodes the raw bytes as standard base64, the wire form used by
// the manifest and REST bodies.
func (b *Bitfield) ToBase64() string {
	return base64.StdEncoding.EncodeToString(b.bytes)
}

// FromBase64 decodes a wire-form bitfield. It rejects a payload whose byte
// length does not equal ceil(expectedTotalChunks/8), or invalid base64,
// with a MalformedInput error.
func FromBase64(encoded string, expectedTotalChunks uint32) (*Bitfield, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierr.Wrap(apierr.MalformedInput, "invalid base64 bitfield", err)
	}
	want := byteLen(expectedTotalChunks)
	if len(raw) != want {
		return nil, apierr.New(apierr.MalformedInput,
			"bitfield byte length does not match total_chunks")
	}
	return &Bitfield{bytes: raw, totalChunks: expectedTotalChunks}, nil
}

// Bytes returns the raw backing bytes. Callers must not mutate the result.
func (b *Bitfield) Bytes() []byte { return b.bytes }

// FromBytes wraps a raw byte slice already known to be well-formed (e.g.
// read back from storage), applying the same length check as FromBase64.
func FromBytes(raw []byte, totalChunks uint32) (*Bitfield, error) {
	want := byteLen(totalChunks)
	if len(raw) != want {
		return nil, apierr.New(apierr.MalformedInput,
			"bitfield byte length does not match total_chunks")
	}
	return &Bitfield{bytes: raw, totalChunks: totalChunks}, nil
}
