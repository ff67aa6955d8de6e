// Package checksum computes 128-bit state digests and tracks, per remote peer,
// whether periodically exchanged digests agree.
package checksum

import (
	"encoding/binary"
	"encoding/hex"
	"io"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 16

// Sum is a 128-bit state digest.
type Sum struct {
	Hi uint64
	Lo uint64
}

// IsZero reports whether s is the zero digest.
func (s Sum) IsZero() bool {
	return s.Hi == 0 && s.Lo == 0
}

// Bytes returns the big-endian encoding of s.
func (s Sum) Bytes() [Size]byte {
	var b [Size]byte
	binary.BigEndian.PutUint64(b[:8], s.Hi)
	binary.BigEndian.PutUint64(b[8:], s.Lo)
	return b
}

func (s Sum) String() string {
	b := s.Bytes()
	return hex.EncodeToString(b[:])
}

// FromBytes decodes a big-endian digest. b must hold at least Size bytes.
func FromBytes(b []byte) Sum {
	return Sum{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// Compute returns the 128-bit BLAKE3 digest of data.
func Compute(data []byte) Sum {
	h := blake3.New(Size, nil)
	h.Write(data)
	return FromBytes(h.Sum(nil))
}

// Of streams whatever write produces into a BLAKE3 hasher.
func Of(write func(w io.Writer)) Sum {
	h := blake3.New(Size, nil)
	write(h)
	return FromBytes(h.Sum(nil))
}
