package session

import (
	"encoding/binary"
	"fmt"
)

// Codec turns inputs into the fixed-size byte strings sent over the wire.
// Every encoded input must be exactly Size bytes.
type Codec[I any] interface {
	Size() int
	Encode(dst []byte, v I) ([]byte, error)
	Decode(b []byte) (I, error)
}

// BinaryCodec encodes fixed-size values (integers, arrays, structs of them)
// little-endian with encoding/binary.
type BinaryCodec[I any] struct{}

// Size returns the encoded size, or -1 when I has no fixed size.
func (BinaryCodec[I]) Size() int {
	var v I
	return binary.Size(v)
}

// Encode appends v to dst.
func (BinaryCodec[I]) Encode(dst []byte, v I) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, v)
}

// Decode reads one value that must fill b exactly.
func (BinaryCodec[I]) Decode(b []byte) (I, error) {
	var v I
	n, err := binary.Decode(b, binary.LittleEndian, &v)
	if err != nil {
		return v, err
	}
	if n != len(b) {
		return v, fmt.Errorf("session: decoded %d of %d input bytes", n, len(b))
	}
	return v, nil
}
