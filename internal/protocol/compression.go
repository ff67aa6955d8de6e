package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorruptPayload is returned when an input payload cannot be decoded.
var ErrCorruptPayload = errors.New("protocol: corrupt input payload")

// maxDecodedPayload bounds the decoded size of one Input message.
const maxDecodedPayload = 1 << 16

// minRun is the shortest 0x00/0xFF run worth a run header.
const minRun = 2

// EncodeInputs XORs every input against reference and run-length encodes
// the concatenation. Inputs must all be len(reference) bytes long.
func EncodeInputs(reference []byte, inputs [][]byte) []byte {
	delta := make([]byte, 0, len(reference)*len(inputs))
	for _, in := range inputs {
		for i, b := range in {
			if i < len(reference) {
				b ^= reference[i]
			}
			delta = append(delta, b)
		}
	}
	return rleEncode(delta)
}

// DecodeInputs reverses EncodeInputs, returning one slice per frame.
func DecodeInputs(reference, payload []byte) ([][]byte, error) {
	size := len(reference)
	if size == 0 {
		return nil, fmt.Errorf("%w: empty reference input", ErrCorruptPayload)
	}
	delta, err := rleDecode(payload)
	if err != nil {
		return nil, err
	}
	if len(delta)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte input", ErrCorruptPayload, len(delta), size)
	}
	out := make([][]byte, 0, len(delta)/size)
	for off := 0; off < len(delta); off += size {
		chunk := delta[off : off+size : off+size]
		for i := range chunk {
			chunk[i] ^= reference[i]
		}
		out = append(out, chunk)
	}
	return out, nil
}

// rleEncode writes runs of 0x00 or 0xFF as len<<2|bit<<1|1 and everything
// else as literal blocks headed by len<<1.
func rleEncode(src []byte) []byte {
	var out []byte
	lit := 0
	for i := 0; i < len(src); {
		b := src[i]
		if b != 0x00 && b != 0xFF {
			i++
			continue
		}
		j := i + 1
		for j < len(src) && src[j] == b {
			j++
		}
		if j-i < minRun {
			i = j
			continue
		}
		out = appendLiteral(out, src[lit:i])
		var bit uint64
		if b == 0xFF {
			bit = 1
		}
		out = protowire.AppendVarint(out, uint64(j-i)<<2|bit<<1|1)
		i, lit = j, j
	}
	return appendLiteral(out, src[lit:])
}

func appendLiteral(out, lit []byte) []byte {
	if len(lit) == 0 {
		return out
	}
	out = protowire.AppendVarint(out, uint64(len(lit))<<1)
	return append(out, lit...)
}

func rleDecode(data []byte) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		h, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, protowire.ParseError(n))
		}
		data = data[n:]
		room := uint64(maxDecodedPayload - len(out))

		if h&1 == 1 {
			run := h >> 2
			if run == 0 || run > room {
				return nil, fmt.Errorf("%w: run of %d bytes", ErrCorruptPayload, run)
			}
			fill := byte(0x00)
			if h>>1&1 == 1 {
				fill = 0xFF
			}
			out = append(out, bytes.Repeat([]byte{fill}, int(run))...)
			continue
		}

		size := h >> 1
		if size == 0 || size > uint64(len(data)) || size > room {
			return nil, fmt.Errorf("%w: literal of %d bytes with %d left", ErrCorruptPayload, size, len(data))
		}
		out = append(out, data[:size]...)
		data = data[size:]
	}
	return out, nil
}
