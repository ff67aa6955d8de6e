package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
)

func TestMessagesSurviveTheWire(t *testing.T) {
	msgs := []Message{
		{Magic: 0xbeef, Body: &SyncRequest{Nonce: 7}},
		{Magic: 1, Body: &SyncReply{Nonce: math.MaxUint32}},
		{Magic: 2, Body: &Input{
			PeerConnectStatus: []input.ConnectionStatus{
				{LastFrame: 10},
				{Disconnected: true, LastFrame: frame.Null},
			},
			DisconnectRequested: true,
			StartFrame:          8,
			AckFrame:            frame.Null,
			Bytes:               []byte{1, 2, 3},
		}},
		{Magic: 3, Body: &InputAck{AckFrame: 42}},
		{Magic: 4, Body: &QualityReport{FrameAdvantage: -3, Ping: 123456}},
		{Magic: 5, Body: &QualityReply{Pong: 99}},
		{Magic: 6, Body: &ChecksumReport{Frame: 30, Sum: checksum.Compute([]byte("state"))}},
		{Magic: 7, Body: &KeepAlive{}},
	}

	for _, want := range msgs {
		raw, err := Marshal(want)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", want, err)
		}
		got, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("Unmarshal(%v) failed: %v", want, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%v mismatch (-want +got):\n%s", want.Body, diff)
		}
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	want := Message{Magic: 9, Body: &InputAck{AckFrame: 3}}
	raw, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	raw = protowire.AppendTag(raw, 15, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 1)
	raw = protowire.AppendTag(raw, 16, protowire.BytesType)
	raw = protowire.AppendBytes(raw, []byte("future"))

	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	keepalive := appendBytes(nil, fieldKeepAlive, nil)
	tests := []struct {
		name string
		raw  []byte
	}{
		{"truncated tag", []byte{0xff}},
		{"no body", appendUint(nil, fieldMagic, 5)},
		{"magic out of range", append(appendUint(nil, fieldMagic, 70000), keepalive...)},
		{"two bodies", append(append(appendUint(nil, fieldMagic, 5), keepalive...), keepalive...)},
		{"truncated body", append(appendUint(nil, fieldMagic, 5), byte(fieldInput<<3|2), 10, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.raw); !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestMarshalRejectsNilBody(t *testing.T) {
	if _, err := Marshal(Message{Magic: 1}); !errors.Is(err, ErrUnknownBody) {
		t.Errorf("Marshal() error = %v, want ErrUnknownBody", err)
	}
}

func TestRunLengthHeaders(t *testing.T) {
	src := []byte{0, 0, 0, 5, 0xff, 0xff}
	// run of three zeros, literal {5}, run of two 0xff
	want := []byte{3<<2 | 1, 1 << 1, 5, 2<<2 | 1<<1 | 1}
	if got := rleEncode(src); !bytes.Equal(got, want) {
		t.Errorf("rleEncode() = %v, want %v", got, want)
	}
	back, err := rleDecode(want)
	if err != nil {
		t.Fatalf("rleDecode() failed: %v", err)
	}
	if !bytes.Equal(back, src) {
		t.Errorf("rleDecode() = %v, want %v", back, src)
	}
}

func TestSingleZeroStaysLiteral(t *testing.T) {
	src := []byte{1, 0, 2}
	want := []byte{3 << 1, 1, 0, 2}
	if got := rleEncode(src); !bytes.Equal(got, want) {
		t.Errorf("rleEncode() = %v, want %v", got, want)
	}
}

func TestEncodeInputsAgainstReference(t *testing.T) {
	ref := []byte{0x10, 0x20}
	inputs := [][]byte{{0x10, 0x20}, {0x10, 0x21}, {0xaa, 0x00}}

	payload := EncodeInputs(ref, inputs)
	got, err := DecodeInputs(ref, payload)
	if err != nil {
		t.Fatalf("DecodeInputs() failed: %v", err)
	}
	if diff := cmp.Diff(inputs, got); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	// an unchanged input compresses to a single zero run
	if got := EncodeInputs(ref, [][]byte{ref, ref, ref}); len(got) != 1 {
		t.Errorf("repeated input encoded to %d bytes, want 1", len(got))
	}
}

func TestDecodeInputsRejectsCorruption(t *testing.T) {
	ref := []byte{0, 0}
	tests := []struct {
		name    string
		payload []byte
	}{
		{"literal overruns payload", []byte{4 << 1, 1}},
		{"empty run", []byte{1}},
		{"empty literal", []byte{0}},
		{"huge run", protowire.AppendVarint(nil, uint64(maxDecodedPayload+1)<<2|1)},
		{"partial input", []byte{1 << 1, 7}},
		{"truncated header", []byte{0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeInputs(ref, tt.payload); !errors.Is(err, ErrCorruptPayload) {
				t.Errorf("DecodeInputs() error = %v, want ErrCorruptPayload", err)
			}
		})
	}
	if _, err := DecodeInputs(nil, []byte{1 << 1, 7}); !errors.Is(err, ErrCorruptPayload) {
		t.Errorf("DecodeInputs(nil ref) error = %v, want ErrCorruptPayload", err)
	}
}
