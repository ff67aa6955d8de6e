package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
)

var (
	ErrMalformed   = errors.New("protocol: malformed message")
	ErrUnknownBody = errors.New("protocol: unknown message body")
)

// Top-level field numbers. Exactly one body field is present per message.
const (
	fieldMagic          protowire.Number = 1
	fieldSyncRequest    protowire.Number = 2
	fieldSyncReply      protowire.Number = 3
	fieldInput          protowire.Number = 4
	fieldInputAck       protowire.Number = 5
	fieldQualityReport  protowire.Number = 6
	fieldQualityReply   protowire.Number = 7
	fieldChecksumReport protowire.Number = 8
	fieldKeepAlive      protowire.Number = 9
)

// Marshal encodes m into a self-contained datagram.
func Marshal(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the encoding of m to b.
func AppendMessage(b []byte, m Message) ([]byte, error) {
	num, body, err := encodeBody(m.Body)
	if err != nil {
		return b, err
	}
	b = appendUint(b, fieldMagic, uint64(m.Magic))
	b = appendBytes(b, num, body)
	return b, nil
}

func encodeBody(body Body) (protowire.Number, []byte, error) {
	switch v := body.(type) {
	case *SyncRequest:
		return fieldSyncRequest, appendUint(nil, 1, uint64(v.Nonce)), nil
	case *SyncReply:
		return fieldSyncReply, appendUint(nil, 1, uint64(v.Nonce)), nil
	case *Input:
		var b []byte
		for _, cs := range v.PeerConnectStatus {
			var s []byte
			s = appendBool(s, 1, cs.Disconnected)
			s = appendInt(s, 2, int64(cs.LastFrame))
			b = appendBytes(b, 1, s)
		}
		b = appendBool(b, 2, v.DisconnectRequested)
		b = appendInt(b, 3, int64(v.StartFrame))
		b = appendInt(b, 4, int64(v.AckFrame))
		b = appendBytes(b, 5, v.Bytes)
		return fieldInput, b, nil
	case *InputAck:
		return fieldInputAck, appendInt(nil, 1, int64(v.AckFrame)), nil
	case *QualityReport:
		b := appendInt(nil, 1, int64(v.FrameAdvantage))
		b = appendUint(b, 2, v.Ping)
		return fieldQualityReport, b, nil
	case *QualityReply:
		return fieldQualityReply, appendUint(nil, 1, v.Pong), nil
	case *ChecksumReport:
		b := appendInt(nil, 1, int64(v.Frame))
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.Sum.Hi)
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.Sum.Lo)
		return fieldChecksumReport, b, nil
	case *KeepAlive:
		return fieldKeepAlive, nil, nil
	default:
		return 0, nil, fmt.Errorf("%w: %T", ErrUnknownBody, body)
	}
}

// Unmarshal decodes one datagram. Unknown fields are skipped.
func Unmarshal(b []byte) (Message, error) {
	var msg Message
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldMagic:
			return consumeUint(typ, b, &msg.Magic)
		case num >= fieldSyncRequest && num <= fieldKeepAlive && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if msg.Body != nil {
				return 0, fmt.Errorf("%w: more than one body", ErrMalformed)
			}
			body, err := decodeBody(num, v)
			if err != nil {
				return 0, err
			}
			msg.Body = body
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return Message{}, err
	}
	if msg.Body == nil {
		return Message{}, fmt.Errorf("%w: missing body", ErrMalformed)
	}
	return msg, nil
}

func decodeBody(num protowire.Number, b []byte) (Body, error) {
	switch num {
	case fieldSyncRequest:
		v := &SyncRequest{}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 {
				return consumeUint(typ, b, &v.Nonce)
			}
			return 0, nil
		})
	case fieldSyncReply:
		v := &SyncReply{}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 {
				return consumeUint(typ, b, &v.Nonce)
			}
			return 0, nil
		})
	case fieldInput:
		return decodeInput(b)
	case fieldInputAck:
		v := &InputAck{AckFrame: frame.Null}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 {
				return consumeFrame(typ, b, &v.AckFrame)
			}
			return 0, nil
		})
	case fieldQualityReport:
		v := &QualityReport{}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				return consumeInt(typ, b, &v.FrameAdvantage)
			case 2:
				return consumeUint(typ, b, &v.Ping)
			}
			return 0, nil
		})
	case fieldQualityReply:
		v := &QualityReply{}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 {
				return consumeUint(typ, b, &v.Pong)
			}
			return 0, nil
		})
	case fieldChecksumReport:
		v := &ChecksumReport{Frame: frame.Null}
		return v, walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == 1:
				return consumeFrame(typ, b, &v.Frame)
			case num == 2 && typ == protowire.Fixed64Type:
				x, n := protowire.ConsumeFixed64(b)
				v.Sum.Hi = x
				return n, nil
			case num == 3 && typ == protowire.Fixed64Type:
				x, n := protowire.ConsumeFixed64(b)
				v.Sum.Lo = x
				return n, nil
			}
			return 0, nil
		})
	case fieldKeepAlive:
		return &KeepAlive{}, nil
	}
	return nil, fmt.Errorf("%w: field %d", ErrUnknownBody, num)
}

func decodeInput(b []byte) (*Input, error) {
	v := &Input{StartFrame: frame.Null, AckFrame: frame.Null}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return 0, nil
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			cs := input.NewConnectionStatus()
			err := walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeBool(typ, b, &cs.Disconnected)
				case 2:
					return consumeFrame(typ, b, &cs.LastFrame)
				}
				return 0, nil
			})
			if err != nil {
				return 0, err
			}
			v.PeerConnectStatus = append(v.PeerConnectStatus, cs)
			return n, nil
		case 2:
			return consumeBool(typ, b, &v.DisconnectRequested)
		case 3:
			return consumeFrame(typ, b, &v.StartFrame)
		case 4:
			return consumeFrame(typ, b, &v.AckFrame)
		case 5:
			if typ != protowire.BytesType {
				return 0, nil
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			// raw aliases the receive buffer
			v.Bytes = append([]byte(nil), raw...)
			return n, nil
		}
		return 0, nil
	})
	return v, err
}

// fieldFunc consumes the value of one field and returns how many bytes it
// used. Zero means the field is unknown and gets skipped; a negative count
// is a protowire parse error.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendUint(b, num, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendUint(b, num, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeUint[T ~uint16 | ~uint32 | ~uint64](typ protowire.Type, b []byte, dst *T) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	if uint64(T(v)) != v {
		return 0, fmt.Errorf("%w: value %d out of range", ErrMalformed, v)
	}
	*dst = T(v)
	return n, nil
}

func consumeInt[T ~int16 | ~int32 | ~int64](typ protowire.Type, b []byte, dst *T) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	x := protowire.DecodeZigZag(v)
	if int64(T(x)) != x {
		return 0, fmt.Errorf("%w: value %d out of range", ErrMalformed, x)
	}
	*dst = T(x)
	return n, nil
}

func consumeFrame(typ protowire.Type, b []byte, dst *frame.Frame) (int, error) {
	return consumeInt(typ, b, dst)
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}
