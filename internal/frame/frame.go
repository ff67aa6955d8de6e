// Package frame defines the frame counter and player handle primitives shared
// by every layer of the rollback stack.
package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Errors returned by frame arithmetic and handle validation.
var (
	ErrFrameOverflow = errors.New("frame: arithmetic overflow")
	ErrNullFrame     = errors.New("frame: null frame")
	ErrNegativeFrame = errors.New("frame: negative frame")
	ErrInvalidHandle = errors.New("frame: invalid player handle")
)

// Frame identifies one simulation tick. Null marks an uninitialized frame.
type Frame int32

// Null is the sentinel for "no frame yet".
const Null Frame = -1

// IsNull reports whether f is the Null sentinel.
func (f Frame) IsNull() bool {
	return f == Null
}

// IsValid reports whether f is a real (non-negative) frame.
func (f Frame) IsValid() bool {
	return f >= 0
}

// Add returns f+n. Null and invalid frames are refused, and so is a
// result outside [0, MaxInt32].
func (f Frame) Add(n int32) (Frame, error) {
	return f.offset(int64(n))
}

// Sub returns f-n under the same rules as Add.
func (f Frame) Sub(n int32) (Frame, error) {
	return f.offset(-int64(n))
}

func (f Frame) offset(n int64) (Frame, error) {
	switch {
	case f.IsNull():
		return Null, ErrNullFrame
	case !f.IsValid():
		return Null, fmt.Errorf("%w: %d", ErrNegativeFrame, f)
	}
	sum := int64(f) + n
	switch {
	case sum > math.MaxInt32:
		return f, ErrFrameOverflow
	case sum < 0:
		return f, fmt.Errorf("%w: %d%+d", ErrNegativeFrame, f, n)
	}
	return Frame(sum), nil
}

// Next returns f+1.
func (f Frame) Next() (Frame, error) {
	return f.Add(1)
}

// Distance returns f-other as a plain integer. Both frames should be valid.
func (f Frame) Distance(other Frame) int64 {
	return int64(f) - int64(other)
}

// Mod returns f modulo n as a slot index. n must be positive.
func (f Frame) Mod(n int) int {
	m := int(f) % n
	if m < 0 {
		m += n
	}
	return m
}

func (f Frame) String() string {
	if f.IsNull() {
		return "NULL"
	}
	return strconv.FormatInt(int64(f), 10)
}

// Min returns the smaller valid frame. Null is treated as absent.
func Min(a, b Frame) Frame {
	switch {
	case a.IsNull():
		return b
	case b.IsNull():
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// Max returns the larger frame. Null is treated as absent.
func Max(a, b Frame) Frame {
	switch {
	case a.IsNull():
		return b
	case b.IsNull():
		return a
	case a > b:
		return a
	default:
		return b
	}
}
