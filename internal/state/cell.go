// Package state holds saved simulation snapshots. Each Cell has its own lock
// so the host may read one frame's snapshot while the rollback path saves
// another.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
)

// Errors returned by Cell and Ring.
var (
	ErrNullFrame    = errors.New("state: cannot save or address a null frame")
	ErrStateMissing = errors.New("state: no snapshot saved")
	ErrInvalidSize  = errors.New("state: ring size must be positive")
)

// Cloner is implemented by snapshots that hold references (slices, maps,
// pointers) and need a deep copy on save and load.
type Cloner[S any] interface {
	Clone() S
}

func copyOf[S any](v S) S {
	if c, ok := any(v).(Cloner[S]); ok {
		return c.Clone()
	}
	return v
}

// Cell holds one (frame, snapshot, checksum) tuple.
type Cell[S any] struct {
	mu      sync.Mutex
	frame   frame.Frame
	data    S
	hasData bool
	sum     checksum.Sum
	hasSum  bool
}

// NewCell returns an empty cell.
func NewCell[S any]() *Cell[S] {
	return &Cell[S]{frame: frame.Null}
}

// Save replaces the held tuple. A nil data or sum stores none.
func (c *Cell[S]) Save(f frame.Frame, data *S, sum *checksum.Sum) error {
	if f.IsNull() {
		return ErrNullFrame
	}

	var (
		copied  S
		hasData bool
	)
	if data != nil {
		copied = copyOf(*data)
		hasData = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = f
	c.data = copied
	c.hasData = hasData
	if sum != nil {
		c.sum, c.hasSum = *sum, true
	} else {
		c.sum, c.hasSum = checksum.Sum{}, false
	}
	return nil
}

// Load returns a copy of the held snapshot.
func (c *Cell[S]) Load() (S, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasData {
		var zero S
		return zero, fmt.Errorf("%w (frame %v)", ErrStateMissing, c.frame)
	}
	return copyOf(c.data), nil
}

// Data peeks at the held snapshot without the error path of Load.
func (c *Cell[S]) Data() (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasData {
		var zero S
		return zero, false
	}
	return copyOf(c.data), true
}

// Frame returns the frame of the last save, or Null.
func (c *Cell[S]) Frame() frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Checksum returns the checksum of the last save, if it carried one.
func (c *Cell[S]) Checksum() (checksum.Sum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sum, c.hasSum
}

// Ring is a fixed arena of cells addressed by frame mod size.
type Ring[S any] struct {
	cells []*Cell[S]
}

// NewRing creates a ring of size cells.
func NewRing[S any](size int) (*Ring[S], error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	r := &Ring[S]{cells: make([]*Cell[S], size)}
	for i := range r.cells {
		r.cells[i] = NewCell[S]()
	}
	return r, nil
}

// Size returns the number of cells.
func (r *Ring[S]) Size() int { return len(r.cells) }

// Cell returns the cell that frame f maps to.
func (r *Ring[S]) Cell(f frame.Frame) (*Cell[S], error) {
	if !f.IsValid() {
		return nil, ErrNullFrame
	}
	return r.cells[f.Mod(len(r.cells))], nil
}
