package checksum

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/btree"

	"github.com/vovakirdan/netplay/internal/frame"
)

// ErrUnknownPeer is returned when a checksum arrives from an address that was never added.
var ErrUnknownPeer = errors.New("checksum: unknown peer")

// Default exchange settings.
const (
	DefaultInterval   = 10
	DefaultMaxHistory = 32
	btreeDegree       = 8
)

// Status is the coarse sync state of one remote peer.
type Status uint8

const (
	StatusPending Status = iota
	StatusInSync
	StatusDesyncDetected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInSync:
		return "in-sync"
	case StatusDesyncDetected:
		return "desync"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Health is the sync health of one remote peer. Frame, Local and Remote are
// only set once Status is StatusDesyncDetected.
type Health struct {
	Status Status
	Frame  frame.Frame
	Local  Sum
	Remote Sum
}

func (h Health) String() string {
	if h.Status != StatusDesyncDetected {
		return h.Status.String()
	}
	return fmt.Sprintf("desync at frame %v (local %s, remote %s)", h.Frame, h.Local, h.Remote)
}

// Mismatch is one detected disagreement between local and remote digests.
type Mismatch struct {
	Addr   string
	Frame  frame.Frame
	Local  Sum
	Remote Sum
}

// Config controls how often digests are exchanged and how many are kept.
type Config struct {
	Interval   int // frames between reports; 0 disables the exchange
	MaxHistory int
}

// DefaultConfig returns the default exchange settings.
func DefaultConfig() Config {
	return Config{
		Interval:   DefaultInterval,
		MaxHistory: DefaultMaxHistory,
	}
}

type entry struct {
	frame frame.Frame
	sum   Sum
}

func entryLess(a, b entry) bool { return a.frame < b.frame }

// Peer tracks the digests one remote peer has reported.
type Peer struct {
	addr         string
	pending      *btree.BTreeG[entry]
	health       Health
	lastVerified frame.Frame
}

func peerLess(a, b *Peer) bool { return strings.Compare(a.addr, b.addr) < 0 }

// Exchange owns the local digest history and one Peer per remote address.
// Peers and digests are kept in ordered trees so that every traversal has the
// same order on every machine.
type Exchange struct {
	interval   int
	maxHistory int
	local      *btree.BTreeG[entry]
	lastSent   frame.Frame
	peers      *btree.BTreeG[*Peer]
}

// NewExchange creates an exchange with no peers.
func NewExchange(cfg Config) *Exchange {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &Exchange{
		interval:   max(cfg.Interval, 0),
		maxHistory: cfg.MaxHistory,
		local:      btree.NewG(btreeDegree, entryLess),
		lastSent:   frame.Null,
		peers:      btree.NewG(btreeDegree, peerLess),
	}
}

// Enabled reports whether digests are exchanged at all.
func (e *Exchange) Enabled() bool { return e.interval > 0 }

// Interval returns the report interval in frames.
func (e *Exchange) Interval() int { return e.interval }

// AddPeer registers a remote address. Adding it twice is a no-op.
func (e *Exchange) AddPeer(addr string) {
	if _, ok := e.peers.Get(&Peer{addr: addr}); ok {
		return
	}
	e.peers.ReplaceOrInsert(&Peer{
		addr:         addr,
		pending:      btree.NewG(btreeDegree, entryLess),
		lastVerified: frame.Null,
	})
}

func (e *Exchange) peer(addr string) (*Peer, bool) {
	return e.peers.Get(&Peer{addr: addr})
}

// DueFrame returns the next frame whose digest should be reported, if that
// frame is both confirmed and saved.
func (e *Exchange) DueFrame(lastConfirmed, lastSaved frame.Frame) (frame.Frame, bool) {
	if !e.Enabled() || lastConfirmed.IsNull() || lastSaved.IsNull() {
		return frame.Null, false
	}
	next := frame.Frame(e.interval) //nolint:gosec // interval is a small config value
	if !e.lastSent.IsNull() {
		f, err := e.lastSent.Add(int32(e.interval)) //nolint:gosec // see above
		if err != nil {
			return frame.Null, false
		}
		next = f
	}
	if next > lastConfirmed || next > lastSaved {
		return frame.Null, false
	}
	return next, true
}

// RecordLocal stores the local digest for f and marks it sent.
func (e *Exchange) RecordLocal(f frame.Frame, sum Sum) {
	e.local.ReplaceOrInsert(entry{frame: f, sum: sum})
	for e.local.Len() > e.maxHistory {
		e.local.DeleteMin()
	}
	e.lastSent = frame.Max(e.lastSent, f)
}

// Skip marks f as handled without a digest, e.g. when its state was no
// longer retained.
func (e *Exchange) Skip(f frame.Frame) {
	e.lastSent = frame.Max(e.lastSent, f)
}

// LocalSum returns the recorded local digest for f.
func (e *Exchange) LocalSum(f frame.Frame) (Sum, bool) {
	got, ok := e.local.Get(entry{frame: f})
	return got.sum, ok
}

// Receive buffers a digest reported by addr.
func (e *Exchange) Receive(addr string, f frame.Frame, sum Sum) error {
	p, ok := e.peer(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if !f.IsValid() {
		return nil
	}
	p.pending.ReplaceOrInsert(entry{frame: f, sum: sum})
	for p.pending.Len() > e.maxHistory {
		p.pending.DeleteMin()
	}
	return nil
}

// Compare checks every buffered remote digest for a frame before
// lastConfirmed against the local history and returns new mismatches in
// address then frame order.
func (e *Exchange) Compare(lastConfirmed frame.Frame) []Mismatch {
	if lastConfirmed.IsNull() {
		return nil
	}

	var out []Mismatch
	e.peers.Ascend(func(p *Peer) bool {
		var handled []entry
		p.pending.Ascend(func(r entry) bool {
			if r.frame >= lastConfirmed {
				return false
			}
			local, ok := e.local.Get(entry{frame: r.frame})
			if !ok {
				if e.lastSent.IsNull() || r.frame > e.lastSent {
					// Not computed locally yet.
					return false
				}
				// Older than the retained history.
				handled = append(handled, r)
				return true
			}
			handled = append(handled, r)
			if local.sum == r.sum {
				p.verified(r.frame)
			} else {
				p.desynced(r.frame, local.sum, r.sum)
				out = append(out, Mismatch{Addr: p.addr, Frame: r.frame, Local: local.sum, Remote: r.sum})
			}
			return true
		})
		for _, h := range handled {
			p.pending.Delete(h)
		}
		return true
	})
	return out
}

func (p *Peer) verified(f frame.Frame) {
	if p.health.Status == StatusDesyncDetected {
		return
	}
	p.health.Status = StatusInSync
	p.lastVerified = frame.Max(p.lastVerified, f)
}

// desynced records a mismatch. Health keeps the first one.
func (p *Peer) desynced(f frame.Frame, local, remote Sum) {
	if p.health.Status != StatusDesyncDetected {
		p.health = Health{Status: StatusDesyncDetected, Frame: f, Local: local, Remote: remote}
	}
}

// Health returns the sync health of addr.
func (e *Exchange) Health(addr string) (Health, bool) {
	p, ok := e.peer(addr)
	if !ok {
		return Health{}, false
	}
	return p.health, true
}

// LastVerified returns the newest frame whose digest matched for addr, or Null.
func (e *Exchange) LastVerified(addr string) frame.Frame {
	p, ok := e.peer(addr)
	if !ok {
		return frame.Null
	}
	return p.lastVerified
}

// PendingCount returns how many remote digests from addr await comparison.
func (e *Exchange) PendingCount(addr string) int {
	p, ok := e.peer(addr)
	if !ok {
		return 0
	}
	return p.pending.Len()
}
