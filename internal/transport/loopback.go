// Package transport provides the datagram transports sessions run on: an
// in-memory network with reproducible impairments, and plain UDP.
package transport

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/vovakirdan/netplay/internal/protocol"
)

// ChaosConfig describes the impairments applied by a Network. The zero
// value is a perfect network.
type ChaosConfig struct {
	Latency      time.Duration `yaml:"latency"`
	Jitter       time.Duration `yaml:"jitter"`
	SendLoss     float64       `yaml:"send_loss"`
	ReceiveLoss  float64       `yaml:"receive_loss"`
	Duplicate    float64       `yaml:"duplicate"`
	Reorder      float64       `yaml:"reorder"`
	ReorderDelay time.Duration `yaml:"reorder_delay"`
	BurstLoss    float64       `yaml:"burst_loss"`
	BurstLength  int           `yaml:"burst_length"`
	Seed         uint64        `yaml:"seed"`
}

// Validate checks that every probability is in [0, 1].
func (c ChaosConfig) Validate() error {
	for name, p := range map[string]float64{
		"send_loss":    c.SendLoss,
		"receive_loss": c.ReceiveLoss,
		"duplicate":    c.Duplicate,
		"reorder":      c.Reorder,
		"burst_loss":   c.BurstLoss,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("transport: %s must be in [0, 1], got %v", name, p)
		}
	}
	if c.Latency < 0 || c.Jitter < 0 || c.ReorderDelay < 0 || c.BurstLength < 0 {
		return fmt.Errorf("transport: durations and burst length cannot be negative")
	}
	return nil
}

// NetStats counts what a Network did with the datagrams it was given.
type NetStats struct {
	Sent       int
	Delivered  int
	Dropped    int
	Duplicated int
}

type flight struct {
	deliverAt time.Time
	seq       uint64
	from, to  string
	raw       []byte
}

// Network is an in-memory datagram hub shared by Loopback transports. Every
// datagram goes through the wire codec, so what arrives is exactly what a
// real peer would decode.
type Network struct {
	mu        sync.Mutex
	chaos     ChaosConfig
	rng       *rand.Rand
	clock     func() time.Time
	hosts     map[string]*Loopback
	inflight  []flight
	seq       uint64
	burstLeft int
	stats     NetStats
}

// NewNetwork returns a network reading time from clock. Impairments are
// drawn from a PCG seeded with chaos.Seed.
func NewNetwork(chaos ChaosConfig, clock func() time.Time) *Network {
	if clock == nil {
		clock = time.Now
	}
	return &Network{
		chaos: chaos,
		rng:   rand.New(rand.NewPCG(chaos.Seed, chaos.Seed^0x9e3779b97f4a7c15)),
		clock: clock,
		hosts: make(map[string]*Loopback),
	}
}

// Endpoint returns the transport bound to addr, creating it on first use.
func (n *Network) Endpoint(addr string) *Loopback {
	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.hosts[addr]; ok {
		return h
	}
	h := &Loopback{net: n, addr: addr}
	n.hosts[addr] = h
	return h
}

// Stats returns the counters so far.
func (n *Network) Stats() NetStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// InFlight returns how many datagrams are still travelling.
func (n *Network) InFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

// Advance moves every datagram due by now into its recipient's inbox.
func (n *Network) Advance(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advance(now)
}

func (n *Network) advance(now time.Time) {
	keep := n.inflight[:0]
	for _, f := range n.inflight {
		if f.deliverAt.After(now) {
			keep = append(keep, f)
			continue
		}
		if n.chance(n.chaos.ReceiveLoss) {
			n.stats.Dropped++
			continue
		}
		h, ok := n.hosts[f.to]
		if !ok {
			n.stats.Dropped++
			continue
		}
		msg, err := protocol.Unmarshal(f.raw)
		if err != nil {
			n.stats.Dropped++
			continue
		}
		h.inbox = append(h.inbox, protocol.Datagram{Addr: f.from, Msg: msg})
		n.stats.Delivered++
	}
	n.inflight = keep
}

func (n *Network) send(from, to string, msg protocol.Message) {
	raw, err := protocol.Marshal(msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats.Sent++
	if err != nil || n.lost() {
		n.stats.Dropped++
		return
	}
	now := n.clock()
	n.enqueue(now, from, to, raw)
	if n.chance(n.chaos.Duplicate) {
		n.stats.Duplicated++
		n.enqueue(now, from, to, raw)
	}
}

func (n *Network) lost() bool {
	if n.burstLeft > 0 {
		n.burstLeft--
		return true
	}
	if n.chaos.BurstLength > 0 && n.chance(n.chaos.BurstLoss) {
		n.burstLeft = n.chaos.BurstLength - 1
		return true
	}
	return n.chance(n.chaos.SendLoss)
}

func (n *Network) enqueue(now time.Time, from, to string, raw []byte) {
	delay := n.chaos.Latency
	if n.chaos.Jitter > 0 {
		delay += time.Duration(n.rng.Int64N(int64(n.chaos.Jitter) + 1))
	}
	if n.chance(n.chaos.Reorder) {
		delay += n.chaos.ReorderDelay
	}
	n.seq++
	f := flight{deliverAt: now.Add(delay), seq: n.seq, from: from, to: to, raw: raw}
	i, _ := slices.BinarySearchFunc(n.inflight, f, func(a, b flight) int {
		if c := a.deliverAt.Compare(b.deliverAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	n.inflight = slices.Insert(n.inflight, i, f)
}

func (n *Network) chance(p float64) bool {
	return p > 0 && n.rng.Float64() < p
}

// Loopback is one host on a Network. It implements protocol.Transport.
type Loopback struct {
	net   *Network
	addr  string
	inbox []protocol.Datagram
}

// Addr returns the address the host was registered under.
func (l *Loopback) Addr() string { return l.addr }

// SendTo implements protocol.Transport.
func (l *Loopback) SendTo(addr string, msg protocol.Message) {
	l.net.send(l.addr, addr, msg)
}

// ReceiveAll implements protocol.Transport. It delivers whatever is due by
// the network clock first.
func (l *Loopback) ReceiveAll() []protocol.Datagram {
	n := l.net
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advance(n.clock())
	out := l.inbox
	l.inbox = nil
	return out
}
