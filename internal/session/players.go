package session

import (
	"strings"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/protocol"
)

// PlayerType says where a handle's inputs come from.
type PlayerType interface {
	playerType()
}

// Local is a player whose inputs are entered on this machine.
type Local struct{}

// Remote is a player on another peer.
type Remote struct {
	Addr string
}

// Spectator receives confirmed inputs and sends none.
type Spectator struct {
	Addr string
}

func (Local) playerType()     {}
func (Remote) playerType()    {}
func (Spectator) playerType() {}

// peer is one remote address and the handles it serves. Remote players
// sharing an address share the endpoint.
type peer struct {
	addr      string
	spectator bool
	handles   []frame.PlayerHandle
	ep        *protocol.Endpoint
}

func peerLess(a, b *peer) bool { return strings.Compare(a.addr, b.addr) < 0 }
