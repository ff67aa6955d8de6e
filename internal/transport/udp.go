package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/protocol"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

const (
	maxDatagram  = 4096
	receiveQueue = 256
)

// UDP is a protocol.Transport over a single UDP socket. A background
// goroutine reads datagrams into a bounded queue; ReceiveAll drains it
// without blocking.
type UDP struct {
	conn   *net.UDPConn
	logger *log.Logger

	mu      sync.Mutex
	resolve map[string]*net.UDPAddr
	aliases map[string]string // resolved address -> name given to SendTo

	queue   chan protocol.Datagram
	dropped int
	done    chan struct{}
	once    sync.Once
}

// ListenUDP binds addr ("host:port", port 0 picks one) and starts reading.
func ListenUDP(addr string, logger *log.Logger) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	if logger == nil {
		logger = telemetry.NewLogger(log.WarnLevel)
	}
	u := &UDP{
		conn:    conn,
		logger:  logger.With("local", conn.LocalAddr().String()),
		resolve: make(map[string]*net.UDPAddr),
		aliases: make(map[string]string),
		queue:   make(chan protocol.Datagram, receiveQueue),
		done:    make(chan struct{}),
	}
	go u.readLoop()
	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() string { return u.conn.LocalAddr().String() }

// SendTo implements protocol.Transport. Failures are logged and dropped;
// the protocol resends what matters.
func (u *UDP) SendTo(addr string, msg protocol.Message) {
	raddr, err := u.lookup(addr)
	if err != nil {
		u.logger.Debug("cannot resolve peer", "peer", addr, "err", err)
		return
	}
	raw, err := protocol.Marshal(msg)
	if err != nil {
		u.logger.Error("cannot encode message", "peer", addr, "err", err)
		return
	}
	if _, err := u.conn.WriteToUDP(raw, raddr); err != nil {
		u.logger.Debug("send failed", "peer", addr, "err", err)
	}
}

// ReceiveAll implements protocol.Transport.
func (u *UDP) ReceiveAll() []protocol.Datagram {
	var out []protocol.Datagram
	for {
		select {
		case d := <-u.queue:
			out = append(out, d)
		default:
			return out
		}
	}
}

// Dropped counts datagrams discarded because the queue was full.
func (u *UDP) Dropped() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

// Close stops the reader and closes the socket.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	return err
}

func (u *UDP) lookup(addr string) (*net.UDPAddr, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if a, ok := u.resolve[addr]; ok {
		return a, nil
	}
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	u.resolve[addr] = a
	u.aliases[a.String()] = addr
	return a, nil
}

func (u *UDP) name(from *net.UDPAddr) string {
	key := from.String()
	u.mu.Lock()
	defer u.mu.Unlock()
	if name, ok := u.aliases[key]; ok {
		return name
	}
	return key
}

func (u *UDP) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-u.done:
				return
			default:
			}
			u.logger.Debug("read failed", "err", err)
			continue
		}
		msg, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			u.logger.Debug("dropping undecodable datagram", "from", from, "err", err)
			continue
		}
		select {
		case u.queue <- protocol.Datagram{Addr: u.name(from), Msg: msg}:
		case <-u.done:
			return
		default:
			u.mu.Lock()
			u.dropped++
			u.mu.Unlock()
		}
	}
}
