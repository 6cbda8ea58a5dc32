// Package p2p implements the peer connections of the node. Every connection
// runs as an actor: it performs the handshake, answers the requests it can
// answer from the global state, reports everything else to the coordinator
// and executes the commands the coordinator broadcasts.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/events"
)

// Set of errors a connection terminates with.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrConnection        = errors.New("connection error")
	ErrRefused           = errors.New("connection refused")
)

// Default timeouts used when the configuration leaves them at zero.
const (
	defHandshakeTimeout = 5 * time.Second
	defRequestTimeout   = 10 * time.Second
	defPingInterval     = 30 * time.Second
	defIdleTimeout      = 90 * time.Second
)

// EventHandler defines a function that is called when events
// occur in the processing of the connections.
type EventHandler func(v string, args ...any)

// Config represents the configuration of the peer network.
type Config struct {
	State            *state.State
	Events           chan<- channel.PeerEvent
	Commands         *events.Events[channel.Command]
	EvHandler        EventHandler
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PingInterval     time.Duration
	IdleTimeout      time.Duration
}

// Network manages the listener and every connection of the node.
type Network struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
}

// New constructs the peer network. Nothing runs until Listen or Connect
// is called.
func New(cfg Config) *Network {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defHandshakeTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defRequestTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defPingInterval
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defIdleTimeout
	}
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Network{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]net.Conn),
	}
}

// Listen starts accepting inbound connections on the address.
func (n *Network) Listen(addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(n.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()

	n.cfg.EvHandler("p2p: Listen: listening on %s", l.Addr())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.acceptLoop(l)
	}()

	return nil
}

// Addr returns the address the network listens on.
func (n *Network) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// advertised returns the address peers should dial to reach the node.
func (n *Network) advertised(configured string) string {
	if configured != "" {
		return configured
	}
	return n.Addr()
}

// Connect dials the address in the background. The outcome is reported on
// the events channel: PeerConnected on success, PeerDisconnected otherwise.
func (n *Network) Connect(addr string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		d := net.Dialer{Timeout: n.cfg.HandshakeTimeout}
		c, err := d.DialContext(n.ctx, "tcp", addr)
		if err != nil {
			n.cfg.EvHandler("p2p: Connect: dial %s: ERROR: %s", addr, err)
			n.report(channel.PeerDisconnected{
				Address: addr,
				Dialed:  addr,
				Err:     fmt.Errorf("%w: %w", ErrConnection, err),
			})
			return
		}

		n.serve(c, false, addr)
	}()
}

// Shutdown closes the listener and every connection and waits for the
// actors to terminate.
func (n *Network) Shutdown() {
	n.cfg.EvHandler("p2p: shutdown: started")
	defer n.cfg.EvHandler("p2p: shutdown: completed")

	n.cancel()

	n.mu.Lock()
	if n.listener != nil {
		n.listener.Close()
	}
	for _, c := range n.conns {
		c.Close()
	}
	n.mu.Unlock()

	n.wg.Wait()
}

// =============================================================================

func (n *Network) acceptLoop(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || n.ctx.Err() != nil {
				return
			}
			n.cfg.EvHandler("p2p: accept: ERROR: %s", err)
			continue
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serve(c, true, "")
		}()
	}
}

// serve runs the actor of the connection until it terminates.
func (n *Network) serve(c net.Conn, inbound bool, dialed string) {
	id := strconv.FormatUint(n.nextID.Add(1), 10)

	n.mu.Lock()
	if n.ctx.Err() != nil {
		n.mu.Unlock()
		c.Close()
		return
	}
	n.conns[id] = c
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.conns, id)
		n.mu.Unlock()
	}()

	a := newActor(n, c, id, inbound, dialed)
	a.run(n.ctx)
}

// report delivers an event to the coordinator unless the network is
// shutting down.
func (n *Network) report(ev channel.PeerEvent) bool {
	select {
	case n.cfg.Events <- ev:
		return true
	case <-n.ctx.Done():
		return false
	}
}
