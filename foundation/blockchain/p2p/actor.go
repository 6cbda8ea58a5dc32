package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
	"github.com/ardanlabs/chainnode/foundation/blockchain/wire"
)

// ConnState represents the lifecycle of a connection.
type ConnState int

// Set of connection states.
const (
	Connecting ConnState = iota
	HandshakePending
	Established
	Closing
	Closed
)

// String implements the fmt.Stringer interface.
func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case HandshakePending:
		return "handshake-pending"
	case Established:
		return "established"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// errBye is returned when the remote side said goodbye.
var errBye = errors.New("peer said bye")

// pendingRequest is a block request waiting for its answer.
type pendingRequest struct {
	height   uint64
	hash     string
	deadline time.Time
}

// actor owns one connection.
type actor struct {
	net      *Network
	conn     net.Conn
	id       string
	inbound  bool
	dialed   string
	state    ConnState
	rec      peer.Record
	pending  map[string]pendingRequest
	lastSeen time.Time
	nonce    uint64
}

func newActor(n *Network, c net.Conn, id string, inbound bool, dialed string) *actor {
	return &actor{
		net:     n,
		conn:    c,
		id:      id,
		inbound: inbound,
		dialed:  dialed,
		state:   Connecting,
		rec: peer.Record{
			Address: c.RemoteAddr().String(),
			ConnID:  id,
			Inbound: inbound,
		},
		pending: make(map[string]pendingRequest),
	}
}

func (a *actor) evHandler(v string, args ...any) {
	a.net.cfg.EvHandler("p2p: conn[%s:%s]: "+v, append([]any{a.id, a.rec.Address}, args...)...)
}

func (a *actor) setState(s ConnState) {
	a.evHandler("%s -> %s", a.state, s)
	a.state = s
}

// run drives the connection through its states. Exactly one
// PeerDisconnected is reported whatever the outcome.
func (a *actor) run(ctx context.Context) {
	err := a.handshake()
	if err == nil {

		// Register for commands before the coordinator learns about the
		// peer so no command addressed to it is missed.
		cmds := a.net.cfg.Commands.Acquire(a.id)

		a.setState(Established)
		a.net.report(channel.PeerConnected{Peer: a.rec})
		err = a.dispatch(ctx, cmds)

		a.net.cfg.Commands.Release(a.id)
	}

	a.setState(Closing)

	if errors.Is(err, ErrProtocolViolation) {
		a.evHandler("ERROR: %s", err)
		a.net.report(channel.ProtocolViolation{From: a.rec.Address, Err: err})
	}

	a.conn.Close()
	a.setState(Closed)

	a.net.report(channel.PeerDisconnected{
		Address: a.rec.Address,
		ConnID:  a.id,
		Dialed:  a.dialed,
		Err:     err,
	})
}

// =============================================================================

// handshake exchanges Handshake messages, decides on admission and
// exchanges ConnectionStatus messages. On success the peer is in the
// peer map.
func (a *actor) handshake() error {
	a.setState(HandshakePending)

	a.conn.SetDeadline(time.Now().Add(a.net.cfg.HandshakeTimeout))
	defer a.conn.SetDeadline(time.Time{})

	st := a.net.cfg.State
	cfg := st.RetrieveConfig()

	hs := wire.Handshake{
		Network:    cfg.Network,
		Version:    wire.Version,
		InstanceID: st.RetrieveInstanceID(),
		ListenAddr: a.net.advertised(cfg.ListenAddr),
		Tip:        wire.NewTipInfo(st.RetrieveLatestBlock()),
	}
	if err := a.write(hs); err != nil {
		return err
	}

	msg, err := a.read()
	if err != nil {
		return a.refuseOnViolation(err)
	}

	remote, ok := msg.(*wire.Handshake)
	if !ok {
		return a.refuseOnViolation(fmt.Errorf("%w: expected handshake, got %s", ErrProtocolViolation, msg.Type()))
	}

	a.rec.ListenAddr = remote.ListenAddr
	a.rec.Version = remote.Version
	a.rec.InstanceID = remote.InstanceID
	a.rec.Height = remote.Tip.Height
	a.rec.TipHash = remote.Tip.Hash
	a.rec.AccumulatedWork = remote.Tip.AccumulatedWork
	a.rec.ConnectedAt = time.Now().UTC()
	a.rec.LastSeen = a.rec.ConnectedAt

	reason := a.admit(remote)
	status := wire.ConnectionStatus{Accepted: reason == "", Reason: reason}
	if err := a.write(status); err != nil {
		if reason == "" {
			st.RemovePeer(a.rec.Address, a.id)
		}
		return err
	}

	if reason != "" {
		return fmt.Errorf("%w: %s", ErrRefused, reason)
	}

	msg, err = a.read()
	if err != nil {
		st.RemovePeer(a.rec.Address, a.id)
		return err
	}

	remoteStatus, ok := msg.(*wire.ConnectionStatus)
	if !ok {
		st.RemovePeer(a.rec.Address, a.id)
		return fmt.Errorf("%w: expected connection status, got %s", ErrProtocolViolation, msg.Type())
	}

	if !remoteStatus.Accepted {
		st.RemovePeer(a.rec.Address, a.id)
		return fmt.Errorf("%w by peer: %s", ErrRefused, remoteStatus.Reason)
	}

	a.lastSeen = time.Now()
	a.evHandler("handshake: accepted: instance[%d] listen[%s] height[%d]", a.rec.InstanceID, a.rec.ListenAddr, a.rec.Height)

	return nil
}

// admit decides whether the remote node can become a peer and inserts it
// in the peer map if so.
func (a *actor) admit(remote *wire.Handshake) wire.RefusalReason {
	st := a.net.cfg.State

	switch {
	case remote.Network != st.RetrieveConfig().Network:
		return wire.RefusedIncompatible
	case remote.InstanceID == st.RetrieveInstanceID():
		return wire.RefusedSelfConnect
	}

	err := st.AdmitPeer(a.rec)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, peer.ErrBanned):
		return wire.RefusedBanned
	case errors.Is(err, peer.ErrAlreadyConnected):
		return wire.RefusedAlreadyConnected
	case errors.Is(err, peer.ErrMaxPeers):
		return wire.RefusedMaxPeers
	}

	a.evHandler("handshake: admit: ERROR: %s", err)
	return wire.RefusedIncompatible
}

// refuseOnViolation tells the remote side it broke the protocol before the
// connection is closed.
func (a *actor) refuseOnViolation(err error) error {
	if !errors.Is(err, ErrProtocolViolation) {
		return err
	}

	a.write(wire.ConnectionStatus{Reason: wire.RefusedProtocolViolation})
	return err
}

// =============================================================================

// dispatch is the loop of an established connection. Every iteration waits
// on one select and never blocks anywhere else except when reporting an
// event to the coordinator.
func (a *actor) dispatch(ctx context.Context, cmds <-chan channel.Command) error {
	cfg := a.net.cfg

	msgs := make(chan wire.Message)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go a.reader(msgs, errs, done)

	tick := time.NewTicker(pendingTick(cfg.RequestTimeout))
	defer tick.Stop()

	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-msgs:
			a.lastSeen = time.Now()
			if err := a.handleMessage(msg); err != nil {
				return err
			}

		case err := <-errs:
			return err

		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			if !cmd.Addressed(a.rec) {
				continue
			}
			if err := a.handleCommand(cmd); err != nil {
				return err
			}

		case now := <-tick.C:
			a.expirePending(now)

		case now := <-ping.C:
			if now.Sub(a.lastSeen) > cfg.IdleTimeout {
				return fmt.Errorf("%w: idle for %s", ErrConnection, now.Sub(a.lastSeen).Round(time.Second))
			}
			a.nonce++
			if err := a.write(wire.Ping{Nonce: a.nonce}); err != nil {
				return err
			}

		case <-ctx.Done():
			a.write(wire.Bye{})
			return nil
		}
	}
}

// reader decodes inbound frames in order until the connection fails.
func (a *actor) reader(msgs chan<- wire.Message, errs chan<- error, done <-chan struct{}) {
	for {
		msg, err := a.read()
		if err != nil {
			errs <- err
			return
		}

		select {
		case msgs <- msg:
		case <-done:
			return
		}
	}
}

func (a *actor) handleMessage(msg wire.Message) error {
	st := a.net.cfg.State

	switch m := msg.(type) {
	case *wire.Handshake, *wire.ConnectionStatus:
		return fmt.Errorf("%w: unexpected %s after handshake", ErrProtocolViolation, msg.Type())

	case *wire.PeerListRequest:
		var resp wire.PeerListResponse
		for _, rec := range st.RetrieveKnownPeers(a.rec.Address) {
			if rec.ListenAddr == "" {
				continue
			}
			resp.Peers = append(resp.Peers, wire.PeerAddress{ListenAddr: rec.ListenAddr, InstanceID: rec.InstanceID})
		}
		return a.write(resp)

	case *wire.PeerListResponse:
		a.net.report(channel.PeerListReceived{From: a.rec.Address, Peers: m.Peers})

	case *wire.BlockNotification:
		a.rec.Height = m.Height
		a.rec.TipHash = m.Hash
		a.rec.AccumulatedWork = m.AccumulatedWork
		a.net.report(channel.BlockAnnounced{From: a.rec.Address, ConnID: a.id, Notification: *m})

	case *wire.BlockRequestByHeight:
		b, err := st.QueryBlockByHeight(m.Height)
		if err != nil {
			a.evHandler("request: height[%d]: %s", m.Height, err)
			return nil
		}
		return a.write(wire.Block{Block: b})

	case *wire.BlockRequestByHash:
		b, err := st.QueryBlockByHash(m.Hash)
		if err != nil {
			a.evHandler("request: hash[%s]: %s", m.Hash, err)
			return nil
		}
		return a.write(wire.Block{Block: b})

	case *wire.Block:
		delete(a.pending, heightKey(m.Block.Header.Height))
		delete(a.pending, hashKey(m.Block.Hash()))
		a.net.report(channel.BlockReceived{From: a.rec.Address, Block: m.Block})

	case *wire.TransactionNotification:
		a.net.report(channel.TransactionAnnounced{From: a.rec.Address, ID: m.ID})

	case *wire.Ping:
		return a.write(wire.Pong{Nonce: m.Nonce})

	case *wire.Pong:

	case *wire.Bye:
		return errBye
	}

	return nil
}

func (a *actor) handleCommand(cmd channel.Command) error {
	deadline := time.Now().Add(a.net.cfg.RequestTimeout)

	switch c := cmd.(type) {
	case channel.RequestBlockByHeight:
		a.pending[heightKey(c.Height)] = pendingRequest{height: c.Height, deadline: deadline}
		return a.write(wire.BlockRequestByHeight{Height: c.Height})

	case channel.RequestBlockByHash:
		a.pending[hashKey(c.Hash)] = pendingRequest{hash: c.Hash, deadline: deadline}
		return a.write(wire.BlockRequestByHash{Hash: c.Hash})

	case channel.AnnounceBlock:
		if c.Notification.Hash == a.rec.TipHash {
			return nil
		}
		return a.write(c.Notification)

	case channel.RequestPeerList:
		return a.write(wire.PeerListRequest{})

	case channel.AnnounceTransaction:
		return a.write(wire.TransactionNotification{ID: c.ID})

	case channel.Disconnect:
		a.evHandler("disconnect: %s", c.Reason)
		a.write(wire.Bye{})
		return fmt.Errorf("%w: disconnected: %s", ErrRefused, c.Reason)

	case channel.Ban:
		a.evHandler("ban: %s", c.Reason)
		a.write(wire.Bye{})
		return fmt.Errorf("%w: banned: %s", ErrRefused, c.Reason)
	}

	return nil
}

// expirePending removes the requests whose deadline passed and reports
// them to the coordinator.
func (a *actor) expirePending(now time.Time) {
	for key, req := range a.pending {
		if now.Before(req.deadline) {
			continue
		}
		delete(a.pending, key)

		a.evHandler("request timeout: height[%d] hash[%s]", req.height, req.hash)
		a.net.report(channel.SyncTimeout{From: a.rec.Address, Height: req.height, Hash: req.hash})
	}
}

// =============================================================================

func (a *actor) write(msg wire.Message) error {
	if err := wire.Write(a.conn, msg); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConnection, msg.Type(), err)
	}
	return nil
}

func (a *actor) read() (wire.Message, error) {
	msg, err := wire.Read(a.conn)
	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, wire.ErrMalformed):
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	case errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%w: closed by peer", ErrConnection)
	}
	return nil, fmt.Errorf("%w: read: %w", ErrConnection, err)
}

func heightKey(height uint64) string {
	return fmt.Sprintf("h:%d", height)
}

func hashKey(hash string) string {
	return "x:" + hash
}

// pendingTick is how often pending requests are checked for expiry.
func pendingTick(timeout time.Duration) time.Duration {
	tick := timeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return tick
}
