package worker

import (
	"math/rand/v2"
	"net"
	"slices"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
)

// Penalty points given for each kind of misbehavior.
const (
	violationPenalty  = 50
	validationPenalty = 25
	timeoutPenalty    = 5
)

// Bounds of the peer discovery.
const (
	maxDialing       = 8
	maxQueued        = 64
	dialExpiry       = time.Minute
	peerListRequests = 3
)

// peerConnected handles a peer that completed its handshake.
func (w *Worker) peerConnected(rec peer.Record) {
	delete(w.dialing, rec.Address)
	delete(w.dialing, rec.ListenAddr)

	w.evHandler("worker: peer connected: %s instance[%d] inbound[%t] height[%d]", rec.Address, rec.InstanceID, rec.Inbound, rec.Height)
	w.cfg.Metrics.SetPeers(w.state.PeerCount())

	w.broadcast(channel.RequestPeerList{Peer: rec.Address})
	w.handleAnnouncement(rec.Address, rec.Height, rec.TipHash, rec.AccumulatedWork)
}

// peerDisconnected removes the peer of the terminated connection and moves
// a running episode away from it.
func (w *Worker) peerDisconnected(e channel.PeerDisconnected) {
	if e.Dialed != "" {
		delete(w.dialing, e.Dialed)
	}

	if e.ConnID == "" {
		return
	}

	if w.state.RemovePeer(e.Address, e.ConnID) {
		w.evHandler("worker: peer disconnected: %s: %v", e.Address, e.Err)
	}
	w.cfg.Metrics.SetPeers(w.state.PeerCount())

	if w.sync != nil && w.sync.peer == e.Address {
		w.nextCandidate()
	}
}

// peerAnnounced records the tip the peer advertised and decides whether
// to fetch it.
func (w *Worker) peerAnnounced(e channel.BlockAnnounced) {
	n := e.Notification

	current := w.state.UpdatePeer(e.From, e.ConnID, func(rec *peer.Record) {
		rec.Height = n.Height
		rec.TipHash = n.Hash
		rec.AccumulatedWork = n.AccumulatedWork
		rec.LastSeen = time.Now().UTC()
	})

	// Announcements of a replaced connection are stale.
	if !current {
		return
	}

	w.handleAnnouncement(e.From, n.Height, n.Hash, n.AccumulatedWork)
}

// peerListReceived dials the peers the node doesn't know yet.
func (w *Worker) peerListReceived(e channel.PeerListReceived) {
	self := w.state.RetrieveInstanceID()

	for _, pa := range e.Peers {
		if pa.InstanceID == self {
			continue
		}
		w.dial(pa.ListenAddr)
	}
}

// runDiscovery redials the seeds when the node is short of peers, asks a
// few peers for their peer lists and checks for a heavier chain.
func (w *Worker) runDiscovery() {
	w.evHandler("worker: runDiscovery: started")
	defer w.evHandler("worker: runDiscovery: completed")

	now := time.Now()
	for addr, started := range w.dialing {
		if now.Sub(started) > dialExpiry {
			delete(w.dialing, addr)
		}
	}

	w.drainQueue()

	if w.state.PeerCount() < w.state.RetrieveConfig().MinPeers {
		w.dialSeeds()
	}

	peers := w.state.RetrieveKnownPeers("")
	rand.Shuffle(len(peers), func(i, j int) {
		peers[i], peers[j] = peers[j], peers[i]
	})
	for i := 0; i < len(peers) && i < peerListRequests; i++ {
		w.broadcast(channel.RequestPeerList{Peer: peers[i].Address})
	}

	w.maybeSync()
}

// dialSeeds dials every configured seed the node isn't connected to.
func (w *Worker) dialSeeds() {
	for _, addr := range w.state.RetrieveConfig().Peers {
		w.dial(addr)
	}
}

// dial connects to the address unless it is the node itself, already
// connected or being dialed, banned, or the node has enough peers.
func (w *Worker) dial(addr string) bool {
	cfg := w.state.RetrieveConfig()

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return false
	}

	switch {
	case addr == cfg.ListenAddr:
		return false
	case w.state.IsConnected(addr):
		return false
	case w.state.IsBanned(peer.HostOf(addr)):
		return false
	case cfg.MaxPeers > 0 && w.state.PeerCount() >= cfg.MaxPeers:
		return false
	}

	if _, exists := w.dialing[addr]; exists {
		return false
	}

	if len(w.dialing) >= maxDialing {
		w.enqueue(addr)
		return false
	}

	w.evHandler("worker: dial: %s", addr)
	w.dialing[addr] = time.Now()
	w.cfg.Network.Connect(addr)

	return true
}

// penalize adds penalty points to the standing of the peer's IP and bans
// every connection of the IP once the threshold is reached.
func (w *Worker) penalize(from string, points int, kind string, reason string) {
	if from == "" {
		return
	}

	ip := peer.HostOf(from)
	std, err := w.state.PenalizePeer(ip, points, reason)
	if err != nil {
		w.evHandler("worker: penalize: %s: ERROR: %s", ip, err)
		return
	}

	w.evHandler("worker: penalize: %s: %s: +%d score[%d]: %s", ip, kind, points, std.Score, reason)
	w.cfg.Metrics.Penalty(kind, std.Banned)

	if std.Banned {
		w.evHandler("worker: penalize: %s: BANNED", ip)
		w.broadcast(channel.Ban{IP: ip, Reason: reason})
	}
}

// enqueue holds an address until a dial slot frees up.
func (w *Worker) enqueue(addr string) {
	if len(w.queue) >= maxQueued || slices.Contains(w.queue, addr) {
		return
	}

	w.evHandler("worker: dial: queued: %s", addr)
	w.queue = append(w.queue, addr)
}

// drainQueue dials the held addresses while dial slots are free.
func (w *Worker) drainQueue() {
	queue := w.queue
	w.queue = nil

	for i, addr := range queue {
		if len(w.dialing) >= maxDialing {
			w.queue = append(w.queue, queue[i:]...)
			return
		}
		w.dial(addr)
	}
}
