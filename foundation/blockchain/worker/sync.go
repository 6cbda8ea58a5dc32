package worker

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
	"github.com/ardanlabs/chainnode/foundation/blockchain/wire"
)

// maxOrphans bounds the blocks kept while walking back to a known ancestor.
const maxOrphans = 512

// episode is a running synchronization with the heaviest peers.
type episode struct {
	candidates []candidate
	peer       string
	target     uint64
	next       uint64
	applied    int
	started    time.Time
	deadline   time.Time
}

// candidate is a peer advertising a heavier chain.
type candidate struct {
	address string
	work    uint64
}

// orphan is a block whose parent is not stored yet.
type orphan struct {
	from  string
	block database.Block
}

// handleAnnouncement decides what to do when a peer advertises a tip.
func (w *Worker) handleAnnouncement(from string, height uint64, hash string, work uint64) {
	if w.halted || w.state.HasBlock(hash) {
		return
	}

	// Equal work keeps the current tip.
	tip := w.state.RetrieveLatestBlock()
	if work <= tip.Header.AccumulatedWork {
		return
	}

	if w.sync != nil {
		return
	}

	// The next block is fetched directly, anything further away needs
	// a synchronization episode.
	if height == tip.Header.Height+1 {
		w.evHandler("worker: announcement: requesting blk[%d] %s from %s", height, hash, from)
		w.request(from, channel.RequestBlockByHash{Peer: from, Hash: hash})
		return
	}

	w.startSync()
}

// maybeSync starts a synchronization episode when a connected peer
// advertises a heavier chain.
func (w *Worker) maybeSync() {
	if w.halted || w.sync != nil {
		return
	}

	if len(w.heavierPeers()) > 0 {
		w.startSync()
	}
}

// heavierPeers returns the peers advertising more work than the tip, the
// heaviest first.
func (w *Worker) heavierPeers() []candidate {
	work := w.state.RetrieveLatestBlock().Header.AccumulatedWork

	var cands []candidate
	for _, rec := range w.state.RetrieveKnownPeers("") {
		if rec.AccumulatedWork > work {
			cands = append(cands, candidate{address: rec.Address, work: rec.AccumulatedWork})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].work > cands[j].work
	})

	return cands
}

// startSync begins a synchronization episode with the heaviest peers.
func (w *Worker) startSync() {
	cands := w.heavierPeers()
	if len(cands) == 0 {
		return
	}

	if !w.writer.SetSyncing(true) {
		return
	}

	w.evHandler("worker: sync: started: candidates[%d]", len(cands))
	w.cfg.Metrics.SetSyncing(true)
	w.signalMiner(channel.PauseMining{})

	w.sync = &episode{
		candidates: cands,
		started:    time.Now(),
	}

	w.nextCandidate()
}

// nextCandidate moves the episode to the next peer still worth syncing
// from, or ends it.
func (w *Worker) nextCandidate() {
	ep := w.sync
	if ep == nil {
		return
	}

	w.orphans = make(map[string]orphan)
	work := w.state.RetrieveLatestBlock().Header.AccumulatedWork

	for len(ep.candidates) > 0 {
		c := ep.candidates[0]
		ep.candidates = ep.candidates[1:]

		rec, connected := w.state.QueryPeer(c.address)
		if !connected || rec.AccumulatedWork <= work {
			continue
		}

		ep.peer = rec.Address
		ep.target = rec.AccumulatedWork
		ep.next = w.state.RetrieveLatestBlock().Header.Height + 1
		ep.deadline = time.Now().Add(w.episodeTimeout)
		w.evHandler("worker: sync: peer[%s] target work[%d]", ep.peer, ep.target)

		w.requestNext()
		return
	}

	w.endSync("no candidate left")
}

// requestNext asks the current peer for the next block of its chain.
func (w *Worker) requestNext() {
	w.request(w.sync.peer, channel.RequestBlockByHeight{Peer: w.sync.peer, Height: w.sync.next})
}

// request sends a block request to one peer. A request that never reached
// the peer's connection is handled like a request that timed out.
func (w *Worker) request(addr string, cmd channel.Command) {
	dropped := w.broadcast(cmd)

	rec, connected := w.state.QueryPeer(addr)
	if connected && !slices.Contains(dropped, rec.ConnID) {
		return
	}

	w.evHandler("worker: request: %T to %s not delivered", cmd, addr)

	if w.sync != nil && w.sync.peer == addr {
		w.nextCandidate()
	}
}

// continueSync is called once a block of the current peer was processed.
func (w *Worker) continueSync() {
	ep := w.sync
	ceiling := w.state.RetrieveConfig().MaxNumberOfBlocksBeforeSyncing

	switch {
	case w.state.RetrieveLatestBlock().Header.AccumulatedWork >= ep.target:
		w.endSync("reached target")
	case ceiling > 0 && ep.applied >= ceiling:
		w.endSync("block ceiling reached")
	default:
		w.requestNext()
	}
}

// endSync terminates the episode, resumes the miner and tells the peers
// about the tip.
func (w *Worker) endSync(reason string) {
	ep := w.sync
	w.sync = nil
	w.orphans = make(map[string]orphan)

	w.writer.SetSyncing(false)
	w.cfg.Metrics.SetSyncing(false)

	tip := w.state.RetrieveLatestBlock()
	w.evHandler("worker: sync: completed: %s: applied[%d] tip[%d] took[%s]", reason, ep.applied, tip.Header.Height, time.Since(ep.started).Round(time.Millisecond))

	w.signalMiner(channel.ResumeMining{})
	w.broadcast(channel.AnnounceBlock{Notification: wire.NewBlockNotification(tip)})
}

// checkEpisode gives up on an episode peer that delivered no block in time,
// whether or not its connection reported the timeout.
func (w *Worker) checkEpisode(now time.Time) {
	ep := w.sync
	if ep == nil || now.Before(ep.deadline) {
		return
	}

	w.evHandler("worker: sync: peer[%s] delivered nothing for %s", ep.peer, w.episodeTimeout)
	w.syncTimeout(channel.SyncTimeout{From: ep.peer, Height: ep.next})
}

// syncTimeout handles a block request the peer didn't answer in time.
func (w *Worker) syncTimeout(e channel.SyncTimeout) {
	w.penalize(e.From, timeoutPenalty, "timeout", "block request timed out")

	if w.sync != nil && w.sync.peer == e.From {
		w.nextCandidate()
	}
}

// =============================================================================

// handleBlock validates and stores a block received from a peer.
func (w *Worker) handleBlock(from string, b database.Block) {
	if w.halted {
		return
	}

	inEpisode := w.sync != nil && w.sync.peer == from
	if inEpisode {
		w.sync.deadline = time.Now().Add(w.episodeTimeout)
	}

	top, processed, err := w.processBlock(from, b)
	switch {
	case err != nil:
		if inEpisode && w.sync != nil {
			w.nextCandidate()
		}
		return

	case !processed:
		return
	}

	if inEpisode && w.sync != nil {
		if top >= w.sync.next {
			w.sync.next = top + 1
		}
		w.continueSync()
	}
}

// processBlock stores the block and every buffered descendant. It returns
// the height of the highest block processed and whether the block was
// stored or already known. A block buffered while walking back is not
// processed.
func (w *Worker) processBlock(from string, b database.Block) (uint64, bool, error) {
	hash := b.Hash()
	top := b.Header.Height

	if w.state.HasBlock(hash) {
		w.cfg.Metrics.Block("known")
		return top, true, nil
	}

	prev, err := w.state.QueryBlockByHash(b.Header.PrevBlockHash)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			w.storageFailure(err)
			return 0, false, err
		}
		w.walkBack(from, b)
		return 0, false, nil
	}

	if err := w.cfg.Validator.Validate(b, prev); err != nil {
		w.evHandler("worker: block: blk[%d] %s from %s: REJECTED: %s", b.Header.Height, hash, from, err)
		w.cfg.Metrics.Block("rejected")
		w.penalize(from, validationPenalty, "validation", err.Error())
		return 0, false, err
	}

	res, err := w.writer.StoreBlock(b)
	if err != nil {
		w.storageFailure(err)
		return 0, false, err
	}

	w.applied(from, b, res)

	// Buffered descendants are applied in ascending order.
	for {
		child, exists := w.orphans[hash]
		if !exists {
			break
		}
		delete(w.orphans, hash)

		childTop, _, err := w.processBlock(child.from, child.block)
		if err != nil {
			break
		}
		top = childTop
		hash = child.block.Hash()
	}

	return top, true, nil
}

// walkBack buffers a block whose parent is unknown and asks the peer for
// the parent.
func (w *Worker) walkBack(from string, b database.Block) {
	if b.Header.Height == 0 {
		w.penalize(from, validationPenalty, "validation", "foreign genesis block")
		return
	}

	if w.sync == nil {
		w.startSync()
		if w.sync == nil {
			return
		}
	}

	if len(w.orphans) >= maxOrphans {
		w.evHandler("worker: walk back: too many buffered blocks, giving up on %s", from)
		w.nextCandidate()
		return
	}

	w.cfg.Metrics.Block("orphan")
	w.orphans[b.Header.PrevBlockHash] = orphan{from: from, block: b}

	w.evHandler("worker: walk back: blk[%d] parent %s unknown, requesting from %s", b.Header.Height, b.Header.PrevBlockHash, from)
	w.request(from, channel.RequestBlockByHash{Peer: from, Hash: b.Header.PrevBlockHash})
}

// applied records a stored block and propagates a tip change.
func (w *Worker) applied(from string, b database.Block, res state.StoreResult) {
	w.cfg.Metrics.Block("stored")

	if w.sync != nil {
		w.sync.applied++
	}

	if !res.TipChanged {
		w.evHandler("worker: block: blk[%d] %s stored on a side chain", b.Header.Height, b.Hash())
		return
	}

	if res.Reorg {
		w.evHandler("worker: block: REORG: detached[%d] new tip blk[%d] %s", res.Detached, res.Tip.Header.Height, res.Tip.Hash())
		w.cfg.Metrics.Reorg()
	}

	w.evHandler("worker: block: new tip blk[%d] %s work[%d]", b.Header.Height, b.Hash(), b.Header.AccumulatedWork)
	w.state.RemoveMempool(b.Body.TxIDs...)
	w.cfg.Metrics.SetTip(b.Header.Height, b.Header.AccumulatedWork)
	w.signalMiner(channel.NewTip{Block: b})

	if w.sync == nil {
		w.broadcast(channel.AnnounceBlock{Except: from, Notification: wire.NewBlockNotification(b)})
	}
}

// handleMinedBlock stores a block found by the miner.
func (w *Worker) handleMinedBlock(b database.Block) {
	defer w.signalMiner(channel.ReadyToMineNextBlock{})

	if w.halted || w.sync != nil || !w.state.IsMining() {
		w.evHandler("worker: mined block: blk[%d] dropped", b.Header.Height)
		return
	}

	prev, err := w.state.QueryBlockByHash(b.Header.PrevBlockHash)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			w.storageFailure(err)
			return
		}
		w.evHandler("worker: mined block: blk[%d] parent: %s", b.Header.Height, err)
		return
	}

	if err := w.cfg.Validator.Validate(b, prev); err != nil {
		w.evHandler("worker: mined block: blk[%d] REJECTED: %s", b.Header.Height, err)
		return
	}

	res, err := w.writer.StoreBlock(b)
	if err != nil {
		w.storageFailure(err)
		return
	}

	w.evHandler("worker: mined block: blk[%d] %s", b.Header.Height, b.Hash())
	w.applied("", b, res)
}

// storageFailure halts the chain on I/O errors and logs the others.
func (w *Worker) storageFailure(err error) {
	if storage.IsIOError(err) {
		w.halt(err)
		return
	}
	w.evHandler("worker: storage: ERROR: %s", err)
}
