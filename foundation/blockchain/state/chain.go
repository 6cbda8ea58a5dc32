package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
)

// ErrUnknownParent is returned when a block is stored before its parent.
var ErrUnknownParent = errors.New("parent block unknown")

// StoreResult describes what storing a block did to the chain.
type StoreResult struct {
	Known      bool           // The block was already stored.
	TipChanged bool           // The block is the new tip.
	Reorg      bool           // Blocks of the old canonical chain were replaced.
	Detached   int            // Number of canonical blocks replaced.
	Tip        database.Block // The tip after the write.
}

// ChainWriter holds the write authority over the chain state and the
// syncing flag. Only the coordinator holds one.
type ChainWriter struct {
	s *State
}

// SetSyncing sets the syncing flag and reports if it changed.
func (w *ChainWriter) SetSyncing(syncing bool) bool {
	return w.s.syncing.CompareAndSwap(!syncing, syncing)
}

// SetMining sets the mining flag reported to operators.
func (w *ChainWriter) SetMining(mining bool) {
	w.s.mining.Store(mining)
}

// StoreBlock writes an already validated block whose parent is stored. When
// the block makes a chain with more accumulated work than the current tip,
// the canonical chain is switched to it in the same atomic write, detaching
// the blocks of the old chain down to the common ancestor. Any error wrapping
// a storage.IOError means the chain can no longer be written safely.
func (w *ChainWriter) StoreBlock(b database.Block) (StoreResult, error) {
	a := w.s.archival
	hash := b.Hash()
	tip := w.s.light.get()

	switch _, err := a.index(hash); {
	case err == nil:
		return StoreResult{Known: true, Tip: tip}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return StoreResult{}, err
	}

	switch _, err := a.index(b.Header.PrevBlockHash); {
	case errors.Is(err, storage.ErrNotFound):
		return StoreResult{}, fmt.Errorf("%w: %s", ErrUnknownParent, b.Header.PrevBlockHash)
	case err != nil:
		return StoreResult{}, err
	}

	entry, err := a.appendBlock(b)
	if err != nil {
		return StoreResult{}, err
	}

	entries := []storage.Entry{
		storage.Put(hash, entry),
		storage.Put(sizeKey, archiveSize{Size: entry.Offset + entry.Length}),
	}

	res := StoreResult{Tip: tip}

	// The tip only ever moves to a chain with strictly more work.
	if b.Header.AccumulatedWork > tip.Header.AccumulatedWork {
		switchEntries, detached, err := w.canonicalSwitch(entry, tip.Header.Height)
		if err != nil {
			a.blocks.Truncate(entry.Offset)
			return StoreResult{}, err
		}

		entries = append(entries, switchEntries...)
		entries = append(entries, storage.Put(tipKey, tipEntry{Hash: hash}))

		res.TipChanged = true
		res.Detached = detached
		res.Reorg = detached > 0
		res.Tip = b
	}

	if err := a.store.AtomicWrite(entries...); err != nil {
		if terr := a.blocks.Truncate(entry.Offset); terr != nil {
			w.s.evHandler("state: StoreBlock: ERROR: truncating archive: %s", terr)
		}
		return StoreResult{}, err
	}

	if res.TipChanged {
		w.s.light.set(b)
	}

	w.s.evHandler("state: StoreBlock: blk[%d]: hash[%s]: tip-changed[%v]: detached[%d]", b.Header.Height, hash, res.TipChanged, res.Detached)

	return res, nil
}

// canonicalSwitch returns the entries that make the chain ending in the
// specified entry canonical. It walks parent links back to the first block
// that is already canonical, then drops the canonical heights above the new
// tip. The number of canonical blocks replaced is returned.
func (w *ChainWriter) canonicalSwitch(newTip IndexEntry, oldHeight uint64) ([]storage.Entry, int, error) {
	a := w.s.archival

	var entries []storage.Entry
	cur := newTip

	for {
		canon, err := a.canonical(cur.Height)
		switch {
		case err == nil && canon == cur.Hash:
			var detached int
			if oldHeight > cur.Height {
				detached = int(oldHeight - cur.Height)
			}

			for h := newTip.Height + 1; h <= oldHeight; h++ {
				entries = append(entries, storage.Delete(tableCanonical, heightKey(h)))
			}

			return entries, detached, nil

		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, 0, err
		}

		entries = append(entries, storage.Put(heightKey(cur.Height), canonicalEntry{Hash: cur.Hash}))

		if cur.Height == 0 {
			return nil, 0, errors.New("chain doesn't share the genesis block")
		}

		if cur, err = a.index(cur.PrevHash); err != nil {
			return nil, 0, fmt.Errorf("walking back from %s: %w", newTip.Hash, err)
		}
	}
}
