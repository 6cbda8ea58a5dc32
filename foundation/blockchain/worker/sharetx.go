package worker

import (
	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
)

// maxSeenTx represents the number of transaction ids remembered so an
// announcement coming back from another peer is not relayed again. Once
// full, the oldest ids are forgotten first.
const maxSeenTx = 4096

// seenSet is a bounded set of ids.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(size int) *seenSet {
	return &seenSet{
		ids:   make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// add records the id and reports whether it is new.
func (s *seenSet) add(id string) bool {
	if _, exists := s.ids[id]; exists {
		return false
	}

	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % len(s.order)
	s.ids[id] = struct{}{}

	return true
}

// =============================================================================

// relayTransaction adds an announced transaction to the mempool and shares
// the announcement with the other peers.
func (w *Worker) relayTransaction(from string, id string) {
	if id == "" || !w.seenTx.add(id) {
		return
	}

	w.state.UpsertMempool(id)

	w.evHandler("worker: relayTransaction: tx[%s] from %s: mempool[%d]", id, from, w.state.MempoolLength())
	w.broadcast(channel.AnnounceTransaction{Except: from, ID: id})
}
