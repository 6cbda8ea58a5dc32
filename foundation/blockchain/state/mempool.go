package state

// UpsertMempool adds an announced transaction id to the mempool and reports
// whether it was new.
func (s *State) UpsertMempool(id string) bool {
	return s.mempool.Upsert(id)
}

// RemoveMempool removes the ids a canonical block included.
func (s *State) RemoveMempool(ids ...string) {
	s.mempool.Delete(ids...)
}

// MempoolLength returns the number of transaction ids waiting for a block.
func (s *State) MempoolLength() int {
	return s.mempool.Count()
}

// PickMempool returns the oldest transaction ids for the next block.
func (s *State) PickMempool(howMany int) []string {
	return s.mempool.PickBest(howMany)
}
