package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
)

// ErrNotFound is returned when a block is not stored.
var ErrNotFound = errors.New("block not found")

// RetrieveConfig returns a copy of the configuration.
func (s *State) RetrieveConfig() Config {
	cfg := s.cfg
	cfg.Peers = append([]string(nil), s.cfg.Peers...)
	return cfg
}

// RetrieveInstanceID returns the id of this run of the node.
func (s *State) RetrieveInstanceID() uint64 {
	return s.instanceID
}

// RetrieveLatestBlock returns a copy the current tip.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.light.get()
}

// RetrieveGenesis returns the genesis block.
func (s *State) RetrieveGenesis() database.Block {
	return s.cfg.Genesis.Block()
}

// IsSyncing reports whether a synchronization episode is running.
func (s *State) IsSyncing() bool {
	return s.syncing.Load()
}

// IsMining reports whether mining is turned on.
func (s *State) IsMining() bool {
	return s.mining.Load()
}

// HasBlock reports whether the block is stored, canonical or not.
func (s *State) HasBlock(hash string) bool {
	_, err := s.archival.index(hash)
	return err == nil
}

// QueryIndex returns the index entry of a stored block.
func (s *State) QueryIndex(hash string) (IndexEntry, error) {
	entry, err := s.archival.index(hash)
	if err != nil {
		return IndexEntry{}, notFound(err, hash)
	}
	return entry, nil
}

// QueryBlockByHash returns a stored block, canonical or not.
func (s *State) QueryBlockByHash(hash string) (database.Block, error) {
	b, err := s.archival.block(hash)
	if err != nil {
		return database.Block{}, notFound(err, hash)
	}
	return b, nil
}

// QueryBlockByHeight returns the canonical block at the height.
func (s *State) QueryBlockByHeight(height uint64) (database.Block, error) {
	hash, err := s.archival.canonical(height)
	if err != nil {
		return database.Block{}, notFound(err, fmt.Sprintf("height %d", height))
	}
	return s.QueryBlockByHash(hash)
}

// QueryBlocksByHeight returns the canonical blocks in the range of heights.
func (s *State) QueryBlocksByHeight(from uint64, to uint64) ([]database.Block, error) {
	if tip := s.light.get().Header.Height; to > tip {
		to = tip
	}

	var blocks []database.Block
	for h := from; h <= to; h++ {
		b, err := s.QueryBlockByHeight(h)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}

	return blocks, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
