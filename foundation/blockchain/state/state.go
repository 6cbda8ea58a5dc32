// Package state is the core API for the node. It holds the global state that
// every actor reads: the configuration, the chain, the connected peers and
// their standings, and the syncing flag. Chain state and the syncing flag can
// only be changed through the ChainWriter returned by New.
package state

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/chainnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
)

// Names of the files kept in the data directory.
const (
	chainFile   = "chain.db"
	peersFile   = "peers.db"
	archiveFile = "blocks.dat"
)

// maxMempool represents the number of announced transaction ids kept for
// inclusion in mined blocks.
const maxMempool = 4096

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to start
// the blockchain node. It never changes once the node is running.
type Config struct {
	Network                        string
	DataDir                        string
	ListenAddr                     string
	Peers                          []string
	Mine                           bool
	MaxNumberOfBlocksBeforeSyncing int
	MaxPeers                       int
	MinPeers                       int
	BanThreshold                   int
	Difficulty                     uint
	SyncTimeout                    time.Duration
	Genesis                        genesis.Genesis
	EvHandler                      EventHandler
}

// State manages the global state of the node.
type State struct {
	cfg        Config
	instanceID uint64
	evHandler  EventHandler

	light    lightState
	archival *archival

	peers     *peer.Map
	standings *peer.Standings
	mempool   *mempool.Mempool

	syncing atomic.Bool
	mining  atomic.Bool
}

// lightState keeps the tip of the canonical chain in memory.
type lightState struct {
	mu  sync.RWMutex
	tip database.Block
}

func (ls *lightState) get() database.Block {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	return ls.tip
}

func (ls *lightState) set(b database.Block) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.tip = b
}

// New constructs the global state, opening or creating the stores in the
// data directory. The ChainWriter must only be handed to the coordinator.
func New(cfg Config) (*State, *ChainWriter, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Genesis.Network == "" {
		cfg.Genesis = genesis.Default(cfg.Network)
	}
	if cfg.Genesis.Network != cfg.Network {
		return nil, nil, fmt.Errorf("genesis is for network %q, node runs on %q", cfg.Genesis.Network, cfg.Network)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}

	instanceID, err := newInstanceID()
	if err != nil {
		return nil, nil, err
	}

	arch, tip, err := openArchival(filepath.Join(cfg.DataDir, chainFile), filepath.Join(cfg.DataDir, archiveFile), cfg.Genesis.Block(), ev)
	if err != nil {
		return nil, nil, err
	}

	standings, err := peer.OpenStandings(filepath.Join(cfg.DataDir, peersFile), cfg.BanThreshold)
	if err != nil {
		arch.close()
		return nil, nil, err
	}

	s := State{
		cfg:        cfg,
		instanceID: instanceID,
		evHandler:  ev,
		archival:   arch,
		peers:      peer.NewMap(),
		standings:  standings,
		mempool:    mempool.New(maxMempool),
	}
	s.light.set(tip)
	s.mining.Store(cfg.Mine)

	ev("state: New: tip: blk[%d]: hash[%s]: work[%d]", tip.Header.Height, tip.Hash(), tip.Header.AccumulatedWork)

	return &s, &ChainWriter{s: &s}, nil
}

// Shutdown cleanly releases the stores of the node.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	errArch := s.archival.close()
	errStd := s.standings.Close()

	switch {
	case errArch != nil:
		return errArch
	case errStd != nil:
		return errStd
	}

	return nil
}

// newInstanceID generates the random id this run of the node announces in
// its handshakes.
func newInstanceID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generating instance id: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
