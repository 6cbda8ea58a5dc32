// Package miner implements the mining actor. It builds candidate blocks on
// top of the tip, performs the proof of work and hands every solved block to
// the coordinator. It never talks to peers.
package miner

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
)

// maxTxPerBlock represents the number of mempool transaction ids a mined
// block carries.
const maxTxPerBlock = 256

// EventHandler defines a function that is called when events
// occur in the processing of the miner.
type EventHandler func(v string, args ...any)

// Config represents the configuration of the miner.
type Config struct {
	State     *state.State
	Proposer  database.Proposer
	Key       *ecdsa.PrivateKey
	Commands  <-chan channel.MinerCommand
	Found     chan<- channel.NewBlockFound
	EvHandler EventHandler
	Enabled   bool
	Data      string
}

// Miner manages the mining goroutine.
type Miner struct {
	cfg  Config
	wg   sync.WaitGroup
	shut chan struct{}
}

// result is what a proof of work goroutine produced. Results of a
// generation other than the current one are stale.
type result struct {
	gen   uint64
	block database.Block
	err   error
}

// Run starts the miner and returns once it is running.
func Run(cfg Config) *Miner {
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	m := Miner{
		cfg:  cfg,
		shut: make(chan struct{}),
	}

	hasStarted := make(chan bool)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		hasStarted <- true
		m.operations()
	}()

	<-hasStarted

	return &m
}

// Shutdown stops any mining in progress and waits for the miner to
// terminate.
func (m *Miner) Shutdown() {
	m.cfg.EvHandler("miner: shutdown: started")
	defer m.cfg.EvHandler("miner: shutdown: completed")

	close(m.shut)
	m.wg.Wait()
}

// =============================================================================

// loop is the state the mining goroutine keeps between commands.
type loop struct {
	enabled bool
	paused  bool
	waiting bool
	tip     database.Block
	gen     uint64
	cancel  context.CancelFunc
}

func (m *Miner) operations() {
	m.cfg.EvHandler("miner: operations: G started")
	defer m.cfg.EvHandler("miner: operations: G completed")

	results := make(chan result, 1)

	l := loop{
		enabled: m.cfg.Enabled,
		paused:  m.cfg.State.IsSyncing(),
		tip:     m.cfg.State.RetrieveLatestBlock(),
	}
	m.start(&l, results)

	for {
		select {
		case cmd := <-m.cfg.Commands:
			m.handle(&l, cmd, results)

		case r := <-results:
			if r.gen != l.gen {
				continue
			}
			l.cancel = nil

			if r.err != nil {
				if !errors.Is(r.err, context.Canceled) {
					m.cfg.EvHandler("miner: operations: ERROR: %s", r.err)
				}
				continue
			}

			m.cfg.EvHandler("miner: operations: found blk[%d]: %s", r.block.Header.Height, r.block.Hash())
			l.waiting = true

			select {
			case m.cfg.Found <- channel.NewBlockFound{Block: r.block}:
			case <-m.shut:
				return
			}

		case <-m.shut:
			m.stop(&l)
			return
		}
	}
}

func (m *Miner) handle(l *loop, cmd channel.MinerCommand, results chan result) {
	switch c := cmd.(type) {
	case channel.NewTip:
		l.tip = c.Block
		if l.waiting {
			return
		}
		m.stop(l)

	case channel.ReadyToMineNextBlock:
		l.waiting = false
		l.tip = m.cfg.State.RetrieveLatestBlock()

	case channel.PauseMining:
		l.paused = true
		m.stop(l)

	case channel.ResumeMining:
		l.paused = false
		l.tip = m.cfg.State.RetrieveLatestBlock()

	case channel.EnableMining:
		l.enabled = true

	case channel.DisableMining:
		l.enabled = false
		m.stop(l)
	}

	m.start(l, results)
}

// start launches a proof of work goroutine on the tip unless one is running
// or mining is not allowed right now.
func (m *Miner) start(l *loop, results chan result) {
	if !l.enabled || l.paused || l.waiting || l.cancel != nil {
		return
	}

	var ctx context.Context
	ctx, l.cancel = context.WithCancel(context.Background())
	l.gen++

	gen := l.gen
	tip := l.tip

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		body := database.BlockBody{
			TxIDs: m.cfg.State.PickMempool(maxTxPerBlock),
			Data:  m.cfg.Data,
		}

		b := m.cfg.Proposer.Propose(tip, body)
		err := b.Mine(ctx, m.cfg.Key, database.EventHandler(m.cfg.EvHandler))

		select {
		case results <- result{gen: gen, block: b, err: err}:
		case <-m.shut:
		}
	}()
}

// stop cancels the running proof of work, its result becomes stale.
func (m *Miner) stop(l *loop) {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.gen++
}
