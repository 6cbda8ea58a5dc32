// Package worker implements the coordinator of the node. A single goroutine
// consumes the events of every peer connection, the blocks of the miner and
// the commands of the RPC server, and is the only writer of the chain.
package worker

import (
	"sync"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/metrics"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/events"
)

// defDiscoveryInterval represents the interval of finding new peer nodes
// and checking whether a peer has a heavier chain.
const defDiscoveryInterval = time.Minute

// defSyncTimeout is used when the state carries no sync timeout. An episode
// peer that delivers no block for twice the timeout is given up on.
const defSyncTimeout = 10 * time.Second

// Dialer opens outbound connections in the background.
type Dialer interface {
	Connect(addr string)
}

// Config represents the collaborators of the coordinator.
type Config struct {
	State             *state.State
	Writer            *state.ChainWriter
	Network           Dialer
	Commands          *events.Events[channel.Command]
	Events            <-chan channel.PeerEvent
	MinerCommands     chan<- channel.MinerCommand
	MinerFound        <-chan channel.NewBlockFound
	RPC               <-chan channel.RPCRequest
	Validator         database.Validator
	EvHandler         state.EventHandler
	Fatal             chan<- error
	DiscoveryInterval time.Duration
	Metrics           *metrics.Metrics
}

// =============================================================================

// Worker manages the coordinator goroutine.
type Worker struct {
	cfg       Config
	state     *state.State
	writer    *state.ChainWriter
	wg        sync.WaitGroup
	ticker    *time.Ticker
	syncTick  *time.Ticker
	shut      chan struct{}
	evHandler state.EventHandler

	halted         bool
	sync           *episode
	episodeTimeout time.Duration
	orphans        map[string]orphan
	dialing        map[string]time.Time
	queue          []string
	seenTx         *seenSet
}

// Run creates a worker, dials the seed peers and starts the coordinator
// goroutine.
func Run(cfg Config) *Worker {
	if cfg.DiscoveryInterval == 0 {
		cfg.DiscoveryInterval = defDiscoveryInterval
	}
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	syncTimeout := cfg.State.RetrieveConfig().SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defSyncTimeout
	}

	w := Worker{
		cfg:            cfg,
		state:          cfg.State,
		writer:         cfg.Writer,
		ticker:         time.NewTicker(cfg.DiscoveryInterval),
		syncTick:       time.NewTicker(episodeCheck(syncTimeout)),
		shut:           make(chan struct{}),
		evHandler:      cfg.EvHandler,
		episodeTimeout: 2 * syncTimeout,
		orphans:        make(map[string]orphan),
		dialing:        make(map[string]time.Time),
		seenTx:         newSeenSet(maxSeenTx),
	}

	tip := w.state.RetrieveLatestBlock()
	w.cfg.Metrics.SetTip(tip.Header.Height, tip.Header.AccumulatedWork)

	if w.state.RetrieveConfig().Mine {
		w.writer.SetMining(true)
	}

	// We don't want to return until we know the G is up and running.
	hasStarted := make(chan bool)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		hasStarted <- true
		w.operations()
	}()

	<-hasStarted

	return &w
}

// Shutdown terminates the coordinator goroutine.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.ticker.Stop()
	w.syncTick.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// operations is the coordinator loop. Everything that changes the chain
// happens on this goroutine.
func (w *Worker) operations() {
	w.evHandler("worker: operations: G started")
	defer w.evHandler("worker: operations: G completed")

	w.dialSeeds()

	for {
		select {
		case ev := <-w.cfg.Events:
			if !w.isShutdown() {
				w.handleEvent(ev)
			}

		case nbf := <-w.cfg.MinerFound:
			if !w.isShutdown() {
				w.handleMinedBlock(nbf.Block)
			}

		case req := <-w.cfg.RPC:
			req.Reply <- w.handleRPC(req.Command)

		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runDiscovery()
			}

		case now := <-w.syncTick.C:
			if !w.isShutdown() {
				w.checkEpisode(now)
			}

		case <-w.shut:
			w.evHandler("worker: operations: received shut signal")
			return
		}
	}
}

func (w *Worker) handleEvent(ev channel.PeerEvent) {
	switch e := ev.(type) {
	case channel.PeerConnected:
		w.peerConnected(e.Peer)

	case channel.PeerDisconnected:
		w.peerDisconnected(e)

	case channel.BlockAnnounced:
		w.peerAnnounced(e)

	case channel.BlockReceived:
		w.handleBlock(e.From, e.Block)

	case channel.PeerListReceived:
		w.peerListReceived(e)

	case channel.TransactionAnnounced:
		w.relayTransaction(e.From, e.ID)

	case channel.ProtocolViolation:
		w.penalize(e.From, violationPenalty, "violation", e.Err.Error())

	case channel.SyncTimeout:
		w.syncTimeout(e)
	}
}

// =============================================================================

// broadcast sends the command to every peer connection and returns the ids
// of the connections that had no room for it.
func (w *Worker) broadcast(cmd channel.Command) []string {
	dropped := w.cfg.Commands.Send(cmd)
	if len(dropped) > 0 {
		w.evHandler("worker: broadcast: %T: dropped for conns %v", cmd, dropped)
	}

	return dropped
}

// signalMiner delivers a command to the miner if there is one.
func (w *Worker) signalMiner(cmd channel.MinerCommand) {
	if w.cfg.MinerCommands == nil {
		return
	}

	select {
	case w.cfg.MinerCommands <- cmd:
	case <-w.shut:
	}
}

// halt stops every chain mutation after a storage failure and reports the
// failure to the process.
func (w *Worker) halt(err error) {
	w.halted = true
	w.evHandler("worker: halt: ERROR: storage failure, chain is read only: %s", err)

	if w.cfg.Fatal == nil {
		return
	}

	select {
	case w.cfg.Fatal <- err:
	default:
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// episodeCheck is how often a running episode is checked for a stalled peer.
func episodeCheck(timeout time.Duration) time.Duration {
	d := timeout / 4
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}
	return d
}
