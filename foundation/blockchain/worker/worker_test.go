package worker_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/p2p"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
	"github.com/ardanlabs/chainnode/foundation/blockchain/wire"
	"github.com/ardanlabs/chainnode/foundation/blockchain/worker"
	"github.com/ardanlabs/chainnode/foundation/events"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const minerECDSA = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"

// logbook keeps the events of a node so tests can look for them.
type logbook struct {
	mu    sync.Mutex
	lines []string
}

func (lb *logbook) count(substr string) int {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	var n int
	for _, line := range lb.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

type node struct {
	name   string
	state  *state.State
	writer *state.ChainWriter
	net    *p2p.Network
	cmds   *events.Events[channel.Command]
	found  chan channel.NewBlockFound
	rpc    chan channel.RPCRequest
	fatal  chan error
	log    *logbook
}

type nodeConfig struct {
	maxBlocksBeforeSyncing int
	maxPeers               int
	discovery              time.Duration
}

func newNode(t *testing.T, name string, nc nodeConfig) *node {
	t.Helper()

	nd := node{
		name:  name,
		found: make(chan channel.NewBlockFound, 1),
		rpc:   make(chan channel.RPCRequest),
		fatal: make(chan error, 1),
		log:   &logbook{},
	}

	maxPeers := nc.maxPeers
	if maxPeers == 0 {
		maxPeers = 8
	}

	var done bool
	var doneMu sync.Mutex

	ev := func(v string, args ...any) {
		line := name + ": " + fmt.Sprintf(v, args...)

		nd.log.mu.Lock()
		nd.log.lines = append(nd.log.lines, line)
		nd.log.mu.Unlock()

		doneMu.Lock()
		defer doneMu.Unlock()
		if !done {
			t.Log(line)
		}
	}

	st, w, err := state.New(state.Config{
		Network:                        "test",
		DataDir:                        t.TempDir(),
		MaxNumberOfBlocksBeforeSyncing: nc.maxBlocksBeforeSyncing,
		MaxPeers:                       maxPeers,
		BanThreshold:                   100,
		Mine:                           true,
		EvHandler:                      ev,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %s", err)
	}
	nd.state = st
	nd.writer = w

	peerEvents := make(chan channel.PeerEvent, 64)
	cmds := events.New[channel.Command](0)
	nd.cmds = cmds

	nd.net = p2p.New(p2p.Config{
		State:          st,
		Events:         peerEvents,
		Commands:       cmds,
		EvHandler:      ev,
		RequestTimeout: time.Second,
	})
	if err := nd.net.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Should be able to listen: %s", err)
	}

	discovery := nc.discovery
	if discovery == 0 {
		discovery = time.Hour
	}

	wk := worker.Run(worker.Config{
		State:             st,
		Writer:            w,
		Network:           nd.net,
		Commands:          cmds,
		Events:            peerEvents,
		MinerFound:        nd.found,
		RPC:               nd.rpc,
		Validator:         database.POWValidator{},
		EvHandler:         ev,
		Fatal:             nd.fatal,
		DiscoveryInterval: discovery,
	})

	t.Cleanup(func() {
		wk.Shutdown()
		nd.net.Shutdown()
		cmds.Shutdown()
		st.Shutdown()

		doneMu.Lock()
		done = true
		doneMu.Unlock()
	})

	return &nd
}

// mine extends the chain of the node directly, as the miner would.
func mine(t *testing.T, parent database.Block, data string) database.Block {
	t.Helper()

	return mineBody(t, parent, database.BlockBody{Data: data})
}

func mineBody(t *testing.T, parent database.Block, body database.BlockBody) database.Block {
	t.Helper()

	key, err := crypto.HexToECDSA(minerECDSA)
	if err != nil {
		t.Fatalf("Should be able to load the key: %s", err)
	}

	b := database.DefaultProposer{Difficulty: 1}.Propose(parent, body)
	if err := b.Mine(context.Background(), key, nil); err != nil {
		t.Fatalf("Should be able to mine a block: %s", err)
	}

	return b
}

func eventually(t *testing.T, what string, fn func() bool) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			t.Logf("\t%s\tShould %s.", success, what)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("\t%s\tShould %s.", failed, what)
}

func command(t *testing.T, nd *node, cmd channel.RPCCommand) error {
	t.Helper()

	req := channel.NewRPCRequest(cmd)
	select {
	case nd.rpc <- req:
	case <-time.After(5 * time.Second):
		t.Fatalf("\t%s\tShould deliver the command.", failed)
	}

	return <-req.Reply
}

// =============================================================================

func Test_RelayABC(t *testing.T) {
	a := newNode(t, "A", nodeConfig{maxPeers: 1})
	b := newNode(t, "B", nodeConfig{})
	c := newNode(t, "C", nodeConfig{maxPeers: 1})

	t.Log("Given the need to relay a mined block from A to C through B.")
	{
		if err := command(t, a, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect A to B: %s", failed, err)
		}
		if err := command(t, c, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect C to B: %s", failed, err)
		}

		eventually(t, "connect B to A and C", func() bool {
			return b.state.PeerCount() == 2 && a.state.PeerCount() == 1 && c.state.PeerCount() == 1
		})

		blk := mine(t, a.state.RetrieveLatestBlock(), "relay")
		a.found <- channel.NewBlockFound{Block: blk}

		eventually(t, "store the block on A", func() bool {
			return a.state.RetrieveLatestBlock().Hash() == blk.Hash()
		})
		eventually(t, "relay the block to B", func() bool {
			return b.state.RetrieveLatestBlock().Hash() == blk.Hash()
		})
		eventually(t, "relay the block to C", func() bool {
			return c.state.RetrieveLatestBlock().Hash() == blk.Hash()
		})

		if c.log.count("sync: started") != 0 {
			t.Fatalf("\t%s\tShould relay a single block without syncing.", failed)
		}
		t.Logf("\t%s\tShould relay a single block without syncing.", success)
	}
}

func Test_TransactionRelay(t *testing.T) {
	a := newNode(t, "A", nodeConfig{maxPeers: 1})
	b := newNode(t, "B", nodeConfig{})
	c := newNode(t, "C", nodeConfig{maxPeers: 1})

	t.Log("Given the need to relay transaction ids into the mempools.")
	{
		if err := command(t, a, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect A to B: %s", failed, err)
		}
		if err := command(t, c, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect C to B: %s", failed, err)
		}

		eventually(t, "connect B to A and C", func() bool {
			return b.state.PeerCount() == 2 && a.state.PeerCount() == 1 && c.state.PeerCount() == 1
		})

		a.cmds.Send(channel.AnnounceTransaction{ID: "tx1"})
		a.cmds.Send(channel.AnnounceTransaction{ID: "tx1"})

		eventually(t, "add the transaction to the mempool of B", func() bool {
			return b.state.MempoolLength() == 1
		})
		eventually(t, "relay the transaction to C", func() bool {
			return c.state.MempoolLength() == 1
		})

		if n := b.log.count("relayTransaction: tx[tx1]"); n != 1 {
			t.Fatalf("\t%s\tShould relay a transaction once: got %d", failed, n)
		}
		t.Logf("\t%s\tShould relay a transaction once.", success)

		blk := mineBody(t, b.state.RetrieveLatestBlock(), database.BlockBody{TxIDs: b.state.PickMempool(-1), Data: "txs"})
		b.found <- channel.NewBlockFound{Block: blk}

		eventually(t, "empty the mempool of B once the block is stored", func() bool {
			return b.state.MempoolLength() == 0
		})
		eventually(t, "empty the mempool of C once the block is relayed", func() bool {
			return c.state.MempoolLength() == 0
		})
	}
}

func Test_SyncEpisodes(t *testing.T) {
	a := newNode(t, "A", nodeConfig{})
	b := newNode(t, "B", nodeConfig{maxBlocksBeforeSyncing: 2, discovery: 200 * time.Millisecond})

	tip := a.state.RetrieveLatestBlock()
	for i := 0; i < 5; i++ {
		blk := mine(t, tip, "sync")
		if _, err := a.writer.StoreBlock(blk); err != nil {
			t.Fatalf("Should be able to store block %d: %s", i+1, err)
		}
		tip = blk
	}

	t.Log("Given the need to catch up with a heavier peer in bounded episodes.")
	{
		if b.state.IsSyncing() {
			t.Fatalf("\t%s\tShould not be syncing before connecting.", failed)
		}

		if err := command(t, b, channel.ConnectPeer{Address: a.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect B to A: %s", failed, err)
		}

		eventually(t, "catch up with the heavier peer", func() bool {
			return b.state.RetrieveLatestBlock().Hash() == tip.Hash()
		})
		eventually(t, "leave the syncing mode", func() bool {
			return !b.state.IsSyncing()
		})

		if n := b.log.count("sync: started"); n < 3 {
			t.Logf("\t\tgot: %d", n)
			t.Logf("\t\texp: >= %d", 3)
			t.Fatalf("\t%s\tShould need several episodes of at most 2 blocks.", failed)
		}
		t.Logf("\t%s\tShould need several episodes of at most 2 blocks.", success)

		if b.log.count("sync: started") != b.log.count("sync: completed") {
			t.Fatalf("\t%s\tShould complete every episode it started.", failed)
		}
		t.Logf("\t%s\tShould complete every episode it started.", success)

		for h := uint64(0); h <= tip.Header.Height; h++ {
			ba, _ := a.state.QueryBlockByHeight(h)
			bb, err := b.state.QueryBlockByHeight(h)
			if err != nil || ba.Hash() != bb.Hash() {
				t.Fatalf("\t%s\tShould have the same block at height %d.", failed, h)
			}
		}
		t.Logf("\t%s\tShould have the same canonical chain.", success)
	}
}

func Test_ReorgAcrossPeers(t *testing.T) {
	a := newNode(t, "A", nodeConfig{})
	b := newNode(t, "B", nodeConfig{})

	t.Log("Given the need to switch to a heavier fork announced by a peer.")
	{
		gen := a.state.RetrieveLatestBlock()

		var tipA, tipB database.Block = gen, gen
		for i := 0; i < 3; i++ {
			tipA = mine(t, tipA, "a")
			if _, err := a.writer.StoreBlock(tipA); err != nil {
				t.Fatalf("\t%s\tShould be able to store the chain of A: %s", failed, err)
			}
		}
		for i := 0; i < 2; i++ {
			tipB = mine(t, tipB, "b")
			if _, err := b.writer.StoreBlock(tipB); err != nil {
				t.Fatalf("\t%s\tShould be able to store the chain of B: %s", failed, err)
			}
		}

		if err := command(t, b, channel.ConnectPeer{Address: a.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect B to A: %s", failed, err)
		}

		eventually(t, "reorganize B onto the heavier chain of A", func() bool {
			return b.state.RetrieveLatestBlock().Hash() == tipA.Hash()
		})

		if a.state.RetrieveLatestBlock().Hash() != tipA.Hash() {
			t.Fatalf("\t%s\tShould keep the heavier chain on A.", failed)
		}
		t.Logf("\t%s\tShould keep the heavier chain on A.", success)

		if !b.state.HasBlock(tipB.Hash()) {
			t.Fatalf("\t%s\tShould keep the detached blocks stored.", failed)
		}
		t.Logf("\t%s\tShould keep the detached blocks stored.", success)
	}
}

func Test_ViolationPenalty(t *testing.T) {
	nd := newNode(t, "A", nodeConfig{})

	t.Log("Given the need to penalize a peer sending garbage during the handshake.")
	{
		conn, err := net.Dial("tcp", nd.net.Addr())
		if err != nil {
			t.Fatalf("\t%s\tShould be able to dial the node: %s", failed, err)
		}
		defer conn.Close()

		if _, err := wire.Read(conn); err != nil {
			t.Fatalf("\t%s\tShould receive the handshake: %s", failed, err)
		}
		if _, err := conn.Write([]byte{0, 0, 0, 2, 200, 0}); err != nil {
			t.Fatalf("\t%s\tShould be able to send garbage: %s", failed, err)
		}

		eventually(t, "penalize the peer", func() bool {
			for _, std := range nd.state.RetrieveStandings() {
				if std.IP == "127.0.0.1" && std.Score == 50 && !std.Banned {
					return true
				}
			}
			return false
		})

		if nd.state.PeerCount() != 0 {
			t.Fatalf("\t%s\tShould not keep the peer.", failed)
		}
		t.Logf("\t%s\tShould not keep the peer.", success)

		if err := command(t, nd, channel.BanPeer{IP: "127.0.0.1", Reason: "test"}); err != nil {
			t.Fatalf("\t%s\tShould be able to ban the peer: %s", failed, err)
		}
		if !nd.state.IsBanned("127.0.0.1") {
			t.Fatalf("\t%s\tShould ban the peer.", failed)
		}
		if err := command(t, nd, channel.UnbanPeer{IP: "127.0.0.1"}); err != nil || nd.state.IsBanned("127.0.0.1") {
			t.Fatalf("\t%s\tShould unban the peer: %v", failed, err)
		}
		t.Logf("\t%s\tShould ban and unban the peer on demand.", success)
	}
}

func Test_MiningCommands(t *testing.T) {
	nd := newNode(t, "A", nodeConfig{})

	if err := command(t, nd, channel.StopMining{}); err != nil || nd.state.IsMining() {
		t.Fatalf("Should stop mining: %v", err)
	}

	blk := mine(t, nd.state.RetrieveLatestBlock(), "dropped")
	nd.found <- channel.NewBlockFound{Block: blk}

	eventually(t, "drop the block mined while mining is off", func() bool {
		return nd.log.count("mined block: blk[1] dropped") == 1
	})

	if err := command(t, nd, channel.StartMining{}); err != nil || !nd.state.IsMining() {
		t.Fatalf("Should start mining: %v", err)
	}
	if nd.state.HasBlock(blk.Hash()) {
		t.Fatalf("Should drop blocks mined while mining is off.")
	}

	if err := command(t, nd, channel.ConnectPeer{Address: "nonsense"}); err == nil {
		t.Fatalf("Should refuse an invalid address.")
	}
}

func Test_PeerDiscovery(t *testing.T) {
	a := newNode(t, "A", nodeConfig{})
	b := newNode(t, "B", nodeConfig{})
	c := newNode(t, "C", nodeConfig{discovery: 200 * time.Millisecond})

	t.Log("Given the need to find peers through the peer lists of connected peers.")
	{
		if err := command(t, a, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect A to B: %s", failed, err)
		}
		eventually(t, "connect A and B", func() bool {
			return a.state.PeerCount() == 1 && b.state.PeerCount() == 1
		})

		if err := command(t, c, channel.ConnectPeer{Address: b.net.Addr()}); err != nil {
			t.Fatalf("\t%s\tShould be able to connect C to B: %s", failed, err)
		}

		eventually(t, "dial A from the peer list of B", func() bool {
			return c.state.IsConnected(a.net.Addr()) && a.state.PeerCount() == 2
		})

		if c.state.PeerCount() != 2 {
			t.Fatalf("\t%s\tShould have exactly one entry per peer: got %d", failed, c.state.PeerCount())
		}
		t.Logf("\t%s\tShould have exactly one entry per peer.", success)
	}
}

// =============================================================================

// dialer records the addresses the coordinator dials without connecting.
type dialer struct {
	mu    sync.Mutex
	addrs []string
}

func (d *dialer) Connect(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.addrs = append(d.addrs, addr)
}

func (d *dialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.addrs)
}

// bareNode is a coordinator without a network. Peers are registered in the
// state directly and their connections are the command channels.
type bareNode struct {
	state  *state.State
	writer *state.ChainWriter
	cmds   *events.Events[channel.Command]
	events chan channel.PeerEvent
	rpc    chan channel.RPCRequest
	fatal  chan error
	dialer *dialer
	log    *logbook
	nextID uint64
}

type bareConfig struct {
	cmdBuffer   int
	syncTimeout time.Duration
	discovery   time.Duration
}

func newBareNode(t *testing.T, bc bareConfig) *bareNode {
	t.Helper()

	bn := bareNode{
		events: make(chan channel.PeerEvent, 64),
		rpc:    make(chan channel.RPCRequest),
		fatal:  make(chan error, 1),
		dialer: &dialer{},
		log:    &logbook{},
	}

	var done bool
	var doneMu sync.Mutex

	ev := func(v string, args ...any) {
		line := fmt.Sprintf(v, args...)

		bn.log.mu.Lock()
		bn.log.lines = append(bn.log.lines, line)
		bn.log.mu.Unlock()

		doneMu.Lock()
		defer doneMu.Unlock()
		if !done {
			t.Log(line)
		}
	}

	st, w, err := state.New(state.Config{
		Network:      "test",
		DataDir:      t.TempDir(),
		MaxPeers:     16,
		BanThreshold: 100,
		SyncTimeout:  bc.syncTimeout,
		EvHandler:    ev,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %s", err)
	}
	bn.state = st
	bn.writer = w

	bn.cmds = events.New[channel.Command](bc.cmdBuffer)

	discovery := bc.discovery
	if discovery == 0 {
		discovery = time.Hour
	}

	wk := worker.Run(worker.Config{
		State:             st,
		Writer:            w,
		Network:           bn.dialer,
		Commands:          bn.cmds,
		Events:            bn.events,
		RPC:               bn.rpc,
		Validator:         database.POWValidator{},
		EvHandler:         ev,
		Fatal:             bn.fatal,
		DiscoveryInterval: discovery,
	})

	t.Cleanup(func() {
		wk.Shutdown()
		bn.cmds.Shutdown()
		st.Shutdown()

		doneMu.Lock()
		done = true
		doneMu.Unlock()
	})

	return &bn
}

// register admits a peer advertising the tip and returns its record and
// the channel its connection would read commands from. The coordinator
// learns about the peer once PeerConnected is sent.
func (bn *bareNode) register(t *testing.T, addr string, height uint64, work uint64) (peer.Record, chan channel.Command) {
	t.Helper()

	bn.nextID++
	rec := peer.Record{
		Address:         addr,
		ConnID:          fmt.Sprintf("conn-%d", bn.nextID),
		ListenAddr:      addr,
		InstanceID:      bn.nextID,
		Height:          height,
		TipHash:         fmt.Sprintf("tip-%d", bn.nextID),
		AccumulatedWork: work,
	}

	cmds := bn.cmds.Acquire(rec.ConnID)
	if err := bn.state.AdmitPeer(rec); err != nil {
		t.Fatalf("Should be able to admit peer %s: %s", addr, err)
	}

	return rec, cmds
}

// report delivers an event as a connection would.
func (bn *bareNode) report(ev channel.PeerEvent) {
	select {
	case bn.events <- ev:
	case <-time.After(time.Second):
	}
}

func standing(st *state.State, ip string) peer.Standing {
	for _, std := range st.RetrieveStandings() {
		if std.IP == ip {
			return std
		}
	}
	return peer.Standing{IP: ip}
}

// =============================================================================

func Test_UndeliveredRequest(t *testing.T) {
	t.Log("Given the need to keep syncing alive when block requests get lost.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the connection has no room for the request.", testID)
		{
			bn := newBareNode(t, bareConfig{cmdBuffer: 1})

			rec, cmds := bn.register(t, "10.0.0.1:4000", 5, 1_000_000)
			cmds <- channel.RequestPeerList{Peer: rec.Address}

			bn.report(channel.PeerConnected{Peer: rec})

			eventually(t, "start an episode", func() bool {
				return bn.log.count("sync: started") == 1
			})
			eventually(t, "give up on the peer the request never reached", func() bool {
				return bn.log.count("not delivered") >= 1 && bn.log.count("sync: completed") == 1
			})

			if bn.state.IsSyncing() {
				t.Fatalf("\t%s\tTest %d:\tShould leave the syncing mode.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the syncing mode.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the peer takes the request and never answers.", testID)
		{
			bn := newBareNode(t, bareConfig{syncTimeout: 100 * time.Millisecond})

			rec, cmds := bn.register(t, "10.0.0.2:4000", 5, 1_000_000)

			var mu sync.Mutex
			var requests int
			go func() {
				for cmd := range cmds {
					if _, ok := cmd.(channel.RequestBlockByHeight); ok {
						mu.Lock()
						requests++
						mu.Unlock()
					}
				}
			}()

			bn.report(channel.PeerConnected{Peer: rec})

			eventually(t, "give up on the silent peer", func() bool {
				return bn.log.count("delivered nothing") == 1 && bn.log.count("sync: completed") == 1
			})

			mu.Lock()
			got := requests
			mu.Unlock()
			if got != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould have delivered one block request: got %d", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould have delivered one block request.", success, testID)

			if bn.state.IsSyncing() {
				t.Fatalf("\t%s\tTest %d:\tShould leave the syncing mode.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the syncing mode.", success, testID)

			if std := standing(bn.state, "10.0.0.2"); std.Score != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould penalize the silent peer: score %d", failed, testID, std.Score)
			}
			t.Logf("\t%s\tTest %d:\tShould penalize the silent peer.", success, testID)
		}
	}
}

func Test_SyncFallback(t *testing.T) {
	tt := []struct {
		name  string
		score int
		fail  func(bn *bareNode, rec peer.Record, height uint64)
	}{
		{
			name:  "timeout",
			score: 5,
			fail: func(bn *bareNode, rec peer.Record, height uint64) {
				bn.report(channel.SyncTimeout{From: rec.Address, Height: height})
			},
		},
		{
			name:  "disconnect",
			score: 0,
			fail: func(bn *bareNode, rec peer.Record, height uint64) {
				bn.report(channel.PeerDisconnected{Address: rec.Address, ConnID: rec.ConnID})
			},
		},
	}

	t.Log("Given the need to fall back to the next candidate when the episode peer fails.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen the heaviest peer fails with a %s.", testID, tst.name)
			{
				bn := newBareNode(t, bareConfig{})

				chain := []database.Block{bn.state.RetrieveGenesis()}
				for i := 0; i < 3; i++ {
					chain = append(chain, mine(t, chain[len(chain)-1], "fallback"))
				}
				tip := chain[len(chain)-1]

				silent, silentCmds := bn.register(t, "10.0.0.1:4000", tip.Header.Height+5, tip.Header.AccumulatedWork+1000)
				honest, honestCmds := bn.register(t, "10.0.0.2:4000", tip.Header.Height, tip.Header.AccumulatedWork)

				go func() {
					for cmd := range silentCmds {
						if c, ok := cmd.(channel.RequestBlockByHeight); ok && c.Addressed(silent) {
							tst.fail(bn, silent, c.Height)
						}
					}
				}()

				go func() {
					for cmd := range honestCmds {
						c, ok := cmd.(channel.RequestBlockByHeight)
						if !ok || !c.Addressed(honest) || c.Height >= uint64(len(chain)) {
							continue
						}
						bn.report(channel.BlockReceived{From: honest.Address, Block: chain[c.Height]})
					}
				}()

				bn.report(channel.PeerConnected{Peer: silent})
				bn.report(channel.PeerConnected{Peer: honest})

				eventually(t, "catch up with the next candidate", func() bool {
					return bn.state.RetrieveLatestBlock().Hash() == tip.Hash()
				})
				eventually(t, "leave the syncing mode", func() bool {
					return !bn.state.IsSyncing()
				})

				if n := bn.log.count("sync: started"); n != 1 {
					t.Fatalf("\t%s\tTest %d:\tShould need a single episode: got %d", failed, testID, n)
				}
				t.Logf("\t%s\tTest %d:\tShould need a single episode.", success, testID)

				if std := standing(bn.state, "10.0.0.1"); std.Score != tst.score {
					t.Fatalf("\t%s\tTest %d:\tShould have a score of %d for the failed peer: got %d", failed, testID, tst.score, std.Score)
				}
				t.Logf("\t%s\tTest %d:\tShould have a score of %d for the failed peer.", success, testID, tst.score)
			}
		}
	}
}

func Test_StorageFailure(t *testing.T) {
	bn := newBareNode(t, bareConfig{})

	blk := mine(t, bn.state.RetrieveGenesis(), "failure")
	rec, _ := bn.register(t, "10.0.0.1:4000", blk.Header.Height, blk.Header.AccumulatedWork)

	t.Log("Given the need to stop changing the chain after a storage failure.")
	{
		if err := bn.state.Shutdown(); err != nil {
			t.Fatalf("\t%s\tShould be able to release the storage: %s", failed, err)
		}

		bn.report(channel.BlockReceived{From: rec.Address, Block: blk})

		select {
		case err := <-bn.fatal:
			if !storage.IsIOError(err) {
				t.Fatalf("\t%s\tShould report an I/O error: got %v", failed, err)
			}
			t.Logf("\t%s\tShould report an I/O error on the fatal channel.", success)

		case <-time.After(5 * time.Second):
			t.Fatalf("\t%s\tShould report an I/O error on the fatal channel.", failed)
		}

		bn.report(channel.BlockReceived{From: rec.Address, Block: blk})

		req := channel.NewRPCRequest(channel.StartMining{})
		bn.rpc <- req
		if err := <-req.Reply; !errors.Is(err, worker.ErrHalted) {
			t.Fatalf("\t%s\tShould refuse to mine on a halted chain: got %v", failed, err)
		}
		t.Logf("\t%s\tShould refuse to mine on a halted chain.", success)

		if n := bn.log.count("worker: halt:"); n != 1 {
			t.Fatalf("\t%s\tShould halt once and ignore later blocks: got %d", failed, n)
		}
		t.Logf("\t%s\tShould halt once and ignore later blocks.", success)
	}
}

func Test_DialQueue(t *testing.T) {
	bn := newBareNode(t, bareConfig{discovery: 100 * time.Millisecond})

	var pas []wire.PeerAddress
	for i := 1; i <= 10; i++ {
		pas = append(pas, wire.PeerAddress{ListenAddr: fmt.Sprintf("10.0.1.%d:4000", i), InstanceID: uint64(1000 + i)})
	}

	t.Log("Given the need to hold learned addresses until a dial slot frees up.")
	{
		bn.report(channel.PeerListReceived{From: "10.0.0.1:4000", Peers: pas})

		eventually(t, "dial as many peers as there are dial slots", func() bool {
			return bn.dialer.count() == 8 && bn.log.count("dial: queued") == 2
		})

		bn.report(channel.PeerDisconnected{Dialed: pas[0].ListenAddr})
		eventually(t, "dial a held address once a slot frees up", func() bool {
			return bn.dialer.count() == 9
		})

		bn.report(channel.PeerDisconnected{Dialed: pas[1].ListenAddr})
		eventually(t, "dial the last held address", func() bool {
			return bn.dialer.count() == 10
		})
	}
}

func Test_AnnouncementUpdatesPeer(t *testing.T) {
	bn := newBareNode(t, bareConfig{})

	rec, _ := bn.register(t, "10.0.0.1:4000", 0, 1)

	t.Log("Given the need to record the tip a peer announces.")
	{
		stale := wire.BlockNotification{Height: 7, Hash: "stale", AccumulatedWork: 7_000}
		bn.report(channel.BlockAnnounced{From: rec.Address, ConnID: "conn-old", Notification: stale})

		n := wire.BlockNotification{Height: 1, Hash: "next", AccumulatedWork: 5_000}
		bn.report(channel.BlockAnnounced{From: rec.Address, ConnID: rec.ConnID, Notification: n})

		eventually(t, "record the announced tip", func() bool {
			got, _ := bn.state.QueryPeer(rec.Address)
			return got.Height == 1 && got.TipHash == "next" && got.AccumulatedWork == 5_000
		})

		if bn.log.count("blk[7]") != 0 {
			t.Fatalf("\t%s\tShould ignore the announcement of a replaced connection.", failed)
		}
		t.Logf("\t%s\tShould ignore the announcement of a replaced connection.", success)

		if bn.log.count("requesting blk[1] next") != 1 {
			t.Fatalf("\t%s\tShould request the next block by hash.", failed)
		}
		t.Logf("\t%s\tShould request the next block by hash.", success)
	}
}
