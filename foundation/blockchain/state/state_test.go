package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const minerECDSA = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"

func ifErrFailNow(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

func newState(t *testing.T, dir string) (*state.State, *state.ChainWriter) {
	t.Helper()

	s, w, err := state.New(state.Config{
		Network:      "test",
		DataDir:      dir,
		BanThreshold: 100,
		EvHandler:    func(v string, args ...any) { t.Logf(v, args...) },
	})
	ifErrFailNow(t, err)

	return s, w
}

func mine(t *testing.T, parent database.Block, difficulty uint, data string) database.Block {
	t.Helper()

	key, err := crypto.HexToECDSA(minerECDSA)
	ifErrFailNow(t, err)

	b := database.DefaultProposer{Difficulty: difficulty}.Propose(parent, database.BlockBody{Data: data})
	ifErrFailNow(t, b.Mine(context.Background(), key, nil))

	return b
}

// =============================================================================

func Test_ExtendChain(t *testing.T) {
	dir := t.TempDir()

	t.Log("Given the need to extend the chain and keep it across restarts.")
	{
		s, w := newState(t, dir)

		gen := s.RetrieveLatestBlock()
		if gen.Header.Height != 0 || gen.Hash() != s.RetrieveGenesis().Hash() {
			t.Fatalf("\t%s\tShould start with the genesis block as tip.", failed)
		}
		t.Logf("\t%s\tShould start with the genesis block as tip.", success)

		prev := gen
		for i := 0; i < 3; i++ {
			b := mine(t, prev, 1, "main")

			res, err := w.StoreBlock(b)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to store block %d: %v", failed, i+1, err)
			}
			if !res.TipChanged || res.Reorg {
				t.Logf("\t\tgot: %+v", res)
				t.Fatalf("\t%s\tShould extend the tip with block %d.", failed, i+1)
			}

			if work := s.RetrieveLatestBlock().Header.AccumulatedWork; work <= prev.Header.AccumulatedWork {
				t.Fatalf("\t%s\tShould never reduce the accumulated work: %d", failed, work)
			}
			prev = b
		}
		t.Logf("\t%s\tShould extend the tip with every block.", success)

		res, err := w.StoreBlock(prev)
		if err != nil || !res.Known {
			t.Fatalf("\t%s\tShould report an already stored block: %v", failed, err)
		}
		t.Logf("\t%s\tShould report an already stored block.", success)

		orphan := mine(t, prev, 1, "orphan")
		orphan.Header.PrevBlockHash = "0xunknown"
		if _, err := w.StoreBlock(orphan); !errors.Is(err, state.ErrUnknownParent) {
			t.Fatalf("\t%s\tShould refuse a block with an unknown parent: %v", failed, err)
		}
		t.Logf("\t%s\tShould refuse a block with an unknown parent.", success)

		ifErrFailNow(t, s.Shutdown())

		s, _ = newState(t, dir)
		defer s.Shutdown()

		if tip := s.RetrieveLatestBlock(); tip.Hash() != prev.Hash() {
			t.Logf("\t\tgot: %s", tip.Hash())
			t.Logf("\t\texp: %s", prev.Hash())
			t.Fatalf("\t%s\tShould keep the tip across restarts.", failed)
		}

		blocks, err := s.QueryBlocksByHeight(0, 10)
		if err != nil || len(blocks) != 4 {
			t.Fatalf("\t%s\tShould read back the whole chain: %d blocks: %v", failed, len(blocks), err)
		}
		t.Logf("\t%s\tShould keep the chain across restarts.", success)

		if _, err := s.QueryBlockByHeight(99); !errors.Is(err, state.ErrNotFound) {
			t.Fatalf("\t%s\tShould not find a block above the tip: %v", failed, err)
		}
	}
}

func Test_Reorganize(t *testing.T) {
	dir := t.TempDir()

	t.Log("Given the need to switch to a heavier fork of the same length.")
	{
		s, w := newState(t, dir)
		gen := s.RetrieveLatestBlock()

		a1 := mine(t, gen, 1, "a")
		a2 := mine(t, a1, 1, "a")
		b1 := mine(t, gen, 1, "b")
		b2 := mine(t, b1, 2, "b")

		for _, b := range []database.Block{a1, a2} {
			if _, err := w.StoreBlock(b); err != nil {
				t.Fatalf("\t%s\tShould be able to store the main chain: %v", failed, err)
			}
		}

		res, err := w.StoreBlock(b1)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to store a lighter fork block: %v", failed, err)
		}
		if res.TipChanged {
			t.Fatalf("\t%s\tShould not move the tip to a lighter fork.", failed)
		}
		t.Logf("\t%s\tShould keep the tip on the heavier chain.", success)

		res, err = w.StoreBlock(b2)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to store the heavier fork block: %v", failed, err)
		}
		if !res.Reorg || res.Detached != 2 {
			t.Logf("\t\tgot: %+v", res)
			t.Fatalf("\t%s\tShould reorganize away from two blocks.", failed)
		}
		t.Logf("\t%s\tShould reorganize to the heavier fork.", success)

		for h, exp := range []database.Block{gen, b1, b2} {
			b, err := s.QueryBlockByHeight(uint64(h))
			if err != nil {
				t.Fatalf("\t%s\tShould read the canonical block at height %d: %v", failed, h, err)
			}
			if b.Hash() != exp.Hash() {
				t.Fatalf("\t%s\tShould have the fork block canonical at height %d.", failed, h)
			}
		}
		t.Logf("\t%s\tShould have the fork chain canonical.", success)

		for _, b := range []database.Block{a1, a2, b1, b2} {
			entry, err := s.QueryIndex(b.Hash())
			if err != nil {
				t.Fatalf("\t%s\tShould keep an index entry for every block: %v", failed, err)
			}
			if entry.Height != b.Header.Height {
				t.Fatalf("\t%s\tShould have the right height in the index entry.", failed)
			}
		}
		t.Logf("\t%s\tShould keep one index entry per block.", success)

		ifErrFailNow(t, s.Shutdown())

		s, _ = newState(t, dir)
		defer s.Shutdown()

		if tip := s.RetrieveLatestBlock(); tip.Hash() != b2.Hash() {
			t.Fatalf("\t%s\tShould keep the reorganized tip across restarts.", failed)
		}
		t.Logf("\t%s\tShould keep the reorganized tip across restarts.", success)
	}
}

func Test_Flags(t *testing.T) {
	s, w := newState(t, t.TempDir())
	defer s.Shutdown()

	if s.IsSyncing() {
		t.Fatalf("Should not be syncing at start.")
	}
	if !w.SetSyncing(true) || !s.IsSyncing() {
		t.Fatalf("Should be able to turn syncing on.")
	}
	if w.SetSyncing(true) {
		t.Fatalf("Should not report a change when syncing is already on.")
	}
	if !w.SetSyncing(false) || s.IsSyncing() {
		t.Fatalf("Should be able to turn syncing off.")
	}
}

func Test_AdmitPeer(t *testing.T) {
	s, _ := newState(t, t.TempDir())
	defer s.Shutdown()

	rec := peer.Record{Address: "10.1.1.1:9080", ConnID: "c1", InstanceID: 7}
	if err := s.AdmitPeer(rec); err != nil {
		t.Fatalf("Should admit a new peer: %s", err)
	}

	if _, err := s.BanPeer("10.1.1.2", "test"); err != nil {
		t.Fatalf("Should be able to ban a peer: %s", err)
	}

	banned := peer.Record{Address: "10.1.1.2:9080", ConnID: "c2", InstanceID: 8}
	if err := s.AdmitPeer(banned); !errors.Is(err, peer.ErrBanned) {
		t.Fatalf("Should refuse a banned peer: %v", err)
	}

	if s.PeerCount() != 1 {
		t.Fatalf("Should have one peer, got %d.", s.PeerCount())
	}

	if err := s.ClearStanding(""); err != nil {
		t.Fatalf("Should be able to clear the standings: %s", err)
	}
	if err := s.AdmitPeer(banned); err != nil {
		t.Fatalf("Should admit the peer once the standing is cleared: %s", err)
	}
}

func Test_WrongGenesis(t *testing.T) {
	dir := t.TempDir()

	s, _ := newState(t, dir)
	ifErrFailNow(t, s.Shutdown())

	_, _, err := state.New(state.Config{
		Network: "other",
		DataDir: dir,
	})
	if err == nil {
		t.Fatalf("Should refuse a data dir of another network.")
	}
}
