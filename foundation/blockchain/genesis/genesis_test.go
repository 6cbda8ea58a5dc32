package genesis_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/genesis"
	"github.com/ethereum/go-ethereum/crypto"
)

func Test_Genesis(t *testing.T) {
	b1 := genesis.Default("main").Block()
	b2 := genesis.Default("main").Block()

	if b1.Hash() != b2.Hash() {
		t.Logf("got: %s", b1.Hash())
		t.Logf("exp: %s", b2.Hash())
		t.Fatalf("Should get the same genesis block twice.")
	}

	if other := genesis.Default("test").Block(); other.Hash() == b1.Hash() {
		t.Fatalf("Should get a different genesis block for a different network.")
	}

	if b1.Header.Height != 0 {
		t.Fatalf("Should get a genesis block at height 0, got %d.", b1.Header.Height)
	}
}

func Test_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")

	doc := `{"date":"2024-01-01T00:00:00Z","network":"lab","difficulty":2,"data":"hello"}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("Should be able to write the genesis file: %s", err)
	}

	gen, err := genesis.Load(path)
	if err != nil {
		t.Fatalf("Should be able to load the genesis file: %s", err)
	}

	if gen.Network != "lab" || gen.Difficulty != 2 {
		t.Logf("got: %+v", gen)
		t.Fatalf("Should get back the values from the file.")
	}

	bad := `{"network":"lab","difficulty":99}`
	if err := os.WriteFile(path, []byte(bad), 0600); err != nil {
		t.Fatalf("Should be able to write the genesis file: %s", err)
	}

	if _, err := genesis.Load(path); err == nil {
		t.Fatalf("Should not load a genesis with an impossible difficulty.")
	}
}

func Test_Validator(t *testing.T) {
	gen := genesis.Default("main")
	gen.Difficulty = 2
	parent := gen.Block()

	key, err := crypto.HexToECDSA("8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0")
	if err != nil {
		t.Fatalf("Should be able to load the key: %s", err)
	}

	mine := func(difficulty uint) database.Block {
		b := database.DefaultProposer{Difficulty: difficulty}.Propose(parent, database.BlockBody{Data: "floor"})
		if err := b.Mine(context.Background(), key, nil); err != nil {
			t.Fatalf("Should be able to mine a block: %s", err)
		}
		return b
	}

	v := gen.Validator(nil)

	if err := v.Validate(mine(0), parent); !errors.Is(err, database.ErrValidation) {
		t.Logf("got: %v", err)
		t.Fatalf("Should reject a block below the difficulty of the genesis.")
	}

	if err := v.Validate(mine(2), parent); err != nil {
		t.Fatalf("Should accept a block at the difficulty of the genesis: %s", err)
	}
}
