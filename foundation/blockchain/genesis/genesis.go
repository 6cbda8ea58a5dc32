// Package genesis maintains access to the genesis block of a network.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/signature"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date       time.Time `json:"date"`
	Network    string    `json:"network"`    // Name of the network, peers on other networks are refused.
	Difficulty uint      `json:"difficulty"` // How difficult it needs to be to solve the work problem.
	Data       string    `json:"data"`       // Free form payload of the genesis block.
}

// Default returns the genesis for the named network.
func Default(network string) Genesis {
	return Genesis{
		Date:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network:    network,
		Difficulty: 4,
		Data:       "genesis " + network,
	}
}

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis file: %w", err)
	}

	if genesis.Difficulty > database.MaxDifficulty {
		return Genesis{}, fmt.Errorf("genesis difficulty %d exceeds %d", genesis.Difficulty, database.MaxDifficulty)
	}

	return genesis, nil
}

// Block returns the genesis block. Every node of the network produces the
// same block from the same genesis.
func (g Genesis) Block() database.Block {
	body := database.BlockBody{
		Data: g.Data,
	}

	return database.Block{
		Header: database.BlockHeader{
			Height:          0,
			PrevBlockHash:   signature.ZeroHash,
			TimeStamp:       uint64(g.Date.UnixMilli()),
			Difficulty:      g.Difficulty,
			AccumulatedWork: database.Work(g.Difficulty),
			BodyRoot:        body.Root(),
		},
		Body: body,
	}
}

// Validator returns the block validator of the network. Blocks below the
// difficulty of the genesis are rejected.
func (g Genesis) Validator(ev database.EventHandler) database.POWValidator {
	return database.POWValidator{
		MinDifficulty: g.Difficulty,
		EvHandler:     ev,
	}
}
