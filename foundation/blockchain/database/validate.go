package database

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is the error every rejected block is wrapped with.
var ErrValidation = errors.New("block validation failed")

// maxFutureDrift is how far ahead of the local clock a block timestamp
// may be.
const maxFutureDrift = 2 * time.Hour

// Validator decides if a block may follow its predecessor.
type Validator interface {
	Validate(block Block, prev Block) error
}

// POWValidator is the default validator. It checks chain linkage, the proof
// of work, the accumulated work accounting and the miner signature.
type POWValidator struct {
	MinDifficulty uint
	EvHandler     EventHandler
	Now           func() time.Time
}

// Validate takes a block and validates it to be included into the chain
// on top of the specified previous block.
func (v POWValidator) Validate(b Block, prev Block) error {
	ev := v.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	ev("database: Validate: blk[%d]: check: block height is the next height", b.Header.Height)

	if b.Header.Height != prev.Header.Height+1 {
		return rejectf("this block is not the next height, got %d, exp %d", b.Header.Height, prev.Header.Height+1)
	}

	ev("database: Validate: blk[%d]: check: parent hash does match parent block", b.Header.Height)

	if prevHash := prev.Hash(); b.Header.PrevBlockHash != prevHash {
		return rejectf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, prevHash)
	}

	ev("database: Validate: blk[%d]: check: block difficulty is in range", b.Header.Height)

	if b.Header.Difficulty < v.MinDifficulty || b.Header.Difficulty > MaxDifficulty {
		return rejectf("block difficulty %d is outside of [%d, %d]", b.Header.Difficulty, v.MinDifficulty, MaxDifficulty)
	}

	ev("database: Validate: blk[%d]: check: block hash has been solved", b.Header.Height)

	if hash := b.Hash(); !isHashSolved(b.Header.Difficulty, hash) {
		return rejectf("%s invalid block hash", hash)
	}

	ev("database: Validate: blk[%d]: check: accumulated work includes this block", b.Header.Height)

	expWork := prev.Header.AccumulatedWork + Work(b.Header.Difficulty)
	if b.Header.AccumulatedWork != expWork {
		return rejectf("accumulated work mismatch, got %d, exp %d", b.Header.AccumulatedWork, expWork)
	}

	ev("database: Validate: blk[%d]: check: block's timestamp is not before parent block's timestamp", b.Header.Height)

	if b.Header.TimeStamp < prev.Header.TimeStamp {
		return rejectf("block timestamp is before parent block, parent %d, block %d", prev.Header.TimeStamp, b.Header.TimeStamp)
	}

	if limit := uint64(now().Add(maxFutureDrift).UnixMilli()); b.Header.TimeStamp > limit {
		return rejectf("block timestamp %d is too far in the future", b.Header.TimeStamp)
	}

	ev("database: Validate: blk[%d]: check: body root does match body", b.Header.Height)

	if root := b.Body.Root(); b.Header.BodyRoot != root {
		return rejectf("body root does not match body, got %s, exp %s", root, b.Header.BodyRoot)
	}

	ev("database: Validate: blk[%d]: check: block is signed by its miner", b.Header.Height)

	signer, err := b.Signer()
	if err != nil {
		return rejectf("unable to recover block signer: %s", err)
	}
	if signer != b.Header.MinerID {
		return rejectf("block signer %s is not the miner %s", signer, b.Header.MinerID)
	}

	return nil
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
