package database

import "time"

// Proposer assembles the next candidate block on top of the tip. The
// candidate still needs its proof of work.
type Proposer interface {
	Propose(tip Block, body BlockBody) Block
}

// DefaultProposer builds candidates at a fixed difficulty.
type DefaultProposer struct {
	Difficulty uint
}

// Propose constructs the next block for the specified tip.
func (p DefaultProposer) Propose(tip Block, body BlockBody) Block {
	// A timestamp before the parent would be rejected, so follow the parent
	// when the local clock is behind.
	ts := uint64(time.Now().UTC().UnixMilli())
	if ts < tip.Header.TimeStamp {
		ts = tip.Header.TimeStamp
	}

	return Block{
		Header: BlockHeader{
			Height:          tip.Header.Height + 1,
			PrevBlockHash:   tip.Hash(),
			TimeStamp:       ts,
			Difficulty:      p.Difficulty,
			AccumulatedWork: tip.Header.AccumulatedWork + Work(p.Difficulty),
			BodyRoot:        body.Root(),
		},
		Body: body,
	}
}
