// Package database provides the block model of the chain along with the
// proof of work, validation and block assembly capabilities the node relies on.
package database

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ardanlabs/chainnode/foundation/blockchain/merkle"
	"github.com/ardanlabs/chainnode/foundation/blockchain/signature"
)

// MaxDifficulty is the largest difficulty a block can carry. It keeps the
// accumulated work of a chain within the range of an uint64.
const MaxDifficulty = 10

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Height          uint64 `json:"height"`           // Position of the block in the chain, genesis is 0.
	PrevBlockHash   string `json:"prev_block_hash"`  // Hash of the previous block in the chain.
	TimeStamp       uint64 `json:"timestamp"`        // Time the block was mined in unix milliseconds.
	Nonce           uint64 `json:"nonce"`            // Value identified to solve the hash solution.
	Difficulty      uint   `json:"difficulty"`       // Number of leading 0's needed to solve the hash solution.
	AccumulatedWork uint64 `json:"accumulated_work"` // Sum of the work of every block up to this one.
	BodyRoot        string `json:"body_root"`        // Hash of the block body.
	MinerID         string `json:"miner_id"`         // Address of the account that mined the block.
}

// BlockBody is the opaque payload of a block. The node relays transaction
// ids but never interprets them.
type BlockBody struct {
	TxIDs []string `json:"tx_ids"`
	Data  string   `json:"data"`
}

// Root returns the hash that commits the header to this body. The
// transaction ids are committed through their merkle root.
func (bb BlockBody) Root() string {
	commit := struct {
		TxRoot string `json:"tx_root"`
		Data   string `json:"data"`
	}{
		TxRoot: merkle.RootHexOf(bb.TxIDs),
		Data:   bb.Data,
	}

	return signature.Hash(commit)
}

// Block represents a header, its payload and the miner's signature over the
// header.
type Block struct {
	Header    BlockHeader `json:"header"`
	Body      BlockBody   `json:"body"`
	Signature string      `json:"signature"`
}

// Work returns the amount of work represented by a block of the specified
// difficulty. Each unit of difficulty is one more hex zero in the hash.
func Work(difficulty uint) uint64 {
	return 1 << (4 * difficulty)
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() string {

	// Hashing the block header and not the whole block so the chain can
	// be checked by only needing block headers. The body is committed to
	// through the body root.
	return signature.Hash(b.Header)
}

// Sign sets the miner id and signs the header with the specified key. The
// miner id is part of the hashed header, so a block that has already been
// solved must have been solved with the same miner id.
func (b *Block) Sign(privateKey *ecdsa.PrivateKey) error {
	b.Header.MinerID = signature.Address(privateKey.PublicKey)

	sig, err := signature.Sign(b.Header, privateKey)
	if err != nil {
		return fmt.Errorf("signing block header: %w", err)
	}
	b.Signature = sig

	return nil
}

// Signer returns the address of the account that signed the block header.
func (b Block) Signer() (string, error) {
	return signature.FromAddress(b.Header, b.Signature)
}

// Mine performs the proof of work for the block and then signs the solved
// header with the specified key.
func (b *Block) Mine(ctx context.Context, privateKey *ecdsa.PrivateKey, ev EventHandler) error {
	b.Header.MinerID = signature.Address(privateKey.PublicKey)

	if err := b.PerformPOW(ctx, ev); err != nil {
		return err
	}

	return b.Sign(privateKey)
}

// PerformPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) PerformPOW(ctx context.Context, ev EventHandler) error {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	ev("database: PerformPOW: MINING: started: blk[%d]", b.Header.Height)
	defer ev("database: PerformPOW: MINING: completed: blk[%d]", b.Header.Height)

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found by us or another node.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return fmt.Errorf("choosing nonce: %w", err)
	}
	b.Header.Nonce = nBig.Uint64()

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// Did we timeout trying to solve the problem.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		hash := b.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, hash, attempts)

		return nil
	}
}

// isHashSolved checks the hash to make sure it complies with
// the POW rules. We need to match a difficulty number of 0's.
func isHashSolved(difficulty uint, hash string) bool {
	const match = "0x00000000000000000000"

	if len(hash) != len(signature.ZeroHash) || difficulty > MaxDifficulty {
		return false
	}

	return hash[:2+difficulty] == match[:2+difficulty]
}

// =============================================================================

// ErrHashMismatch is returned when stored block data doesn't hash to the
// hash it was stored under.
var ErrHashMismatch = errors.New("block data hash mismatch")

// BlockData represents what is written to the block archive.
type BlockData struct {
	Hash      string      `json:"hash"`
	Header    BlockHeader `json:"header"`
	Body      BlockBody   `json:"body"`
	Signature string      `json:"signature"`
}

// NewBlockData constructs the value to serialize to disk.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:      block.Hash(),
		Header:    block.Header,
		Body:      block.Body,
		Signature: block.Signature,
	}
}

// ToBlock converts a BlockData into a Block, checking the recorded hash.
func ToBlock(bd BlockData) (Block, error) {
	b := Block{
		Header:    bd.Header,
		Body:      bd.Body,
		Signature: bd.Signature,
	}

	if hash := b.Hash(); hash != bd.Hash {
		return Block{}, fmt.Errorf("%w: got %s, exp %s", ErrHashMismatch, hash, bd.Hash)
	}

	return b, nil
}
