// Package merkle provides a merkle tree over the transaction ids a block
// carries, so a block commits to them and inclusion can be proven.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Tree represents a merkle tree. Level 0 holds the leaf hashes and the last
// level holds the root. A level with an odd number of nodes pairs its last
// node with itself.
type Tree struct {
	levels       [][][]byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy is used to change the default hash strategy of using sha256
// when constructing a new tree.
func WithHashStrategy(hashStrategy func() hash.Hash) func(t *Tree) {
	return func(t *Tree) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a merkle tree from the specified values.
func NewTree(values [][]byte, options ...func(t *Tree)) (*Tree, error) {
	if len(values) == 0 {
		return nil, errors.New("cannot construct tree with no content")
	}

	t := Tree{
		hashStrategy: sha256.New,
	}

	for _, option := range options {
		option(&t)
	}

	level := make([][]byte, len(values))
	for i, value := range values {
		level[i] = t.sum(value)
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			right := i + 1
			if right == len(level) {
				right = i
			}
			next = append(next, t.sum(level[i], level[right]))
		}
		t.levels = append(t.levels, next)
		level = next
	}

	return &t, nil
}

// RootHexOf returns the hex root of a tree built over the strings. No
// strings produce an empty root.
func RootHexOf(values []string) string {
	if len(values) == 0 {
		return ""
	}

	data := make([][]byte, len(values))
	for i, v := range values {
		data[i] = []byte(v)
	}

	t, err := NewTree(data)
	if err != nil {
		return ""
	}

	return t.RootHex()
}

// Root returns the merkle root of the tree.
func (t *Tree) Root() []byte {
	return t.levels[len(t.levels)-1][0]
}

// RootHex converts the merkle root byte hash to a hex encoded string.
func (t *Tree) RootHex() string {
	return hexutil.Encode(t.Root())
}

// Proof returns the sibling hashes from the leaf at the index up to the root
// and the order of concatenating them. Order 0 means the proof hash comes
// first, order 1 means it comes second.
func (t *Tree) Proof(index int) ([][]byte, []int64, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, nil, fmt.Errorf("leaf %d out of range", index)
	}

	var proof [][]byte
	var order []int64

	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling == len(level) {
			sibling = index
		}

		proof = append(proof, level[sibling])
		if index%2 == 0 {
			order = append(order, 1)
		} else {
			order = append(order, 0)
		}

		index /= 2
	}

	return proof, order, nil
}

// VerifyProof checks the value against the root of the tree using a proof
// returned by Proof.
func (t *Tree) VerifyProof(value []byte, proof [][]byte, order []int64) bool {
	if len(proof) != len(order) {
		return false
	}

	h := t.sum(value)
	for i, p := range proof {
		switch order[i] {
		case 0:
			h = t.sum(p, h)
		default:
			h = t.sum(h, p)
		}
	}

	return bytes.Equal(h, t.Root())
}

func (t *Tree) sum(parts ...[]byte) []byte {
	h := t.hashStrategy()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
