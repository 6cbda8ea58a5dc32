package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
)

// Set of tables kept in the chain store.
const (
	tableBlockIndex storage.Table = iota + 1
	tableCanonical
	tableTip
	tableArchiveSize
)

// Keys of the single record tables.
const (
	tipKey  = "tip"
	sizeKey = "size"
)

// IndexEntry locates a block in the archive. Every block the node stored,
// canonical or not, has exactly one entry keyed by its hash.
type IndexEntry struct {
	Hash            string `json:"hash"`
	PrevHash        string `json:"prev_hash"`
	Height          uint64 `json:"height"`
	AccumulatedWork uint64 `json:"accumulated_work"`
	Offset          int64  `json:"offset"`
	Length          int64  `json:"length"`
}

// Table implements the storage.Record interface.
func (IndexEntry) Table() storage.Table { return tableBlockIndex }

type canonicalEntry struct {
	Hash string `json:"hash"`
}

func (canonicalEntry) Table() storage.Table { return tableCanonical }

type tipEntry struct {
	Hash string `json:"hash"`
}

func (tipEntry) Table() storage.Table { return tableTip }

// archiveSize is the committed length of the archive. It is written in the
// same atomic write as the index entries of the bytes it covers.
type archiveSize struct {
	Size int64 `json:"size"`
}

func (archiveSize) Table() storage.Table { return tableArchiveSize }

var chainSchema = storage.Schema{
	tableBlockIndex:  func() storage.Record { return &IndexEntry{} },
	tableCanonical:   func() storage.Record { return &canonicalEntry{} },
	tableTip:         func() storage.Record { return &tipEntry{} },
	tableArchiveSize: func() storage.Record { return &archiveSize{} },
}

// heightKey formats heights so they sort in key order.
func heightKey(height uint64) string {
	return fmt.Sprintf("%020d", height)
}

// =============================================================================

// archival is the persisted chain: the block archive and its index.
type archival struct {
	store  *storage.Store
	blocks *storage.Archive
}

// openArchival opens the chain store and the archive. A new store is
// initialized with the genesis block, an existing one must hold the same
// genesis block. The current tip is returned.
func openArchival(storePath string, archivePath string, gen database.Block, ev EventHandler) (*archival, database.Block, error) {
	store, err := storage.Open(storePath, chainSchema)
	if err != nil {
		return nil, database.Block{}, err
	}

	var committed int64
	switch rec, err := store.Get(tableArchiveSize, sizeKey); {
	case err == nil:
		committed = rec.(*archiveSize).Size
	case !errors.Is(err, storage.ErrNotFound):
		store.Close()
		return nil, database.Block{}, err
	}

	blocks, err := storage.OpenArchive(archivePath, committed)
	if err != nil {
		store.Close()
		return nil, database.Block{}, err
	}

	a := archival{
		store:  store,
		blocks: blocks,
	}

	tip, err := a.init(gen, ev)
	if err != nil {
		a.close()
		return nil, database.Block{}, err
	}

	return &a, tip, nil
}

// init writes the genesis block to an empty store and returns the tip.
func (a *archival) init(gen database.Block, ev EventHandler) (database.Block, error) {
	genHash := gen.Hash()

	tipHash, err := a.tip()
	switch {
	case err == nil:
		canon, err := a.canonical(0)
		if err != nil {
			return database.Block{}, err
		}
		if canon != genHash {
			return database.Block{}, fmt.Errorf("stored genesis %s doesn't match genesis %s", canon, genHash)
		}
		return a.block(tipHash)

	case !errors.Is(err, storage.ErrNotFound):
		return database.Block{}, err
	}

	ev("state: init: writing genesis: hash[%s]", genHash)

	entry, err := a.appendBlock(gen)
	if err != nil {
		return database.Block{}, err
	}

	err = a.store.AtomicWrite(
		storage.Put(genHash, entry),
		storage.Put(heightKey(0), canonicalEntry{Hash: genHash}),
		storage.Put(tipKey, tipEntry{Hash: genHash}),
		storage.Put(sizeKey, archiveSize{Size: entry.Offset + entry.Length}),
	)
	if err != nil {
		a.blocks.Truncate(entry.Offset)
		return database.Block{}, err
	}

	return gen, nil
}

func (a *archival) close() error {
	errBlocks := a.blocks.Close()
	errStore := a.store.Close()

	if errBlocks != nil {
		return errBlocks
	}
	return errStore
}

// appendBlock writes the block to the archive and returns the index entry
// locating it. The entry is not committed.
func (a *archival) appendBlock(b database.Block) (IndexEntry, error) {
	data, err := json.Marshal(database.NewBlockData(b))
	if err != nil {
		return IndexEntry{}, fmt.Errorf("encoding block: %w", err)
	}

	offset, length, err := a.blocks.Append(data)
	if err != nil {
		return IndexEntry{}, err
	}

	entry := IndexEntry{
		Hash:            b.Hash(),
		PrevHash:        b.Header.PrevBlockHash,
		Height:          b.Header.Height,
		AccumulatedWork: b.Header.AccumulatedWork,
		Offset:          offset,
		Length:          length,
	}

	return entry, nil
}

func (a *archival) index(hash string) (IndexEntry, error) {
	rec, err := a.store.Get(tableBlockIndex, hash)
	if err != nil {
		return IndexEntry{}, err
	}
	return *rec.(*IndexEntry), nil
}

func (a *archival) canonical(height uint64) (string, error) {
	rec, err := a.store.Get(tableCanonical, heightKey(height))
	if err != nil {
		return "", err
	}
	return rec.(*canonicalEntry).Hash, nil
}

func (a *archival) tip() (string, error) {
	rec, err := a.store.Get(tableTip, tipKey)
	if err != nil {
		return "", err
	}
	return rec.(*tipEntry).Hash, nil
}

func (a *archival) block(hash string) (database.Block, error) {
	entry, err := a.index(hash)
	if err != nil {
		return database.Block{}, err
	}

	data, err := a.blocks.Read(entry.Offset, entry.Length)
	if err != nil {
		return database.Block{}, err
	}

	var bd database.BlockData
	if err := json.Unmarshal(data, &bd); err != nil {
		return database.Block{}, fmt.Errorf("decoding block %s: %w", hash, err)
	}

	return database.ToBlock(bd)
}
