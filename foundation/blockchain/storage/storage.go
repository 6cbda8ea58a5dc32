// Package storage handles all the lower level support for persisting node
// data on disk. A Store is one physical key/value file holding tagged records
// of several logical tables, an Archive is an append only file of blocks.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// recordsBucket is the single bucket every record of a store lives in.
var recordsBucket = []byte("records")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Entry represents one record to be written as part of an atomic write. A
// nil Record deletes the key.
type Entry struct {
	Table  Table
	Key    string
	Record Record
}

// Put constructs an entry that stores the record under the key.
func Put(key string, rec Record) Entry {
	return Entry{Table: rec.Table(), Key: key, Record: rec}
}

// Delete constructs an entry that removes the key from the table.
func Delete(table Table, key string) Entry {
	return Entry{Table: table, Key: key}
}

// Store manages reading and writing tagged records to a physical file.
type Store struct {
	db     *bolt.DB
	path   string
	schema Schema

	mu           sync.Mutex
	beforeCommit func() error
}

// Open provides access to the store file at the specified path, creating
// it if it doesn't exist.
func Open(path string, schema Schema) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ioErr("open", path, errors.New("cannot obtain database lock, database may be in use by another process"))
		}
		return nil, ioErr("open", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, ioErr("create bucket", path, err)
	}

	s := Store{
		db:     db,
		path:   path,
		schema: schema,
	}

	return &s, nil
}

// Close cleanly releases the store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return ioErr("close", s.path, err)
	}
	return nil
}

// Path returns the location of the store file.
func (s *Store) Path() string {
	return s.path
}

// Get reads the record stored under the key in the table. ErrNotFound is
// returned when the key doesn't exist.
func (s *Store) Get(table Table, key string) (Record, error) {
	var rec Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get(recordKey(table, key))
		if data == nil {
			return ErrNotFound
		}

		var err error
		rec, err = s.schema.decode(data)
		return err
	})

	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, ioErr("get", s.path, err)
	}

	return rec, nil
}

// ForEach calls the function for every record of the table in key order.
// Returning an error from the function stops the iteration.
func (s *Store) ForEach(table Table, fn func(key string, rec Record) error) error {
	var fnErr error

	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := []byte{byte(table)}
		c := tx.Bucket(recordsBucket).Cursor()

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rec, err := s.schema.decode(v)
			if err != nil {
				return err
			}

			if err := fn(string(k[1:]), rec); err != nil {
				fnErr = err
				return err
			}
		}

		return nil
	})

	switch {
	case fnErr != nil:
		return fnErr
	case err != nil:
		return ioErr("for each", s.path, err)
	}

	return nil
}

// Write stores a single record under the key.
func (s *Store) Write(key string, rec Record) error {
	return s.AtomicWrite(Put(key, rec))
}

// AtomicWrite applies every entry or none of them. Readers never observe a
// partially applied write.
func (s *Store) AtomicWrite(entries ...Entry) error {
	s.mu.Lock()
	hook := s.beforeCommit
	s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)

		for _, e := range entries {
			k := recordKey(e.Table, e.Key)

			if e.Record == nil {
				if err := b.Delete(k); err != nil {
					return err
				}
				continue
			}

			if e.Record.Table() != e.Table {
				return fmt.Errorf("record for table %d written to table %d", e.Record.Table(), e.Table)
			}

			data, err := s.schema.encode(e.Record)
			if err != nil {
				return err
			}

			if err := b.Put(k, data); err != nil {
				return err
			}
		}

		// Returning an error here rolls the whole transaction back.
		if hook != nil {
			return hook()
		}

		return nil
	})

	if err != nil {
		return ioErr("atomic write", s.path, err)
	}

	return nil
}

// recordKey prefixes the key with its table tag so tables never collide.
func recordKey(table Table, key string) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, byte(table))
	return append(k, key...)
}
