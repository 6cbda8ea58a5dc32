package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Table names a logical table inside a physical store. It is written as the
// first byte of every key and every value.
type Table byte

// Record is implemented by every value that can be written to a store. The
// table is the union tag of the record.
type Record interface {
	Table() Table
}

// Schema maps the tag of each table to a constructor for its record type.
// Every physical store is opened with the schema of the records it holds.
type Schema map[Table]func() Record

// ErrUnknownTable is returned when a record carries a tag missing from the
// schema.
var ErrUnknownTable = errors.New("unknown table")

func (sch Schema) encode(rec Record) ([]byte, error) {
	if _, exists := sch[rec.Table()]; !exists {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, rec.Table())
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(rec.Table()))
	return append(out, data...), nil
}

func (sch Schema) decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return nil, errors.New("empty record")
	}

	newRecord, exists := sch[Table(data[0])]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, data[0])
	}

	rec := newRecord()
	if err := json.Unmarshal(data[1:], rec); err != nil {
		return nil, fmt.Errorf("decoding record of table %d: %w", data[0], err)
	}

	return rec, nil
}
