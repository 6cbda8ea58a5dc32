package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/golang/snappy"
	"golang.org/x/exp/mmap"
)

// ErrOutOfRange is returned when a read is past the committed end of the
// archive.
var ErrOutOfRange = errors.New("read outside of archive")

// Archive is an append only file of compressed entries. Entries are located
// by the offset and length returned from Append. Reads are served from a
// read only memory map of the file.
type Archive struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	size   int64
	reader *mmap.ReaderAt
}

// OpenArchive opens the archive at the specified path. The file is truncated
// to the committed size, dropping bytes whose index entry was never written.
func OpenArchive(path string, committed int64) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, ioErr("open archive", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioErr("stat archive", path, err)
	}

	switch {
	case fi.Size() < committed:
		f.Close()
		return nil, ioErr("open archive", path, fmt.Errorf("file size %d is below the committed size %d", fi.Size(), committed))

	case fi.Size() > committed:
		if err := f.Truncate(committed); err != nil {
			f.Close()
			return nil, ioErr("truncate archive", path, err)
		}
	}

	a := Archive{
		path: path,
		file: f,
		size: committed,
	}

	return &a, nil
}

// Size returns the number of bytes written to the archive.
func (a *Archive) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.size
}

// Append compresses and writes the data at the end of the archive. The data
// is flushed to disk before the location is returned.
func (a *Archive) Append(data []byte) (offset int64, length int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf := snappy.Encode(nil, data)

	if _, err := a.file.WriteAt(buf, a.size); err != nil {
		return 0, 0, ioErr("append archive", a.path, err)
	}

	if err := a.file.Sync(); err != nil {
		return 0, 0, ioErr("sync archive", a.path, err)
	}

	offset = a.size
	a.size += int64(len(buf))

	return offset, int64(len(buf)), nil
}

// Read returns the decompressed entry at the specified location.
func (a *Archive) Read(offset int64, length int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if offset < 0 || length <= 0 || offset+length > a.size {
		return nil, fmt.Errorf("%w: offset %d length %d size %d", ErrOutOfRange, offset, length, a.size)
	}

	// The map only covers the file as it was when it was created.
	if a.reader == nil || int64(a.reader.Len()) < offset+length {
		if err := a.remap(); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, length)
	if _, err := a.reader.ReadAt(buf, offset); err != nil {
		return nil, ioErr("read archive", a.path, err)
	}

	data, err := snappy.Decode(nil, buf)
	if err != nil {
		return nil, ioErr("decode archive", a.path, err)
	}

	return data, nil
}

// Truncate drops every byte after the specified size.
func (a *Archive) Truncate(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.size {
		return fmt.Errorf("%w: truncate to %d past size %d", ErrOutOfRange, size, a.size)
	}

	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}

	if err := a.file.Truncate(size); err != nil {
		return ioErr("truncate archive", a.path, err)
	}
	a.size = size

	return nil
}

// Close releases the map and the file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}

	if err := a.file.Close(); err != nil {
		return ioErr("close archive", a.path, err)
	}

	return nil
}

// remap replaces the memory map with one covering the current file.
func (a *Archive) remap() error {
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}

	r, err := mmap.Open(a.path)
	if err != nil {
		return ioErr("map archive", a.path, err)
	}
	a.reader = r

	return nil
}
