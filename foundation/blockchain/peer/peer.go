// Package peer maintains the peer related information such as the set
// of connected peers and the standing of every peer the node has seen.
package peer

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"
)

// Set of errors returned when a peer is refused entry to the map.
var (
	ErrAlreadyConnected = errors.New("peer already connected")
	ErrMaxPeers         = errors.New("maximum number of peers reached")
)

// Record represents information about a connected Node in the network. The
// address is the identity of the peer.
type Record struct {
	Address         string    `json:"address"`
	ConnID          string    `json:"conn_id"`
	Inbound         bool      `json:"inbound"`
	ListenAddr      string    `json:"listen_addr"`
	Version         string    `json:"version"`
	InstanceID      uint64    `json:"instance_id"`
	Height          uint64    `json:"height"`
	TipHash         string    `json:"tip_hash"`
	AccumulatedWork uint64    `json:"accumulated_work"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastSeen        time.Time `json:"last_seen"`
}

// IP returns the host part of the peer address.
func (r Record) IP() string {
	return HostOf(r.Address)
}

// HostOf returns the host part of an address, or the address itself if it
// carries no port.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// =============================================================================

// Map represents the data representation to maintain the set of connected
// peers. There is never more than one record for an address or an instance.
type Map struct {
	mu sync.RWMutex
	m  map[string]Record
}

// NewMap constructs a new map to manage connected peer information.
func NewMap() *Map {
	return &Map{
		m: make(map[string]Record),
	}
}

// Insert adds the record if no record exists for its address or instance.
// The admit function is called while the map is locked and can refuse the
// record. Any lock taken by admit must come after the map lock in the lock
// order.
func (pm *Map) Insert(rec Record, maxPeers int, admit func() error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.m[rec.Address]; exists {
		return ErrAlreadyConnected
	}

	for _, r := range pm.m {
		if r.InstanceID == rec.InstanceID {
			return ErrAlreadyConnected
		}
	}

	if maxPeers > 0 && len(pm.m) >= maxPeers {
		return ErrMaxPeers
	}

	if admit != nil {
		if err := admit(); err != nil {
			return err
		}
	}

	pm.m[rec.Address] = rec
	return nil
}

// Remove removes the record for the address if it belongs to the specified
// connection. A stale connection can't remove the record of a newer one.
func (pm *Map) Remove(addr string, connID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	rec, exists := pm.m[addr]
	if !exists || rec.ConnID != connID {
		return false
	}

	delete(pm.m, addr)
	return true
}

// Update applies the function to the record of the specified connection.
func (pm *Map) Update(addr string, connID string, fn func(rec *Record)) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	rec, exists := pm.m[addr]
	if !exists || rec.ConnID != connID {
		return false
	}

	fn(&rec)
	pm.m[addr] = rec
	return true
}

// Get returns a copy of the record for the address.
func (pm *Map) Get(addr string) (Record, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	rec, exists := pm.m[addr]
	return rec, exists
}

// Len returns the number of connected peers.
func (pm *Map) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return len(pm.m)
}

// HasListenAddr reports whether a connected peer listens on the address.
func (pm *Map) HasListenAddr(addr string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, rec := range pm.m {
		if rec.ListenAddr == addr || rec.Address == addr {
			return true
		}
	}

	return false
}

// Copy returns a list of the connected peers ordered by address, leaving
// out the specified address.
func (pm *Map) Copy(except string) []Record {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	recs := make([]Record, 0, len(pm.m))
	for addr, rec := range pm.m {
		if addr != except {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Address < recs[j].Address
	})

	return recs
}
