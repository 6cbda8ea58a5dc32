package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/chainnode/foundation/blockchain/storage"
)

// ErrBanned is returned when a banned peer tries to connect.
var ErrBanned = errors.New("peer is banned")

// tableStanding is the tag of standing records in the peer store.
const tableStanding storage.Table = 1

// Standing is the persisted reputation of a peer, keyed by its IP.
type Standing struct {
	IP      string    `json:"ip"`
	Score   int       `json:"score"`
	Banned  bool      `json:"banned"`
	Reason  string    `json:"reason"`
	Updated time.Time `json:"updated"`
}

// Table implements the storage.Record interface.
func (Standing) Table() storage.Table {
	return tableStanding
}

// =============================================================================

// Standings maintains the standing of every peer in memory and writes
// every change through to the peer store.
type Standings struct {
	mu        sync.Mutex
	store     *storage.Store
	threshold int
	m         map[string]Standing
}

// OpenStandings opens the peer store at the specified path and loads the
// standings it holds. A peer is banned when its score reaches the threshold.
func OpenStandings(path string, threshold int) (*Standings, error) {
	store, err := storage.Open(path, storage.Schema{
		tableStanding: func() storage.Record { return &Standing{} },
	})
	if err != nil {
		return nil, err
	}

	s := Standings{
		store:     store,
		threshold: threshold,
		m:         make(map[string]Standing),
	}

	err = store.ForEach(tableStanding, func(key string, rec storage.Record) error {
		std, ok := rec.(*Standing)
		if !ok {
			return fmt.Errorf("unexpected record %T in standings", rec)
		}
		s.m[key] = *std
		return nil
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &s, nil
}

// Close releases the peer store.
func (s *Standings) Close() error {
	return s.store.Close()
}

// Penalize adds the points to the score of the peer. The standing is only
// written when the score increases. The peer is banned once the score
// reaches the threshold.
func (s *Standings) Penalize(ip string, points int, reason string) (Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	std := s.m[ip]
	if points <= 0 {
		return std, nil
	}

	std.IP = ip
	std.Score += points
	std.Reason = reason
	std.Updated = time.Now().UTC()
	if s.threshold > 0 && std.Score >= s.threshold {
		std.Banned = true
	}

	if err := s.store.Write(ip, std); err != nil {
		return Standing{}, err
	}
	s.m[ip] = std

	return std, nil
}

// Ban bans the peer regardless of its score.
func (s *Standings) Ban(ip string, reason string) (Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	std := s.m[ip]
	std.IP = ip
	std.Banned = true
	std.Reason = reason
	std.Updated = time.Now().UTC()
	if std.Score < s.threshold {
		std.Score = s.threshold
	}

	if err := s.store.Write(ip, std); err != nil {
		return Standing{}, err
	}
	s.m[ip] = std

	return std, nil
}

// Check returns ErrBanned if the peer is banned.
func (s *Standings) Check(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m[ip].Banned {
		return ErrBanned
	}
	return nil
}

// IsBanned reports whether the peer is banned.
func (s *Standings) IsBanned(ip string) bool {
	return s.Check(ip) != nil
}

// Get returns the standing of the peer.
func (s *Standings) Get(ip string) (Standing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	std, exists := s.m[ip]
	return std, exists
}

// Clear removes the standing of the peer.
func (s *Standings) Clear(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.AtomicWrite(storage.Delete(tableStanding, ip)); err != nil {
		return err
	}
	delete(s.m, ip)

	return nil
}

// ClearAll removes every standing in one write.
func (s *Standings) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]storage.Entry, 0, len(s.m))
	for ip := range s.m {
		entries = append(entries, storage.Delete(tableStanding, ip))
	}

	if err := s.store.AtomicWrite(entries...); err != nil {
		return err
	}
	s.m = make(map[string]Standing)

	return nil
}

// Copy returns the standings ordered by IP.
func (s *Standings) Copy() []Standing {
	s.mu.Lock()
	defer s.mu.Unlock()

	stds := make([]Standing, 0, len(s.m))
	for _, std := range s.m {
		stds = append(stds, std)
	}

	sort.Slice(stds, func(i, j int) bool {
		return stds[i].IP < stds[j].IP
	})

	return stds
}
