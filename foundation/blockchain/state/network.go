package state

import (
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
)

// The peer map is always locked before the standings. AdmitPeer is the
// only place both are held at once.

// AdmitPeer inserts the peer into the peer map unless it is already
// connected, the node has too many peers, or the peer is banned.
func (s *State) AdmitPeer(rec peer.Record) error {
	return s.peers.Insert(rec, s.cfg.MaxPeers, func() error {
		return s.standings.Check(rec.IP())
	})
}

// RemovePeer removes the peer if the record belongs to the connection.
func (s *State) RemovePeer(addr string, connID string) bool {
	return s.peers.Remove(addr, connID)
}

// UpdatePeer changes the record of the peer's connection.
func (s *State) UpdatePeer(addr string, connID string, fn func(rec *peer.Record)) bool {
	return s.peers.Update(addr, connID, fn)
}

// QueryPeer returns the record of a connected peer.
func (s *State) QueryPeer(addr string) (peer.Record, bool) {
	return s.peers.Get(addr)
}

// RetrieveKnownPeers returns the connected peers, leaving out the
// specified address.
func (s *State) RetrieveKnownPeers(except string) []peer.Record {
	return s.peers.Copy(except)
}

// PeerCount returns the number of connected peers.
func (s *State) PeerCount() int {
	return s.peers.Len()
}

// IsConnected reports whether a peer listening on the address is connected.
func (s *State) IsConnected(addr string) bool {
	return s.peers.HasListenAddr(addr)
}

// =============================================================================

// IsBanned reports whether the IP is banned.
func (s *State) IsBanned(ip string) bool {
	return s.standings.IsBanned(ip)
}

// PenalizePeer adds penalty points to the standing of the IP.
func (s *State) PenalizePeer(ip string, points int, reason string) (peer.Standing, error) {
	return s.standings.Penalize(ip, points, reason)
}

// BanPeer bans the IP.
func (s *State) BanPeer(ip string, reason string) (peer.Standing, error) {
	return s.standings.Ban(ip, reason)
}

// ClearStanding removes the standing of the IP, or of every IP when the
// IP is empty.
func (s *State) ClearStanding(ip string) error {
	if ip == "" {
		return s.standings.ClearAll()
	}
	return s.standings.Clear(ip)
}

// RetrieveStandings returns the standings of every peer.
func (s *State) RetrieveStandings() []peer.Standing {
	return s.standings.Copy()
}
