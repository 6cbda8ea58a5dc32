// Package channel defines the messages that flow between the actors of the
// node: peer connections report events to the coordinator, the coordinator
// broadcasts commands to peer connections, and the miner and the RPC server
// each have a private pair of channels with the coordinator.
package channel

import (
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/peer"
	"github.com/ardanlabs/chainnode/foundation/blockchain/wire"
)

// PeerEvent is implemented by every event a peer connection reports.
type PeerEvent interface {
	peerEvent()
}

// PeerConnected is reported once the handshake completed and the peer
// entered the peer map.
type PeerConnected struct {
	Peer peer.Record
}

// PeerDisconnected is reported exactly once by every connection when it
// terminates. Dialed is the address that was dialed for outbound
// connections.
type PeerDisconnected struct {
	Address string
	ConnID  string
	Dialed  string
	Err     error
}

// BlockAnnounced is reported when a peer announces a new tip.
type BlockAnnounced struct {
	From         string
	ConnID       string
	Notification wire.BlockNotification
}

// BlockReceived is reported when a peer sends a block.
type BlockReceived struct {
	From  string
	Block database.Block
}

// PeerListReceived is reported when a peer answers a peer list request.
type PeerListReceived struct {
	From  string
	Peers []wire.PeerAddress
}

// TransactionAnnounced is reported when a peer announces a transaction.
type TransactionAnnounced struct {
	From string
	ID   string
}

// ProtocolViolation is reported when a peer breaks the protocol. The
// connection is closed by the time the event is received.
type ProtocolViolation struct {
	From string
	Err  error
}

// SyncTimeout is reported when a block request wasn't answered in time.
type SyncTimeout struct {
	From   string
	Height uint64
	Hash   string
}

func (PeerConnected) peerEvent()        {}
func (PeerDisconnected) peerEvent()     {}
func (BlockAnnounced) peerEvent()       {}
func (BlockReceived) peerEvent()        {}
func (PeerListReceived) peerEvent()     {}
func (TransactionAnnounced) peerEvent() {}
func (ProtocolViolation) peerEvent()    {}
func (SyncTimeout) peerEvent()          {}

// =============================================================================

// Command is implemented by every command the coordinator broadcasts to the
// peer connections. Each connection checks Addressed before acting.
type Command interface {
	Addressed(rec peer.Record) bool
}

// RequestBlockByHeight asks one peer for its block at a height.
type RequestBlockByHeight struct {
	Peer   string
	Height uint64
}

// RequestBlockByHash asks one peer for a block by hash.
type RequestBlockByHash struct {
	Peer string
	Hash string
}

// AnnounceBlock announces a new tip to every peer but one.
type AnnounceBlock struct {
	Except       string
	Notification wire.BlockNotification
}

// RequestPeerList asks one peer for its peers.
type RequestPeerList struct {
	Peer string
}

// AnnounceTransaction relays a transaction id to every peer but one.
type AnnounceTransaction struct {
	Except string
	ID     string
}

// Disconnect closes the connection with one peer.
type Disconnect struct {
	Peer   string
	Reason string
}

// Ban closes every connection with peers on the IP.
type Ban struct {
	IP     string
	Reason string
}

// Addressed implements the Command interface.
func (c RequestBlockByHeight) Addressed(rec peer.Record) bool { return c.Peer == rec.Address }

// Addressed implements the Command interface.
func (c RequestBlockByHash) Addressed(rec peer.Record) bool { return c.Peer == rec.Address }

// Addressed implements the Command interface.
func (c AnnounceBlock) Addressed(rec peer.Record) bool { return c.Except != rec.Address }

// Addressed implements the Command interface.
func (c RequestPeerList) Addressed(rec peer.Record) bool { return c.Peer == rec.Address }

// Addressed implements the Command interface.
func (c AnnounceTransaction) Addressed(rec peer.Record) bool { return c.Except != rec.Address }

// Addressed implements the Command interface.
func (c Disconnect) Addressed(rec peer.Record) bool { return c.Peer == rec.Address }

// Addressed implements the Command interface.
func (c Ban) Addressed(rec peer.Record) bool { return c.IP == rec.IP() }
