package wire

import (
	"fmt"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
)

// Version is the protocol version this node speaks.
const Version = "1.0"

// Type is the tag byte of a frame.
type Type uint8

// Set of message types.
const (
	TypeHandshake Type = iota + 1
	TypeConnectionStatus
	TypePeerListRequest
	TypePeerListResponse
	TypeBlockNotification
	TypeBlockRequestByHeight
	TypeBlockRequestByHash
	TypeBlock
	TypeTransactionNotification
	TypePing
	TypePong
	TypeBye
)

var typeNames = map[Type]string{
	TypeHandshake:               "handshake",
	TypeConnectionStatus:        "connection-status",
	TypePeerListRequest:         "peer-list-request",
	TypePeerListResponse:        "peer-list-response",
	TypeBlockNotification:       "block-notification",
	TypeBlockRequestByHeight:    "block-request-by-height",
	TypeBlockRequestByHash:      "block-request-by-hash",
	TypeBlock:                   "block",
	TypeTransactionNotification: "transaction-notification",
	TypePing:                    "ping",
	TypePong:                    "pong",
	TypeBye:                     "bye",
}

// String implements the fmt.Stringer interface.
func (t Type) String() string {
	if name, exists := typeNames[t]; exists {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Message is implemented by every message of the protocol. Read returns
// pointers to the message types.
type Message interface {
	Type() Type
}

// newMessage constructs an empty message for the type.
func newMessage(t Type) (Message, error) {
	switch t {
	case TypeHandshake:
		return &Handshake{}, nil
	case TypeConnectionStatus:
		return &ConnectionStatus{}, nil
	case TypePeerListRequest:
		return &PeerListRequest{}, nil
	case TypePeerListResponse:
		return &PeerListResponse{}, nil
	case TypeBlockNotification:
		return &BlockNotification{}, nil
	case TypeBlockRequestByHeight:
		return &BlockRequestByHeight{}, nil
	case TypeBlockRequestByHash:
		return &BlockRequestByHash{}, nil
	case TypeBlock:
		return &Block{}, nil
	case TypeTransactionNotification:
		return &TransactionNotification{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypePong:
		return &Pong{}, nil
	case TypeBye:
		return &Bye{}, nil
	}

	return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformed, uint8(t))
}

// =============================================================================

// TipInfo describes the tip of a chain.
type TipInfo struct {
	Height          uint64 `json:"height"`
	Hash            string `json:"hash"`
	AccumulatedWork uint64 `json:"accumulated_work"`
}

// NewTipInfo returns the tip info for the block.
func NewTipInfo(b database.Block) TipInfo {
	return TipInfo{
		Height:          b.Header.Height,
		Hash:            b.Hash(),
		AccumulatedWork: b.Header.AccumulatedWork,
	}
}

// Handshake is the first message each side of a connection sends.
type Handshake struct {
	Network    string  `json:"network"`
	Version    string  `json:"version"`
	InstanceID uint64  `json:"instance_id"`
	ListenAddr string  `json:"listen_addr"`
	Tip        TipInfo `json:"tip"`
}

// Type implements the Message interface.
func (Handshake) Type() Type { return TypeHandshake }

// RefusalReason explains why a connection was refused.
type RefusalReason string

// Set of refusal reasons.
const (
	RefusedSelfConnect       RefusalReason = "self-connect"
	RefusedAlreadyConnected  RefusalReason = "already-connected"
	RefusedMaxPeers          RefusalReason = "max-peer-number-exceeded"
	RefusedBanned            RefusalReason = "banned"
	RefusedIncompatible      RefusalReason = "incompatible-network"
	RefusedProtocolViolation RefusalReason = "protocol-violation"
)

// ConnectionStatus answers a handshake.
type ConnectionStatus struct {
	Accepted bool          `json:"accepted"`
	Reason   RefusalReason `json:"reason,omitempty"`
}

// Type implements the Message interface.
func (ConnectionStatus) Type() Type { return TypeConnectionStatus }

// PeerListRequest asks for the peers the remote node is connected to.
type PeerListRequest struct{}

// Type implements the Message interface.
func (PeerListRequest) Type() Type { return TypePeerListRequest }

// PeerAddress is a dialable peer.
type PeerAddress struct {
	ListenAddr string `json:"listen_addr"`
	InstanceID uint64 `json:"instance_id"`
}

// PeerListResponse answers a PeerListRequest.
type PeerListResponse struct {
	Peers []PeerAddress `json:"peers"`
}

// Type implements the Message interface.
func (PeerListResponse) Type() Type { return TypePeerListResponse }

// BlockNotification announces a new tip.
type BlockNotification struct {
	Hash            string `json:"hash"`
	Height          uint64 `json:"height"`
	AccumulatedWork uint64 `json:"accumulated_work"`
}

// Type implements the Message interface.
func (BlockNotification) Type() Type { return TypeBlockNotification }

// NewBlockNotification returns the notification for the block.
func NewBlockNotification(b database.Block) BlockNotification {
	return BlockNotification{
		Hash:            b.Hash(),
		Height:          b.Header.Height,
		AccumulatedWork: b.Header.AccumulatedWork,
	}
}

// BlockRequestByHeight asks for the canonical block at a height.
type BlockRequestByHeight struct {
	Height uint64 `json:"height"`
}

// Type implements the Message interface.
func (BlockRequestByHeight) Type() Type { return TypeBlockRequestByHeight }

// BlockRequestByHash asks for the block with a hash.
type BlockRequestByHash struct {
	Hash string `json:"hash"`
}

// Type implements the Message interface.
func (BlockRequestByHash) Type() Type { return TypeBlockRequestByHash }

// Block carries a full block.
type Block struct {
	Block database.Block `json:"block"`
}

// Type implements the Message interface.
func (Block) Type() Type { return TypeBlock }

// TransactionNotification announces a transaction by id.
type TransactionNotification struct {
	ID string `json:"id"`
}

// Type implements the Message interface.
func (TransactionNotification) Type() Type { return TypeTransactionNotification }

// Ping checks the remote side is alive.
type Ping struct {
	Nonce uint64 `json:"nonce"`
}

// Type implements the Message interface.
func (Ping) Type() Type { return TypePing }

// Pong answers a Ping.
type Pong struct {
	Nonce uint64 `json:"nonce"`
}

// Type implements the Message interface.
func (Pong) Type() Type { return TypePong }

// Bye announces the sender is closing the connection.
type Bye struct{}

// Type implements the Message interface.
func (Bye) Type() Type { return TypeBye }
