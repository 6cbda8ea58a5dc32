package channel

import (
	"errors"

	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
)

// MinerCommand is implemented by every message the coordinator sends to the
// miner.
type MinerCommand interface {
	minerCommand()
}

// NewTip tells the miner the tip changed, the current work is stale.
type NewTip struct {
	Block database.Block
}

// ReadyToMineNextBlock tells the miner its last block was processed.
type ReadyToMineNextBlock struct{}

// PauseMining stops mining while the node is syncing.
type PauseMining struct{}

// ResumeMining resumes mining after the node finished syncing.
type ResumeMining struct{}

// EnableMining turns mining on.
type EnableMining struct{}

// DisableMining turns mining off.
type DisableMining struct{}

func (NewTip) minerCommand()               {}
func (ReadyToMineNextBlock) minerCommand() {}
func (PauseMining) minerCommand()          {}
func (ResumeMining) minerCommand()         {}
func (EnableMining) minerCommand()         {}
func (DisableMining) minerCommand()        {}

// NewBlockFound is sent by the miner when it solved a block.
type NewBlockFound struct {
	Block database.Block
}

// =============================================================================

// ErrCommandTimeout is returned when the coordinator didn't answer a command
// in time.
var ErrCommandTimeout = errors.New("coordinator did not answer in time")

// RPCCommand is implemented by every command the RPC server forwards to the
// coordinator.
type RPCCommand interface {
	rpcCommand()
}

// StartMining turns mining on.
type StartMining struct{}

// StopMining turns mining off.
type StopMining struct{}

// BanPeer bans an IP and disconnects its peers.
type BanPeer struct {
	IP     string
	Reason string
}

// UnbanPeer clears the standing of an IP, or of every IP if empty.
type UnbanPeer struct {
	IP string
}

// ConnectPeer dials a peer.
type ConnectPeer struct {
	Address string
}

func (StartMining) rpcCommand() {}
func (StopMining) rpcCommand()  {}
func (BanPeer) rpcCommand()     {}
func (UnbanPeer) rpcCommand()   {}
func (ConnectPeer) rpcCommand() {}

// RPCRequest carries a command and the channel the coordinator answers on.
type RPCRequest struct {
	Command RPCCommand
	Reply   chan error
}

// NewRPCRequest constructs a request with a buffered reply channel so the
// coordinator never blocks answering it.
func NewRPCRequest(cmd RPCCommand) RPCRequest {
	return RPCRequest{
		Command: cmd,
		Reply:   make(chan error, 1),
	}
}
