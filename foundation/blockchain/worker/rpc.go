package worker

import (
	"errors"
	"fmt"
	"net"

	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
)

// Set of errors returned to operator commands.
var (
	ErrHalted         = errors.New("chain halted after a storage failure")
	ErrInvalidAddress = errors.New("invalid peer address")
	ErrNotDialed      = errors.New("peer not dialed")
)

// handleRPC executes an operator command.
func (w *Worker) handleRPC(cmd channel.RPCCommand) error {
	w.evHandler("worker: rpc: %T", cmd)

	switch c := cmd.(type) {
	case channel.StartMining:
		if w.halted {
			return ErrHalted
		}
		w.writer.SetMining(true)
		w.signalMiner(channel.EnableMining{})

	case channel.StopMining:
		w.writer.SetMining(false)
		w.signalMiner(channel.DisableMining{})

	case channel.BanPeer:
		if c.IP == "" {
			return fmt.Errorf("%w: empty ip", ErrInvalidAddress)
		}
		if _, err := w.state.BanPeer(c.IP, c.Reason); err != nil {
			return fmt.Errorf("ban %s: %w", c.IP, err)
		}
		w.broadcast(channel.Ban{IP: c.IP, Reason: c.Reason})

	case channel.UnbanPeer:
		if err := w.state.ClearStanding(c.IP); err != nil {
			return fmt.Errorf("unban %s: %w", c.IP, err)
		}

	case channel.ConnectPeer:
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, err)
		}
		if !w.dial(c.Address) {
			return fmt.Errorf("%w: %s is connected, banned, being dialed, queued or the node is full", ErrNotDialed, c.Address)
		}

	default:
		return fmt.Errorf("unknown command %T", cmd)
	}

	return nil
}
