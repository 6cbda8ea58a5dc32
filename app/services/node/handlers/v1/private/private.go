// Package private maintains the group of handlers for operator access. Every
// handler forwards a command to the coordinator and waits for its answer.
package private

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ardanlabs/chainnode/business/web/errs"
	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/worker"
	"github.com/ardanlabs/chainnode/foundation/validate"
	"github.com/ardanlabs/chainnode/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	RPC     chan<- channel.RPCRequest
	Timeout time.Duration
}

// StartMining turns mining on.
func (h Handlers) StartMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.send(ctx, channel.StartMining{}); err != nil {
		return err
	}

	return web.Respond(ctx, w, status{Status: "mining started"}, http.StatusOK)
}

// StopMining turns mining off.
func (h Handlers) StopMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.send(ctx, channel.StopMining{}); err != nil {
		return err
	}

	return web.Respond(ctx, w, status{Status: "mining stopped"}, http.StatusOK)
}

// Ban bans an IP and disconnects its peers.
func (h Handlers) Ban(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req banRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	h.Log.Infow("ban peer", "traceid", web.GetTraceID(ctx), "ip", req.IP, "reason", req.Reason)

	if err := h.send(ctx, channel.BanPeer{IP: req.IP, Reason: req.Reason}); err != nil {
		return err
	}

	return web.Respond(ctx, w, status{Status: "peer banned"}, http.StatusOK)
}

// Unban clears the standing of an IP, or of every IP when none is given.
func (h Handlers) Unban(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req unbanRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	h.Log.Infow("unban peer", "traceid", web.GetTraceID(ctx), "ip", req.IP)

	if err := h.send(ctx, channel.UnbanPeer{IP: req.IP}); err != nil {
		return err
	}

	return web.Respond(ctx, w, status{Status: "standing cleared"}, http.StatusOK)
}

// Connect dials a peer.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	h.Log.Infow("connect peer", "traceid", web.GetTraceID(ctx), "address", req.Address)

	if err := h.send(ctx, channel.ConnectPeer{Address: req.Address}); err != nil {
		return err
	}

	return web.Respond(ctx, w, status{Status: "dialing " + req.Address}, http.StatusAccepted)
}

// =============================================================================

// send forwards the command to the coordinator and waits for the answer.
func (h Handlers) send(ctx context.Context, cmd channel.RPCCommand) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req := channel.NewRPCRequest(cmd)

	select {
	case h.RPC <- req:
	case <-ctx.Done():
		return errs.NewTrusted(channel.ErrCommandTimeout, http.StatusServiceUnavailable)
	}

	var err error
	select {
	case err = <-req.Reply:
	case <-ctx.Done():
		return errs.NewTrusted(channel.ErrCommandTimeout, http.StatusServiceUnavailable)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, worker.ErrInvalidAddress), errors.Is(err, worker.ErrNotDialed):
		return errs.NewTrusted(err, http.StatusBadRequest)
	case errors.Is(err, worker.ErrHalted):
		return errs.NewTrusted(err, http.StatusConflict)
	}

	return err
}

// decode reads the request body. Field errors are returned as is so the
// response lists them, anything else is a bad request.
func decode(r *http.Request, val any) error {
	err := web.Decode(r, val)
	if err == nil || validate.IsFieldErrors(err) {
		return err
	}
	return errs.NewTrusted(err, http.StatusBadRequest)
}
