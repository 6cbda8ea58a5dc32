// Package public maintains the group of handlers for public access. Every
// handler reads a snapshot of the global state and never waits on the
// coordinator.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/chainnode/business/web/errs"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/events"
	"github.com/ardanlabs/chainnode/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node query endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events[string]
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns the status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cfg := h.State.RetrieveConfig()
	tip := h.State.RetrieveLatestBlock()

	status := nodeStatus{
		Network:         cfg.Network,
		InstanceID:      strconv.FormatUint(h.State.RetrieveInstanceID(), 10),
		ListenAddr:      cfg.ListenAddr,
		Height:          tip.Header.Height,
		TipHash:         tip.Hash(),
		AccumulatedWork: tip.Header.AccumulatedWork,
		PeerCount:       h.State.PeerCount(),
		Syncing:         h.State.IsSyncing(),
		Mining:          h.State.IsMining(),
		Mempool:         h.State.MempoolLength(),
		Genesis:         h.State.RetrieveGenesis().Hash(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Peers returns the connected peers.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveKnownPeers(""), http.StatusOK)
}

// Standings returns the standing of every peer the node penalized.
func (h Handlers) Standings(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveStandings(), http.StatusOK)
}

// BlockByHeight returns the canonical block at the height.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid height: %w", err), http.StatusBadRequest)
	}

	blk, err := h.State.QueryBlockByHeight(height)
	if err != nil {
		return blockError(err)
	}

	return web.Respond(ctx, w, database.NewBlockData(blk), http.StatusOK)
}

// BlockByHash returns a stored block, canonical or not.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blk, err := h.State.QueryBlockByHash(web.Param(r, "hash"))
	if err != nil {
		return blockError(err)
	}

	resp := struct {
		database.BlockData
		Canonical bool `json:"canonical"`
	}{
		BlockData: database.NewBlockData(blk),
	}

	if canonical, err := h.State.QueryBlockByHeight(blk.Header.Height); err == nil {
		resp.Canonical = canonical.Hash() == resp.Hash
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

func blockError(err error) error {
	if errors.Is(err, state.ErrNotFound) {
		return errs.NewTrusted(err, http.StatusNotFound)
	}
	return err
}
