// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/ardanlabs/chainnode/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/chainnode/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/events"
	"github.com/ardanlabs/chainnode/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log            *zap.SugaredLogger
	State          *state.State
	Evts           *events.Events[string]
	RPC            chan<- channel.RPCRequest
	CommandTimeout time.Duration
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/node/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/peers/list", pbl.Peers)
	app.Handle(http.MethodGet, version, "/peers/standings", pbl.Standings)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		RPC:     cfg.RPC,
		Timeout: cfg.CommandTimeout,
	}

	app.Handle(http.MethodPost, version, "/mining/start", prv.StartMining)
	app.Handle(http.MethodPost, version, "/mining/stop", prv.StopMining)
	app.Handle(http.MethodPost, version, "/peers/ban", prv.Ban)
	app.Handle(http.MethodPost, version, "/peers/unban", prv.Unban)
	app.Handle(http.MethodPost, version, "/peers/connect", prv.Connect)
}
