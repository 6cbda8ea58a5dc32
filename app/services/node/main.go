package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ardanlabs/chainnode/app/services/node/handlers"
	"github.com/ardanlabs/chainnode/foundation/blockchain/channel"
	"github.com/ardanlabs/chainnode/foundation/blockchain/database"
	"github.com/ardanlabs/chainnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/chainnode/foundation/blockchain/metrics"
	"github.com/ardanlabs/chainnode/foundation/blockchain/miner"
	"github.com/ardanlabs/chainnode/foundation/blockchain/p2p"
	"github.com/ardanlabs/chainnode/foundation/blockchain/state"
	"github.com/ardanlabs/chainnode/foundation/blockchain/worker"
	"github.com/ardanlabs/chainnode/foundation/events"
	"github.com/ardanlabs/chainnode/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			CommandTimeout  time.Duration `conf:"default:5s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080,flag:debug-host"`
			PublicHost      string        `conf:"default:0.0.0.0:8080,flag:rpc-host"`
			PrivateHost     string        `conf:"default:127.0.0.1:9080,flag:admin-host"`
		}
		Node struct {
			Network                        string        `conf:"default:main,flag:network"`
			PeerHost                       string        `conf:"default:0.0.0.0,flag:peer-host"`
			PeerPort                       int           `conf:"default:4000,flag:peer-port"`
			AdvertisedHost                 string        `conf:"flag:advertised-host"`
			DataDir                        string        `conf:"default:zblock/,flag:data-dir"`
			GenesisFile                    string        `conf:"flag:genesis-file"`
			Peers                          []string      `conf:"flag:peers"`
			Mine                           bool          `conf:"default:false,flag:mine"`
			MinerData                      string        `conf:"flag:miner-data"`
			MaxNumberOfBlocksBeforeSyncing int           `conf:"default:10,flag:max-number-of-blocks-before-syncing"`
			MaxPeers                       int           `conf:"default:8,flag:max-peers"`
			MinPeers                       int           `conf:"default:3,flag:min-peers"`
			Difficulty                     uint          `conf:"default:6,flag:difficulty"`
			BanThreshold                   int           `conf:"default:100,flag:ban-threshold"`
			SyncTimeout                    time.Duration `conf:"default:10s,flag:sync-timeout"`
			PeerDiscoveryInterval          time.Duration `conf:"default:1m,flag:peer-discovery-interval"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work blockchain node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Node.Difficulty > database.MaxDifficulty {
		return fmt.Errorf("difficulty %d exceeds %d", cfg.Node.Difficulty, database.MaxDifficulty)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`   ____ _   _    _    ___ _   _ _   _  ___  ____  _____ `)
	fmt.Println(`  / ___| | | |  / \  |_ _| \ | | \ | |/ _ \|  _ \| ____|`)
	fmt.Println(` | |   | |_| | / _ \  | ||  \| |  \| | | | | | | |  _|  `)
	fmt.Println(` | |___|  _  |/ ___ \ | || |\  | |\  | |_| | |_| | |___ `)
	fmt.Println(`  \____|_| |_/_/   \_\___|_| \_|_| \_|\___/|____/|_____|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// The genesis comes from a file when the network is not one this binary
	// can derive by name.
	gen := genesis.Default(cfg.Node.Network)
	if cfg.Node.GenesisFile != "" {
		gen, err = genesis.Load(cfg.Node.GenesisFile)
		if err != nil {
			return fmt.Errorf("unable to load genesis file: %w", err)
		}
	}

	if cfg.Node.Difficulty < gen.Difficulty {
		return fmt.Errorf("difficulty %d is below the network floor %d", cfg.Node.Difficulty, gen.Difficulty)
	}

	// The miner signs the blocks it finds with a key kept in the data
	// directory. A node starting for the first time generates one.
	privateKey, err := minerKey(filepath.Join(cfg.Node.DataDir, "miner.ecdsa"))
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}
	log.Infow("startup", "status", "miner key loaded", "account", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New[string](100)
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	listenAddr := net.JoinHostPort(cfg.Node.PeerHost, strconv.Itoa(cfg.Node.PeerPort))
	advertised := listenAddr
	if cfg.Node.AdvertisedHost != "" {
		advertised = net.JoinHostPort(cfg.Node.AdvertisedHost, strconv.Itoa(cfg.Node.PeerPort))
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support. Only the worker
	// gets the writer.
	st, writer, err := state.New(state.Config{
		Network:                        cfg.Node.Network,
		DataDir:                        cfg.Node.DataDir,
		ListenAddr:                     advertised,
		Peers:                          cfg.Node.Peers,
		Mine:                           cfg.Node.Mine,
		MaxNumberOfBlocksBeforeSyncing: cfg.Node.MaxNumberOfBlocksBeforeSyncing,
		MaxPeers:                       cfg.Node.MaxPeers,
		MinPeers:                       cfg.Node.MinPeers,
		BanThreshold:                   cfg.Node.BanThreshold,
		Difficulty:                     cfg.Node.Difficulty,
		SyncTimeout:                    cfg.Node.SyncTimeout,
		Genesis:                        gen,
		EvHandler:                      ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The node metrics are exposed on the debug mux together with the go
	// runtime collectors.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	// These channels connect the actors of the node. The coordinator is the
	// only reader of the peer events and the only sender of miner commands.
	peerEvents := make(chan channel.PeerEvent, 256)
	minerCommands := make(chan channel.MinerCommand)
	minerFound := make(chan channel.NewBlockFound, 1)
	rpc := make(chan channel.RPCRequest)
	fatal := make(chan error, 1)
	cmds := events.New[channel.Command](64)

	// The network accepts inbound peers and dials outbound ones. Every
	// connection is an actor reporting to the worker.
	network := p2p.New(p2p.Config{
		State:          st,
		Events:         peerEvents,
		Commands:       cmds,
		EvHandler:      ev,
		RequestTimeout: cfg.Node.SyncTimeout,
	})
	if err := network.Listen(listenAddr); err != nil {
		return fmt.Errorf("starting peer listener: %w", err)
	}
	defer network.Shutdown()

	// The worker package implements the coordinator. It owns the chain
	// writer, the sync episodes and the peer policy.
	wrk := worker.Run(worker.Config{
		State:             st,
		Writer:            writer,
		Network:           network,
		Commands:          cmds,
		Events:            peerEvents,
		MinerCommands:     minerCommands,
		MinerFound:        minerFound,
		RPC:               rpc,
		Validator:         gen.Validator(nil),
		EvHandler:         ev,
		Fatal:             fatal,
		DiscoveryInterval: cfg.Node.PeerDiscoveryInterval,
		Metrics:           mtr,
	})
	defer wrk.Shutdown()

	// The miner proposes blocks on the latest tip and hands the solved ones
	// to the worker.
	mnr := miner.Run(miner.Config{
		State:     st,
		Proposer:  database.DefaultProposer{Difficulty: cfg.Node.Difficulty},
		Key:       privateKey,
		Commands:  minerCommands,
		Found:     minerFound,
		EvHandler: ev,
		Enabled:   cfg.Node.Mine,
		Data:      cfg.Node.MinerData,
	})
	defer mnr.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st, reg)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown:       shutdown,
		Log:            log,
		RPC:            rpc,
		CommandTimeout: cfg.Web.CommandTimeout,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case err := <-fatal:
		return fmt.Errorf("chain halted: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// minerKey loads the key the miner signs blocks with, generating it on
// first start.
func minerKey(path string) (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.LoadECDSA(path)
	if err == nil {
		return privateKey, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	privateKey, err = crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating key dir: %w", err)
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return nil, fmt.Errorf("saving key: %w", err)
	}

	return privateKey, nil
}
