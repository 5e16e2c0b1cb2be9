// cmd/apron-gateway/start.go
// Implements the `apron-gateway start` sub-command: the process that wires
// every SPEC_FULL.md component together and runs until signalled. Grounded
// on cmd/flarego-gateway/main.go's flag parsing + graceful-shutdown shape,
// generalised from one gRPC gateway server to the full node (overlay
// transport, event loop, forward listener, management API, usage ledger).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/contract"
	"github.com/apron-network/apron-gateway-go/internal/eventloop"
	"github.com/apron-network/apron-gateway-go/internal/forwarder"
	"github.com/apron-network/apron-gateway-go/internal/gwconfig"
	"github.com/apron-network/apron-gateway-go/internal/listener"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/mgmt"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
	"github.com/apron-network/apron-gateway-go/internal/usage"
	"github.com/apron-network/apron-gateway-go/internal/util"
	"github.com/apron-network/apron-gateway-go/pkg/auth"
)

// exit codes, spec.md §6.
const (
	exitGraceful    = 0
	exitBindFailure = 1
	exitOverlayInit = 2
)

func newStartCmd() *cobra.Command {
	var (
		peerAddr           string
		p2pAddr            string
		forwardPort        int
		mgmtAddr           string
		secretKeySeed      uint8
		rendezvous         string
		wsEndpoint         string
		marketContractAddr string
		marketContractABI  string
		statContractAddr   string
		statContractABI    string
		redisAddr          string
		redisPassword      string
		grpcAddr           string
		mgmtAuthSecret     string
		flushInterval      time.Duration
		enableMetrics      bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start this node of the gateway mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gwconfig.Load(cfgFile)
			if err != nil {
				return err
			}

			overrideFlags(cmd, &cfg, map[string]func(){
				"peer":                 func() { cfg.PeerAddr = peerAddr },
				"p2p-addr":             func() { cfg.P2PAddr = p2pAddr },
				"forward-port":         func() { cfg.ForwardPort = forwardPort },
				"mgmt-addr":            func() { cfg.MgmtAddr = mgmtAddr },
				"rendezvous":           func() { cfg.Rendezvous = rendezvous },
				"ws-endpoint":          func() { cfg.WSEndpoint = wsEndpoint },
				"market-contract-addr": func() { cfg.MarketContractAddr = marketContractAddr },
				"market-contract-abi":  func() { cfg.MarketContractABI = marketContractABI },
				"stat-contract-addr":   func() { cfg.StatContractAddr = statContractAddr },
				"stat-contract-abi":    func() { cfg.StatContractABI = statContractABI },
				"redis-addr":           func() { cfg.RedisAddr = redisAddr },
				"redis-password":       func() { cfg.RedisPassword = redisPassword },
				"grpc-addr":            func() { cfg.GRPCAddr = grpcAddr },
				"mgmt-auth-secret":     func() { cfg.MgmtAuthSecret = mgmtAuthSecret },
				"flush-interval":       func() { cfg.FlushInterval = flushInterval },
				"enable-metrics":       func() { cfg.EnableMetrics = enableMetrics },
			})
			if cmd.Flags().Changed("secret-key-seed") {
				cfg.SecretKeySeed = secretKeySeed
				cfg.HasSeed = true
			}
			if cfg.GRPCAddr == "" {
				cfg.GRPCAddr = cfg.P2PAddr
			}

			code := run(context.Background(), cfg)
			if code != exitGraceful {
				os.Exit(code)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&peerAddr, "peer", "", "Optional bootstrap peer address")
	flags.StringVar(&p2pAddr, "p2p-addr", "/ip4/0.0.0.0/tcp/2145", "Overlay listen address")
	flags.IntVar(&forwardPort, "forward-port", 8080, "CSG forward listener port")
	flags.StringVar(&mgmtAddr, "mgmt-addr", "0.0.0.0:8082", "Management API bind address")
	flags.Uint8Var(&secretKeySeed, "secret-key-seed", 0, "Optional deterministic identity seed")
	flags.StringVar(&rendezvous, "rendezvous", "apron-test-net", "Gossip topic name")
	flags.StringVar(&wsEndpoint, "ws-endpoint", "", "Billing collaborator websocket endpoint")
	flags.StringVar(&marketContractAddr, "market-contract-addr", "", "Market contract address (empty disables billing)")
	flags.StringVar(&marketContractABI, "market-contract-abi", "", "Market contract ABI path")
	flags.StringVar(&statContractAddr, "stat-contract-addr", "", "Stat contract address (empty disables billing)")
	flags.StringVar(&statContractABI, "stat-contract-abi", "", "Stat contract ABI path")
	flags.StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Gossip Redis instance address")
	flags.StringVar(&redisPassword, "redis-password", "", "Gossip Redis password")
	flags.StringVar(&grpcAddr, "grpc-addr", "", "Overlay gRPC listen address (defaults to --p2p-addr's port)")
	flags.StringVar(&mgmtAuthSecret, "mgmt-auth-secret", "", "HMAC secret gating the Management API (empty leaves it open)")
	flags.DurationVar(&flushInterval, "flush-interval", usage.DefaultFlushInterval, "Usage ledger batch flush interval")
	flags.BoolVar(&enableMetrics, "enable-metrics", true, "Expose /metrics on the forward listener")

	return cmd
}

func overrideFlags(cmd *cobra.Command, cfg *gwconfig.Config, apply map[string]func()) {
	for name, fn := range apply {
		if cmd.Flags().Changed(name) {
			fn()
		}
	}
}

// run wires every component and blocks until ctx is cancelled by a signal.
// It returns a process exit code per spec.md §6 (0 graceful, 1 bind
// failure, 2 overlay init failure) rather than calling os.Exit itself, so
// tests can exercise it without killing the test binary.
func run(ctx context.Context, cfg gwconfig.Config) int {
	lg := logging.Sugar()

	selfPeer := util.NewPeerID(cfg.SecretKeySeed, cfg.HasSeed)
	lg.Infow("starting apron-gateway node", "peer_id", selfPeer, "grpc_addr", cfg.GRPCAddr, "forward_port", cfg.ForwardPort)

	transport := overlay.New(overlay.Config{
		SelfID:         selfPeer,
		GRPCListenAddr: cfg.GRPCAddr,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
	})

	if cfg.PeerAddr != "" {
		// Seed the directory with the bootstrap peer's address under
		// itself: until its own announcement arrives over the peer-
		// directory gossip channel (internal/eventloop.Loop.announceSelf),
		// this keeps an Exchange that already names it by address working.
		transport.RegisterPeerAddr(cfg.PeerAddr, cfg.PeerAddr)
		lg.Infow("seeded bootstrap peer address", "addr", cfg.PeerAddr)
	}

	contractAddr := cfg.MarketContractAddr
	if contractAddr == "" {
		contractAddr = cfg.StatContractAddr
	}
	contractClient := contract.New(contractAddr)
	ledger := usage.New(contractClient, cfg.FlushInterval)

	cat := catalogue.New()
	sessions := session.New()
	fwd := forwarder.New(0)
	loop := eventloop.New(transport, cat, sessions, fwd, ledger)
	loop.SetTopic(cfg.Rendezvous)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Info("signal received, shutting down")
		cancel()
	}()

	loopErrCh := make(chan error, 1)
	go func() { loopErrCh <- loop.Run(runCtx) }()
	go ledger.Run(runCtx)

	fwdListener := listener.New(fmt.Sprintf(":%d", cfg.ForwardPort), transport, cat, sessions, cfg.EnableMetrics)
	fwdListener.Start()
	defer fwdListener.Shutdown(context.Background())

	var verifier *auth.Verifier
	if cfg.MgmtAuthSecret != "" {
		verifier = auth.NewVerifier([]byte(cfg.MgmtAuthSecret), "apron-gateway")
	}
	mgmtAPI := mgmt.New(cat, loop, selfPeer, verifier)
	mgmtSrv := mgmt.NewServer(cfg.MgmtAddr, mgmtAPI)
	mgmtErrCh := make(chan error, 1)
	go func() { mgmtErrCh <- mgmtSrv.ListenAndServe() }()

	select {
	case <-runCtx.Done():
	case err := <-loopErrCh:
		if err != nil {
			lg.Errorw("event loop exited with error", "err", err)
			return exitOverlayInit
		}
	case err := <-mgmtErrCh:
		if err != nil {
			lg.Errorw("management API listener failed", "err", err)
			cancel()
			return exitBindFailure
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = mgmtSrv.Shutdown(shutdownCtx)

	lg.Info("goodbye")
	return exitGraceful
}
