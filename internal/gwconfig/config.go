// internal/gwconfig/config.go
// Centralised loader for node configuration. Populates Config from (in
// precedence order): defaults, then an optional config file, then
// environment variables prefixed APRON_GW_, then explicit CLI flags bound
// by cmd/apron-gateway. Grounded on internal/gateway/config.go's
// viper-backed DefaultConfig/LoadConfig split, generalised from the
// teacher's single-listener Config to this node's full flag set
// (spec.md §6, plus SPEC_FULL.md §6's --redis-addr/--grpc-addr addition).
package gwconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every externally-configurable knob a node needs to start.
type Config struct {
	// PeerAddr is an optional bootstrap peer's gRPC address (spec.md §6: "--peer").
	PeerAddr string

	// P2PAddr is kept as the contract name from spec.md §6 even though this
	// binding listens on a plain gRPC address rather than a libp2p multiaddr
	// (SPEC_FULL.md §6); GRPCAddr is derived from it when unset.
	P2PAddr string

	// ForwardPort is the CSG forward listener's port (spec.md §6, default 8080).
	ForwardPort int

	// MgmtAddr is the Management API bind address (spec.md §6, default "0.0.0.0:8082").
	MgmtAddr string

	// SecretKeySeed optionally derives a deterministic peer identity (spec.md §6).
	SecretKeySeed uint8
	HasSeed       bool

	// Rendezvous is the gossip topic name (spec.md §6, default "apron-test-net").
	Rendezvous string

	// Billing collaborator parameters (spec.md §6); an empty MarketContractAddr
	// or StatContractAddr disables the respective Contract Client call.
	WSEndpoint        string
	MarketContractAddr string
	MarketContractABI  string
	StatContractAddr   string
	StatContractABI    string

	// RedisAddr/RedisPassword back the gossip Pub/Sub bus (SPEC_FULL.md §6 expansion).
	RedisAddr     string
	RedisPassword string

	// GRPCAddr is the inter-gateway OverlayService listen address (SPEC_FULL.md §6
	// expansion); derived from P2PAddr's port when left empty.
	GRPCAddr string

	// MgmtAuthSecret, when non-empty, gates the Management API behind a
	// bearer JWT signed with this HMAC secret (SPEC_FULL.md §4.10).
	MgmtAuthSecret string

	// FlushInterval is the Usage Ledger's batch period (spec.md §9, default 60s).
	FlushInterval time.Duration

	EnableMetrics bool
}

// DefaultConfig returns production-shaped defaults suitable for local dev,
// mirroring spec.md §6's stated flag defaults.
func DefaultConfig() Config {
	return Config{
		P2PAddr:       "/ip4/0.0.0.0/tcp/2145",
		ForwardPort:   8080,
		MgmtAddr:      "0.0.0.0:8082",
		Rendezvous:    "apron-test-net",
		RedisAddr:     "127.0.0.1:6379",
		FlushInterval: 60 * time.Second,
		EnableMetrics: true,
	}
}

// Load merges an optional config file and APRON_GW_-prefixed environment
// variables on top of DefaultConfig(), then derives GRPCAddr from P2PAddr
// when the caller (or file/env) left it unset. filePath may be empty.
func Load(filePath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("APRON_GW")
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("gwconfig: reading config file %q: %w", filePath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("gwconfig: decoding config: %w", err)
	}

	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = deriveGRPCAddr(cfg.P2PAddr)
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("peeraddr", cfg.PeerAddr)
	v.SetDefault("p2paddr", cfg.P2PAddr)
	v.SetDefault("forwardport", cfg.ForwardPort)
	v.SetDefault("mgmtaddr", cfg.MgmtAddr)
	v.SetDefault("rendezvous", cfg.Rendezvous)
	v.SetDefault("redisaddr", cfg.RedisAddr)
	v.SetDefault("flushinterval", cfg.FlushInterval)
	v.SetDefault("enablemetrics", cfg.EnableMetrics)
}

// deriveGRPCAddr lifts the trailing "/tcp/<port>" segment out of a
// multiaddr-shaped P2PAddr and binds gRPC to the same port on all
// interfaces; this binding never actually parses multiaddrs beyond this
// one segment (SPEC_FULL.md §6), so anything else falls back to the
// original default p2p port.
func deriveGRPCAddr(p2pAddr string) string {
	const fallback = "0.0.0.0:2145"
	const marker = "/tcp/"
	idx := strings.LastIndex(p2pAddr, marker)
	if idx < 0 {
		return fallback
	}
	port := p2pAddr[idx+len(marker):]
	if port == "" {
		return fallback
	}
	return "0.0.0.0:" + port
}
