// internal/overlay/grpc_transport.go
// grpcTransport is the production Transport binding: a gRPC server
// accepting inbound Exchange calls, a pool of outbound gRPC client
// connections for Exchange calls this process initiates, and Redis Pub/Sub
// for gossip. Follows the usual grpc.NewServer / net.Listen / GracefulStop
// server shape.
package overlay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/apron-network/apron-gateway-go/internal/logging"
)

// Config parameterises the production transport.
type Config struct {
	SelfID         string        // this process's peer id, sent on every Exchange call
	GRPCListenAddr string        // host:port the Exchange server binds
	RedisAddr      string        // host:port of the gossip Redis instance
	RedisPassword  string        // optional
	DialTimeout    time.Duration // per-peer dial timeout; defaults to 5s
}

type grpcTransport struct {
	cfg     Config
	grpcSrv *grpc.Server
	handler ExchangeHandler
	gossip  *redisGossip
	dir     *PeerDirectory

	peersMu sync.Mutex
	peers   map[string]*peerConn

	events chan Event
}

// New constructs a production Transport. Call Start to begin serving.
func New(cfg Config) Transport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &grpcTransport{
		cfg:    cfg,
		dir:    NewPeerDirectory(),
		peers:  make(map[string]*peerConn),
		events: make(chan Event, 64),
	}
}

func (t *grpcTransport) Start(ctx context.Context, handler ExchangeHandler) error {
	t.handler = handler

	ln, err := net.Listen("tcp", t.cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("overlay: listen %s: %w", t.cfg.GRPCListenAddr, err)
	}
	t.grpcSrv = grpc.NewServer()
	registerOverlayServer(t.grpcSrv, t)
	// A node is always reachable at its own advertised address; harmless to
	// record even though a node never dials itself.
	t.dir.Set(t.cfg.SelfID, t.cfg.GRPCListenAddr)

	go func() {
		logging.Sugar().Infow("overlay: exchange server listening", "addr", ln.Addr().String())
		if err := t.grpcSrv.Serve(ln); err != nil {
			logging.Sugar().Warnw("overlay: exchange server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		t.grpcSrv.GracefulStop()
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     t.cfg.RedisAddr,
		Password: t.cfg.RedisPassword,
	})
	t.gossip = newRedisGossip(redisClient)
	return nil
}

// handleExchange satisfies exchangeServer; it is invoked by the generated-
// style gRPC handler in grpcservice.go for every inbound Exchange call.
func (t *grpcTransport) handleExchange(ctx context.Context, peer string, req []byte) ([]byte, error) {
	if t.handler == nil {
		return nil, fmt.Errorf("overlay: no exchange handler installed")
	}
	return t.handler(ctx, peer, req)
}

func (t *grpcTransport) Exchange(ctx context.Context, peer string, req []byte) ([]byte, error) {
	addr, ok := t.dir.Resolve(peer)
	if !ok {
		// No announcement has arrived yet for this identity. Fall back to
		// treating peer as a literal address: this keeps callers that
		// already pass a dialable address (the --peer bootstrap seed)
		// working, and fails exactly as before for an unresolved opaque
		// identity, rather than silently misdialing.
		addr = peer
	}
	pc, err := t.dialPeer(ctx, addr)
	if err != nil {
		return nil, err
	}
	return pc.client.Exchange(ctx, req)
}

func (t *grpcTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.gossip.publish(ctx, topic, payload)
}

func (t *grpcTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return t.gossip.subscribe(ctx, topic)
}

func (t *grpcTransport) Events() <-chan Event {
	return t.events
}

func (t *grpcTransport) LocalPeerID() string {
	return t.cfg.SelfID
}

func (t *grpcTransport) Advertise() string {
	return t.cfg.GRPCListenAddr
}

func (t *grpcTransport) RegisterPeerAddr(peerID, addr string) {
	t.dir.Set(peerID, addr)
}

func (t *grpcTransport) Close() error {
	t.closePeers()
	if t.grpcSrv != nil {
		t.grpcSrv.Stop()
	}
	if t.gossip != nil {
		return t.gossip.close()
	}
	return nil
}

func (t *grpcTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		logging.Sugar().Warnw("overlay: events channel full, dropping event", "kind", ev.Kind, "peer", ev.Peer)
	}
}
