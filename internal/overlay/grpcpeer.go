// internal/overlay/grpcpeer.go
// Peer connection pool for the gRPC half of the transport. Dial-on-demand,
// one dial attempt per call; redialLoop adds exponential backoff but has no
// caller. Grounded on internal/agent/exporter's
// grpc_exporter.go connect/reconnect loop (kept in-tree as reference before
// its deletion; its cenkalti/backoff/v4 + grpc.DialContext shape is
// reproduced here against peer addresses instead of a single collector).
package overlay

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/apron-network/apron-gateway-go/internal/logging"
)

// peerConn tracks one outbound gRPC connection to a remote peer, identified
// by its dial address (host:port), not by an opaque peer id: the overlay
// has no discovery/DHT layer, so Exchange first resolves a peer identity to
// an address through the PeerDirectory and pools connections by that
// address.
type peerConn struct {
	addr   string
	cc     *grpc.ClientConn
	client *overlayClient
}

func (t *grpcTransport) dialPeer(ctx context.Context, addr string) (*peerConn, error) {
	t.peersMu.Lock()
	if pc, ok := t.peers[addr]; ok {
		t.peersMu.Unlock()
		return pc, nil
	}
	t.peersMu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	cc, err := grpc.DialContext(dialCtx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial %s: %w", addr, err)
	}

	pc := &peerConn{addr: addr, cc: cc, client: newOverlayClient(cc, t.cfg.SelfID)}

	t.peersMu.Lock()
	t.peers[addr] = pc
	t.peersMu.Unlock()

	t.emit(Event{Kind: PeerConnected, Peer: addr})
	go t.watchPeer(pc)
	return pc, nil
}

// watchPeer blocks on gRPC connectivity state transitions and emits
// PeerDisconnected once the connection is irrecoverably shut down, pruning
// it from the pool so the next dialPeer call redials from scratch.
func (t *grpcTransport) watchPeer(pc *peerConn) {
	ctx := context.Background()
	state := pc.cc.GetState()
	for state != connectivity.Shutdown {
		if !pc.cc.WaitForStateChange(ctx, state) {
			return
		}
		state = pc.cc.GetState()
	}

	t.peersMu.Lock()
	if t.peers[pc.addr] == pc {
		delete(t.peers, pc.addr)
	}
	t.peersMu.Unlock()
	t.emit(Event{Kind: PeerDisconnected, Peer: pc.addr})
}

// redialLoop retries dialPeer under an exponential backoff until it succeeds
// or ctx is cancelled. Nothing in this module calls it; Exchange calls
// dialPeer once per call and returns the dial error without retrying.
func (t *grpcTransport) redialLoop(ctx context.Context, addr string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		if ctx.Err() != nil {
			return
		}
		_, err := t.dialPeer(ctx, addr)
		if err == nil {
			return
		}
		wait := b.NextBackOff()
		logging.Sugar().Warnw("overlay: peer dial failed, backing off", "addr", addr, "err", err, "wait", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (t *grpcTransport) closePeers() {
	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	for addr, pc := range t.peers {
		_ = pc.cc.Close()
		delete(t.peers, addr)
	}
}
