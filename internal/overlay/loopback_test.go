package overlay

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackExchangeRoundTrip(t *testing.T) {
	mesh := NewLoopbackMesh()
	a := mesh.Join("peerA")
	b := mesh.Join("peerB")

	ctx := context.Background()
	if err := b.Start(ctx, func(ctx context.Context, peer string, req []byte) ([]byte, error) {
		if peer != "peerA" {
			t.Errorf("handler saw peer = %q, want peerA", peer)
		}
		return append([]byte("echo:"), req...), nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := a.Exchange(ctx, "peerB", []byte("hi"))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if string(reply) != "echo:hi" {
		t.Fatalf("reply = %q, want echo:hi", reply)
	}
}

func TestLoopbackExchangeUnreachablePeer(t *testing.T) {
	mesh := NewLoopbackMesh()
	a := mesh.Join("peerA")

	if _, err := a.Exchange(context.Background(), "ghost", []byte("x")); err == nil {
		t.Fatal("expected error exchanging with an unjoined peer")
	}
}

func TestLoopbackGossipFanout(t *testing.T) {
	mesh := NewLoopbackMesh()
	a := mesh.Join("peerA")
	b := mesh.Join("peerB")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, "catalogue")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := a.Publish(ctx, "catalogue", []byte("record-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub:
		if string(msg) != "record-1" {
			t.Fatalf("msg = %q, want record-1", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gossip message")
	}
}

func TestLoopbackDisconnectEmitsEvent(t *testing.T) {
	mesh := NewLoopbackMesh()
	a := mesh.Join("peerA")
	mesh.Join("peerB")

	mesh.Disconnect("peerB")

	select {
	case ev := <-a.Events():
		if ev.Kind != PeerDisconnected || ev.Peer != "peerB" {
			t.Fatalf("event = %+v, want PeerDisconnected/peerB", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect event")
	}
}
