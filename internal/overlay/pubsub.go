// internal/overlay/pubsub.go
// Gossip half of the transport (spec.md §4.1), backed by Redis Pub/Sub.
// Grounded on internal/gateway/retention/redis.go's go-redis/v9 client
// usage, adapted from a capped list (retention replay) to a pub/sub channel
// (catalogue record broadcast): every InsertOrUpdate/Delete is published
// once and every peer, including the publisher, receives it via its own
// Subscribe call.
package overlay

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/apron-network/apron-gateway-go/internal/logging"
)

// redisGossip wraps a redis.Client and fans a single underlying
// subscription per topic out to any number of local Subscribe callers, so
// the rest of the gateway never has to reason about Redis's one-reader-per-
// connection model.
type redisGossip struct {
	cli *redis.Client

	mu       sync.Mutex
	channels map[string]*gossipChannel
}

type gossipChannel struct {
	sub       *redis.PubSub
	listeners []chan []byte
}

func newRedisGossip(cli *redis.Client) *redisGossip {
	return &redisGossip{cli: cli, channels: make(map[string]*gossipChannel)}
}

func (g *redisGossip) publish(ctx context.Context, topic string, payload []byte) error {
	return g.cli.Publish(ctx, topic, payload).Err()
}

func (g *redisGossip) subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	out := make(chan []byte, 64)

	g.mu.Lock()
	gc, ok := g.channels[topic]
	if !ok {
		sub := g.cli.Subscribe(ctx, topic)
		gc = &gossipChannel{sub: sub}
		g.channels[topic] = gc
		go g.pump(topic, gc)
	}
	gc.listeners = append(gc.listeners, out)
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.removeListener(topic, out)
	}()
	return out, nil
}

// pump reads Redis messages for topic and fans them out to every local
// listener registered at the time of delivery.
func (g *redisGossip) pump(topic string, gc *gossipChannel) {
	ch := gc.sub.Channel()
	for msg := range ch {
		g.mu.Lock()
		listeners := append([]chan []byte(nil), gc.listeners...)
		g.mu.Unlock()
		for _, l := range listeners {
			select {
			case l <- []byte(msg.Payload):
			default:
				logging.Sugar().Warnw("overlay: gossip listener full, dropping message", "topic", topic)
			}
		}
	}
}

func (g *redisGossip) removeListener(topic string, target chan []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gc, ok := g.channels[topic]
	if !ok {
		return
	}
	for i, l := range gc.listeners {
		if l == target {
			gc.listeners = append(gc.listeners[:i], gc.listeners[i+1:]...)
			close(target)
			break
		}
	}
}

func (g *redisGossip) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, gc := range g.channels {
		_ = gc.sub.Close()
	}
	return g.cli.Close()
}
