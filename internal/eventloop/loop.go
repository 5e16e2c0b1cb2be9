// internal/eventloop/loop.go
// Network Event Loop (spec.md §4.4): the single goroutine whose select
// statement is the only place that mutates the Catalogue Store and Session
// Registry in response to network activity. Grounded on
// internal/gateway/server.go's Stream receive-loop shape ("read until
// error, dispatch, continue"), generalised to a select over five sources
// instead of one blocking Recv: inbound Exchange calls, overlay lifecycle
// events, catalogue gossip messages, peer-address announcements, and
// (SPEC_FULL.md §4.4 expansion) a shutdown context so tests can stop it
// deterministically.
package eventloop

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/forwarder"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/internal/metrics"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
	"github.com/apron-network/apron-gateway-go/internal/tracing"
	"github.com/apron-network/apron-gateway-go/internal/usage"
	"github.com/apron-network/apron-gateway-go/internal/wsbridge"
)

// GossipTopic is the Redis Pub/Sub / loopback topic catalogue records are
// broadcast on.
const GossipTopic = "apron.catalogue"

// peerAnnounceInterval is how often a node re-broadcasts its own
// identity/address pairing on the peer-directory gossip channel.
const peerAnnounceInterval = 15 * time.Second

// peerAnnouncement is the gossip payload that lets a remote node resolve
// this node's opaque peer identity to a dialable Exchange address (the
// production transport's Exchange otherwise has no way to turn an
// owner_peer/x-apron-peer value into a host:port to dial).
type peerAnnouncement struct {
	PeerID string `json:"peer_id"`
	Addr   string `json:"addr"`
}

// inboundExchange is one decoded Exchange call waiting for the loop to
// process it and hand back a reply.
type inboundExchange struct {
	peer  string
	tag   codec.Tag
	raw   []byte
	reply chan []byte
}

// Loop is the Network Event Loop.
type Loop struct {
	transport overlay.Transport
	catalogue *catalogue.Store
	sessions  *session.Registry
	fwd       *forwarder.Forwarder
	wsMgr     *wsbridge.Manager
	ledger    *usage.Ledger
	topic     string

	inbound chan inboundExchange
	gossip  <-chan []byte
	peers   <-chan []byte
}

// New builds a Loop over already-constructed collaborators. ledger may be
// nil, which disables usage accounting (tests that don't care about it).
// Call Run to start serving; Run installs the ExchangeHandler on transport
// and subscribes to the gossip topic (GossipTopic unless SetTopic was
// called — spec.md §6's --rendezvous lets operators rename the mesh's
// gossip channel). Run calls Start on transport itself, so callers must not
// call Start beforehand.
func New(transport overlay.Transport, cat *catalogue.Store, sessions *session.Registry, fwd *forwarder.Forwarder, ledger *usage.Ledger) *Loop {
	return &Loop{
		transport: transport,
		catalogue: cat,
		sessions:  sessions,
		fwd:       fwd,
		wsMgr:     wsbridge.NewManager(transport, sessions),
		ledger:    ledger,
		topic:     GossipTopic,
		inbound:   make(chan inboundExchange),
	}
}

// peerTopic is the gossip channel peer-address announcements travel on,
// namespaced under the catalogue's own rendezvous topic so unrelated
// meshes sharing one Redis instance don't cross-pollinate directories.
func (l *Loop) peerTopic() string { return l.topic + ".peers" }

// SetTopic overrides the default gossip topic (spec.md §6's --rendezvous).
// Must be called before Run.
func (l *Loop) SetTopic(topic string) {
	if topic != "" {
		l.topic = topic
	}
}

// Run starts the transport (installing the loop as its Exchange handler),
// subscribes to the gossip topic, and blocks in the select loop until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.transport.Start(ctx, l.handleExchange); err != nil {
		return err
	}
	gossip, err := l.transport.Subscribe(ctx, l.topic)
	if err != nil {
		return err
	}
	l.gossip = gossip

	peers, err := l.transport.Subscribe(ctx, l.peerTopic())
	if err != nil {
		return err
	}
	l.peers = peers
	go l.announceSelf(ctx)

	events := l.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.inbound:
			l.dispatch(ctx, ev)
		case raw := <-l.gossip:
			l.applyGossip(raw)
		case raw := <-l.peers:
			l.applyPeerAnnouncement(raw)
		case ev, ok := <-events:
			if !ok {
				continue
			}
			l.handleOverlayEvent(ev)
		}
	}
}

// announceSelf periodically publishes this node's identity/address pairing
// so remote peers' Exchange calls can resolve it, starting with an
// immediate announcement rather than waiting a full interval to join the
// mesh.
func (l *Loop) announceSelf(ctx context.Context) {
	l.publishPeerAnnouncement(ctx)
	ticker := time.NewTicker(peerAnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.publishPeerAnnouncement(ctx)
		}
	}
}

func (l *Loop) publishPeerAnnouncement(ctx context.Context) {
	addr := l.transport.Advertise()
	if addr == "" {
		return
	}
	body, err := json.Marshal(peerAnnouncement{PeerID: l.transport.LocalPeerID(), Addr: addr})
	if err != nil {
		return
	}
	if err := l.transport.Publish(ctx, l.peerTopic(), body); err != nil {
		logging.Sugar().Warnw("eventloop: peer announcement publish failed", "err", err)
	}
}

// applyPeerAnnouncement implements the peer-directory half of gossip:
// decode an announcement and register it with the transport so a future
// Exchange to this identity can resolve an address to dial.
func (l *Loop) applyPeerAnnouncement(raw []byte) {
	var ann peerAnnouncement
	if err := json.Unmarshal(raw, &ann); err != nil || ann.PeerID == "" || ann.Addr == "" {
		return
	}
	l.transport.RegisterPeerAddr(ann.PeerID, ann.Addr)
}

// handleExchange is installed as the transport's ExchangeHandler. It
// decodes the envelope, hands it to the loop goroutine, and blocks for the
// loop's (typically immediate) ack.
func (l *Loop) handleExchange(ctx context.Context, peer string, req []byte) ([]byte, error) {
	tag, raw, err := codec.Decode(req)
	if err != nil {
		metrics.CodecErrorsTotal.Inc()
		return nil, err
	}
	ev := inboundExchange{peer: peer, tag: tag, raw: raw, reply: make(chan []byte, 1)}
	select {
	case l.inbound <- ev:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reply := <-ev.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loop) dispatch(ctx context.Context, ev inboundExchange) {
	switch ev.tag {
	case codec.TagInitRequest:
		l.handleInitRequest(ctx, ev)
	case codec.TagClientWsFrame:
		l.handleClientWsFrame(ev)
	case codec.TagServiceWsFrame:
		l.handleServiceWsFrame(ev)
	case codec.TagHttpResult:
		l.handleHTTPResult(ev)
	case codec.TagSessionClose:
		l.handleSessionClose(ev)
	default:
		logging.Sugar().Warnw("eventloop: unknown schema tag, dropping", "tag", ev.tag, "peer", ev.peer)
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
	}
}

func ack(ev inboundExchange, payload []byte) {
	ev.reply <- payload
}

// handleInitRequest implements spec.md §4.4's RequestReceived(tag 0).
func (l *Loop) handleInitRequest(ctx context.Context, ev inboundExchange) {
	var info codec.ProxyRequestInfo
	if err := codec.Unmarshal(ev.raw, &info); err != nil {
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
		return
	}
	spanCtx, span := tracing.StartRequestSpan(ctx, "init_request", info.RequestID, info.ServiceID)
	defer span.End()

	rec, ok := l.catalogue.Get(info.ServiceID)
	if !ok {
		ack(ev, nil)
		return
	}
	provider, ok := rec.SelectProvider(info.IsWebsocket)
	if !ok {
		ack(ev, nil)
		return
	}
	targetURL := provider.TargetURL()

	if l.ledger != nil {
		l.ledger.OnRequestReceived(info.UserKey, int64(len(info.RawBody)))
	}

	if !info.IsWebsocket {
		ack(ev, nil)
		go l.forwardAndReply(spanCtx, ev.peer, info, targetURL)
		return
	}

	ack(ev, nil)
	l.wsMgr.OpenUplink(spanCtx, ev.peer, info, targetURL)
}

// forwardAndReply runs the blocking HTTP call off the loop goroutine and
// sends the result back to the origin as a new tag-3 HttpResult Exchange
// call, per spec.md §4.4. on_response_sent fires here (SSG HttpResult
// emission, spec.md §9), not in the Forward Listener: that is the CSG side,
// which never generated the traffic being billed.
func (l *Loop) forwardAndReply(ctx context.Context, originPeer string, info codec.ProxyRequestInfo, targetURL string) {
	resp := l.fwd.Forward(ctx, info, targetURL)
	if l.ledger != nil {
		l.ledger.OnResponseSent(info.UserKey, int64(len(resp.Body)))
	}
	framed, err := codec.Encode(codec.TagHttpResult, resp)
	if err != nil {
		logging.Sugar().Errorw("eventloop: encode http result", "request_id", info.RequestID, "err", err)
		return
	}
	if _, err := l.transport.Exchange(ctx, originPeer, framed); err != nil {
		logging.Sugar().Warnw("eventloop: deliver http result failed", "request_id", info.RequestID, "peer", originPeer, "err", err)
	}
}

// handleClientWsFrame implements RequestReceived(tag 1): SSG side,
// forwarding a user frame into the matching ServiceSideSession's mailbox.
func (l *Loop) handleClientWsFrame(ev inboundExchange) {
	var frame codec.ProxyData
	if err := codec.Unmarshal(ev.raw, &frame); err != nil {
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
		return
	}
	if uplink, ok := l.sessions.LookupSSG(ev.peer, frame.RequestID); ok {
		uplink.Offer(frame)
	}
	ack(ev, nil)
}

// handleServiceWsFrame implements RequestReceived(tag 2): CSG side,
// delivering a backend frame into the waiting ClientSideSession.
func (l *Loop) handleServiceWsFrame(ev inboundExchange) {
	var frame codec.ProxyData
	if err := codec.Unmarshal(ev.raw, &frame); err != nil {
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
		return
	}
	if ch, ok := l.sessions.LookupCSG(frame.RequestID); ok {
		select {
		case ch <- session.Delivery{Frame: &frame}:
		default:
			// The ClientSideSession is momentarily behind; this mirrors
			// the capacity-0 synchronous handoff contract (spec.md
			// §4.7 step 3) by simply not blocking the loop on a slow
			// peer. The frame is lost, same as a dropped mailbox frame.
			metrics.DroppedFramesTotal.Inc()
		}
	}
	ack(ev, nil)
}

// handleHTTPResult implements RequestReceived(tag 3): CSG side, delivering
// the final response and removing the Session Registry entry.
func (l *Loop) handleHTTPResult(ev inboundExchange) {
	var resp codec.HttpProxyResponse
	if err := codec.Unmarshal(ev.raw, &resp); err != nil {
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
		return
	}
	if ch, ok := l.sessions.LookupCSG(resp.RequestID); ok {
		select {
		case ch <- session.Delivery{Response: &resp}:
		default:
		}
		l.sessions.RemoveCSG(resp.RequestID)
	}
	ack(ev, nil)
}

// handleSessionClose implements the tag-4 SessionClose envelope
// (SPEC_FULL.md §9 design note): purge whichever side's registry entry
// matches and signal the owning actor to drain.
func (l *Loop) handleSessionClose(ev inboundExchange) {
	var sc codec.SessionClose
	if err := codec.Unmarshal(ev.raw, &sc); err != nil {
		metrics.CodecErrorsTotal.Inc()
		ack(ev, nil)
		return
	}
	if ch, ok := l.sessions.LookupCSG(sc.RequestID); ok {
		select {
		case ch <- session.Delivery{Closed: true}:
		default:
		}
		l.sessions.RemoveCSG(sc.RequestID)
	}
	if uplink, ok := l.sessions.LookupSSG(ev.peer, sc.RequestID); ok {
		select {
		case <-uplink.Close:
		default:
			close(uplink.Close)
		}
		l.sessions.RemoveSSG(ev.peer, sc.RequestID)
	}
	ack(ev, nil)
}

// applyGossip implements RequestReceived "GossipMessage": decode as
// ServiceRecord and merge into the Catalogue Store. Gossip payloads are
// plain JSON, not codec-tagged envelopes: the gossip plane has exactly one
// message shape, so no schema tag is needed to disambiguate it.
func (l *Loop) applyGossip(raw []byte) {
	var rec catalogue.ServiceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		metrics.CodecErrorsTotal.Inc()
		logging.Sugar().Warnw("eventloop: malformed gossip message, dropping", "err", err)
		return
	}
	l.catalogue.InsertOrUpdate(rec)
}

// handleOverlayEvent implements ConnectionEstablished/ConnectionClosed.
func (l *Loop) handleOverlayEvent(ev overlay.Event) {
	switch ev.Kind {
	case overlay.PeerConnected:
		logging.Sugar().Infow("eventloop: peer connected", "peer", ev.Peer)
	case overlay.PeerDisconnected:
		logging.Sugar().Infow("eventloop: peer disconnected, purging sessions", "peer", ev.Peer)
		for _, uplink := range l.sessions.PurgePeer(ev.Peer) {
			select {
			case <-uplink.Close:
			default:
				close(uplink.Close)
			}
		}
		for _, ch := range l.sessions.PurgeCSGPeer(ev.Peer) {
			select {
			case ch <- session.Delivery{Err: errPeerDisconnected(ev.Peer)}:
			default:
			}
		}
	}
}

type peerDisconnectedError string

func (e peerDisconnectedError) Error() string { return string(e) }

func errPeerDisconnected(peer string) error {
	return peerDisconnectedError("eventloop: peer " + peer + " disconnected")
}

// PublishServiceRecord broadcasts rec on the gossip topic; used by the
// Management API after a local catalogue mutation (spec.md §4.4's
// PublishGossip outbound command).
func (l *Loop) PublishServiceRecord(ctx context.Context, rec catalogue.ServiceRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.transport.Publish(ctx, l.topic, body)
}
