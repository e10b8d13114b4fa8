package core

// Libp2pTransport is the production PeerTransport, grounded on the
// teacher's network.go (libp2p.New + pubsub.NewGossipSub + mDNS discovery,
// HandlePeerFound/DialSeed pattern) generalised from a blockchain gossip
// node to envelope pub/sub plus direct send.

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	ma "github.com/multiformats/go-multiaddr"
	logrus "github.com/sirupsen/logrus"
)

const directSendProtocol = "/mesh/direct/1.0.0"

// Libp2pTransportConfig mirrors the network section of the config surface.
type Libp2pTransportConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	EnableMdns     bool
}

// Libp2pTransport wraps a libp2p host, a gossipsub router, and an mDNS
// discovery service behind the PeerTransport interface.
type Libp2pTransport struct {
	self    Did
	host    host.Host
	ps      *pubsub.PubSub
	breaker *CircuitBreaker
	log     *logrus.Logger

	mu             sync.Mutex
	topics         map[string]*pubsub.Topic
	directHandlers []func(Envelope)
}

// NewLibp2pTransport starts a libp2p host bound to cfg.ListenAddr, joins
// gossipsub, and (if enabled) starts mDNS discovery.
func NewLibp2pTransport(ctx context.Context, self Did, cfg Libp2pTransportConfig, breaker *CircuitBreaker, log *logrus.Logger) (*Libp2pTransport, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("core: start libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("core: start gossipsub: %w", err)
	}

	t := &Libp2pTransport{
		self:    self,
		host:    h,
		ps:      ps,
		breaker: breaker,
		log:     log,
		topics:  make(map[string]*pubsub.Topic),
	}

	h.SetStreamHandler(directSendProtocol, t.handleDirectStream)

	if cfg.EnableMdns {
		svc := mdns.NewMdnsService(h, "mesh-discovery", &mdnsNotifee{host: h, log: log})
		if err := svc.Start(); err != nil {
			log.WithError(err).Warn("transport: mdns start failed, continuing without local discovery")
		}
	}
	for _, addr := range cfg.BootstrapPeers {
		if err := t.Connect(ctx, addr); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("transport: bootstrap dial failed")
		}
	}
	return t, nil
}

func (t *Libp2pTransport) LocalPeerId() Did { return t.self }

func (t *Libp2pTransport) topic(name string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if top, ok := t.topics[name]; ok {
		return top, nil
	}
	top, err := t.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("core: join topic %s: %w", name, err)
	}
	t.topics[name] = top
	return top, nil
}

func (t *Libp2pTransport) Broadcast(ctx context.Context, topic string, env Envelope) error {
	top, err := t.topic(topic)
	if err != nil {
		return err
	}
	data, err := envelopeToWire(env)
	if err != nil {
		return err
	}
	return t.breaker.CallWithRetry(ctx, func() error {
		return top.Publish(ctx, data)
	})
}

// Subscribe registers handler for a gossip topic. Passing an empty topic
// registers handler for direct (non-pub/sub) messages instead.
func (t *Libp2pTransport) Subscribe(ctx context.Context, topic string, handler func(Envelope)) error {
	if topic == "" {
		t.mu.Lock()
		t.directHandlers = append(t.directHandlers, handler)
		t.mu.Unlock()
		return nil
	}
	top, err := t.topic(topic)
	if err != nil {
		return err
	}
	sub, err := top.Subscribe()
	if err != nil {
		return fmt.Errorf("core: subscribe to topic %s: %w", topic, err)
	}
	go func() {
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return // ctx cancelled or subscription cancelled
			}
			if msg.ReceivedFrom == t.host.ID() {
				continue
			}
			env, err := envelopeFromWire(msg.Data)
			if err != nil {
				t.log.WithError(err).Warn("transport: dropped malformed envelope")
				continue
			}
			handler(env)
		}
	}()
	return nil
}

func (t *Libp2pTransport) Send(ctx context.Context, to Did, env Envelope) error {
	pid, err := didToPeerID(to)
	if err != nil {
		return err
	}
	data, err := envelopeToWire(env)
	if err != nil {
		return err
	}
	return t.breaker.CallWithRetry(ctx, func() error {
		s, err := t.host.NewStream(ctx, pid, directSendProtocol)
		if err != nil {
			return fmt.Errorf("core: open direct stream to %s: %w", to, ErrTimeout)
		}
		defer s.Close()
		_, err = s.Write(data)
		return err
	})
}

func (t *Libp2pTransport) handleDirectStream(s network.Stream) {
	defer s.Close()
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := s.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	env, err := envelopeFromWire(buf)
	if err != nil {
		t.log.WithError(err).Warn("transport: malformed direct message")
		return
	}
	t.mu.Lock()
	handlers := append([]func(Envelope){}, t.directHandlers...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (t *Libp2pTransport) DiscoverPeers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	for _, p := range t.host.Network().Peers() {
		out = append(out, PeerInfo{Did: peerIDToDidBestEffort(p), Addr: p.String()})
	}
	return out, nil
}

func (t *Libp2pTransport) Connect(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("core: parse multiaddr %s: %w", addr, ErrInvalidInput)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("core: resolve peer addr %s: %w", addr, ErrInvalidInput)
	}
	return t.breaker.CallWithRetry(ctx, func() error {
		return t.host.Connect(ctx, *info)
	})
}

func (t *Libp2pTransport) Close() error {
	return t.host.Close()
}

type mdnsNotifee struct {
	host host.Host
	log  *logrus.Logger
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if err := n.host.Connect(context.Background(), pi); err != nil {
		n.log.WithError(err).WithField("peer", pi.ID.String()).Debug("transport: mdns peer dial failed")
	}
}

// didToPeerID and peerIDToDidBestEffort bridge mesh Dids and libp2p peer
// IDs. A did:key's embedded Ed25519 public key is unmarshalled into a
// libp2p public key to derive the corresponding peer ID, so production
// deployments should mint libp2p identities from the same key as the mesh
// Signer.
func didToPeerID(d Did) (peer.ID, error) {
	raw, err := PublicKeyFromDid(d)
	if err != nil {
		return "", err
	}
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("core: unmarshal did %s as libp2p key: %w", d, ErrInvalidInput)
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("core: derive peer id from did %s: %w", d, ErrInvalidInput)
	}
	return pid, nil
}

func peerIDToDidBestEffort(p peer.ID) Did {
	return Did{Method: didMethodKey, ID: p.String()}
}
