package swarm

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

type loopbackGossipTransport struct {
	mu   sync.Mutex
	byID map[string]*Gossip
}

func newLoopbackGossipTransport() *loopbackGossipTransport {
	return &loopbackGossipTransport{byID: make(map[string]*Gossip)}
}

func (lt *loopbackGossipTransport) register(peerID string, g *Gossip) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.byID[peerID] = g
}

func (lt *loopbackGossipTransport) SendFrame(ctx context.Context, peerID string, f *wire.Frame) error {
	lt.mu.Lock()
	target, ok := lt.byID[peerID]
	lt.mu.Unlock()
	if !ok {
		return nil
	}
	return target.HandleFrame(ctx, f)
}

func TestGossipAnnounceLocalReachesMeshPeer(t *testing.T) {
	transport := newLoopbackGossipTransport()
	_, privA, _ := ed25519.GenerateKey(nil)
	_, privB, _ := ed25519.GenerateKey(nil)

	a, err := NewGossip(GossipConfig{PeerID: "peer:a", SigningKey: privA, Transport: transport})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGossip(GossipConfig{PeerID: "peer:b", SigningKey: privB, Transport: transport})
	if err != nil {
		t.Fatal(err)
	}
	transport.register("peer:a", a)
	transport.register("peer:b", b)

	a.TrackMeshPeer("ds1", "peer:b")
	if err := a.AnnounceLocal(context.Background(), "ds1", 7); err != nil {
		t.Fatal(err)
	}

	providers := b.ProvidersFor("ds1", 7)
	if len(providers) != 1 || providers[0] != "peer:a" {
		t.Fatalf("providers = %v, want [peer:a]", providers)
	}
}

func TestGossipIWantTriggersIHaveResponse(t *testing.T) {
	transport := newLoopbackGossipTransport()
	_, privA, _ := ed25519.GenerateKey(nil)
	_, privB, _ := ed25519.GenerateKey(nil)

	a, err := NewGossip(GossipConfig{PeerID: "peer:a", SigningKey: privA, Transport: transport})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewGossip(GossipConfig{PeerID: "peer:b", SigningKey: privB, Transport: transport})
	if err != nil {
		t.Fatal(err)
	}
	transport.register("peer:a", a)
	transport.register("peer:b", b)

	// peer:a silently holds chunk 3 of ds1 without announcing yet.
	mesh := a.meshFor("ds1")
	mesh.localChunks[3] = true

	iwant := wire.NewFrame(wire.KindGossipIWant, "peer:b", 1, &wire.GossipIWantBody{DatasetID: "ds1", ChunkIndex: 3})
	if err := iwant.Sign(privB); err != nil {
		t.Fatal(err)
	}
	if err := a.HandleFrame(context.Background(), iwant); err != nil {
		t.Fatal(err)
	}

	providers := b.ProvidersFor("ds1", 3)
	if len(providers) != 1 || providers[0] != "peer:a" {
		t.Fatalf("providers = %v, want [peer:a] after IWant/IHave round trip", providers)
	}
}
