package swarm

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

// GossipTransport is the send surface chunk-availability gossip needs.
type GossipTransport interface {
	SendFrame(ctx context.Context, peerID string, f *wire.Frame) error
}

// GossipConfig tunes heartbeat cadence for re-announcing local holdings.
type GossipConfig struct {
	PeerID            string
	SigningKey        ed25519.PrivateKey
	Transport         GossipTransport
	HeartbeatInterval time.Duration
}

func (c *GossipConfig) setDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
}

// datasetMesh is the set of peers known to announce holdings for one
// dataset, and this node's own view of which chunks it can serve.
type datasetMesh struct {
	mu          sync.RWMutex
	peers       map[string]bool
	localChunks map[uint64]bool
	// remote[chunkIdx] = set of peerIDs known to hold it
	remote map[uint64]map[string]bool
}

func newDatasetMesh() *datasetMesh {
	return &datasetMesh{
		peers:       make(map[string]bool),
		localChunks: make(map[uint64]bool),
		remote:      make(map[uint64]map[string]bool),
	}
}

// Gossip tracks, per dataset, which swarm peers hold which chunks, so
// a cache miss can be routed to a peer instead of the origin.
type Gossip struct {
	mu  sync.RWMutex
	cfg GossipConfig

	datasets map[string]*datasetMesh
	seq      uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGossip creates a Gossip instance. Call Start to begin heartbeats.
func NewGossip(cfg GossipConfig) (*Gossip, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("swarm: gossip transport is required")
	}
	cfg.setDefaults()
	return &Gossip{cfg: cfg, datasets: make(map[string]*datasetMesh)}, nil
}

// Start begins the periodic re-announcement of local holdings.
func (g *Gossip) Start(ctx context.Context) {
	g.mu.Lock()
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.mu.Unlock()
	go g.heartbeatLoop()
}

// Stop halts the heartbeat loop.
func (g *Gossip) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *Gossip) meshFor(datasetID string) *datasetMesh {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.datasets[datasetID]
	if !ok {
		m = newDatasetMesh()
		g.datasets[datasetID] = m
	}
	return m
}

// TrackMeshPeer adds peerID to the set a dataset's announcements are
// sent to and accepted from.
func (g *Gossip) TrackMeshPeer(datasetID, peerID string) {
	mesh := g.meshFor(datasetID)
	mesh.mu.Lock()
	mesh.peers[peerID] = true
	mesh.mu.Unlock()
}

// AnnounceLocal records that this node now holds chunkIdx of
// datasetID and gossips it to the dataset's mesh peers.
func (g *Gossip) AnnounceLocal(ctx context.Context, datasetID string, chunkIdx uint64) error {
	mesh := g.meshFor(datasetID)
	mesh.mu.Lock()
	mesh.localChunks[chunkIdx] = true
	peers := make([]string, 0, len(mesh.peers))
	for p := range mesh.peers {
		peers = append(peers, p)
	}
	mesh.mu.Unlock()

	return g.sendIHave(ctx, datasetID, []uint64{chunkIdx}, peers)
}

func (g *Gossip) sendIHave(ctx context.Context, datasetID string, chunks []uint64, peers []string) error {
	if len(chunks) == 0 {
		return nil
	}
	var firstErr error
	for _, peerID := range peers {
		f := wire.NewFrame(wire.KindGossipIHave, g.cfg.PeerID, g.nextSeq(), &wire.GossipIHaveBody{
			DatasetID:  datasetID,
			ChunkIndex: chunks,
		})
		if err := f.Sign(g.cfg.SigningKey); err != nil {
			return fmt.Errorf("swarm: sign IHave frame: %w", err)
		}
		if err := g.cfg.Transport.SendFrame(ctx, peerID, f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gossip) nextSeq() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// ProvidersFor returns the set of peers the mesh believes hold
// chunkIdx of datasetID, per gossiped IHave announcements.
func (g *Gossip) ProvidersFor(datasetID string, chunkIdx uint64) []string {
	mesh := g.meshFor(datasetID)
	mesh.mu.RLock()
	defer mesh.mu.RUnlock()
	holders := mesh.remote[chunkIdx]
	out := make([]string, 0, len(holders))
	for p := range holders {
		out = append(out, p)
	}
	return out
}

// HandleFrame applies an incoming gossip frame.
func (g *Gossip) HandleFrame(ctx context.Context, f *wire.Frame) error {
	switch f.Kind {
	case wire.KindGossipIHave:
		return g.handleIHave(f)
	case wire.KindGossipIWant:
		return g.handleIWant(ctx, f)
	default:
		return fmt.Errorf("swarm: unsupported gossip frame kind %d", f.Kind)
	}
}

func (g *Gossip) handleIHave(f *wire.Frame) error {
	body, ok := f.Body.(*wire.GossipIHaveBody)
	if !ok {
		return fmt.Errorf("swarm: malformed IHave body")
	}
	mesh := g.meshFor(body.DatasetID)
	mesh.mu.Lock()
	defer mesh.mu.Unlock()
	for _, c := range body.ChunkIndex {
		if mesh.remote[c] == nil {
			mesh.remote[c] = make(map[string]bool)
		}
		mesh.remote[c][f.From] = true
	}
	return nil
}

func (g *Gossip) handleIWant(ctx context.Context, f *wire.Frame) error {
	body, ok := f.Body.(*wire.GossipIWantBody)
	if !ok {
		return fmt.Errorf("swarm: malformed IWant body")
	}
	mesh := g.meshFor(body.DatasetID)
	mesh.mu.RLock()
	have := mesh.localChunks[body.ChunkIndex]
	mesh.mu.RUnlock()
	if !have {
		return nil
	}
	return g.sendIHave(ctx, body.DatasetID, []uint64{body.ChunkIndex}, []string{f.From})
}

func (g *Gossip) heartbeatLoop() {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()
	g.mu.RLock()
	ctx := g.ctx
	g.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.reannounceAll(ctx)
		}
	}
}

func (g *Gossip) reannounceAll(ctx context.Context) {
	g.mu.RLock()
	datasets := make(map[string]*datasetMesh, len(g.datasets))
	for id, m := range g.datasets {
		datasets[id] = m
	}
	g.mu.RUnlock()

	for datasetID, mesh := range datasets {
		mesh.mu.RLock()
		chunks := make([]uint64, 0, len(mesh.localChunks))
		for c := range mesh.localChunks {
			chunks = append(chunks, c)
		}
		peers := make([]string, 0, len(mesh.peers))
		for p := range mesh.peers {
			peers = append(peers, p)
		}
		mesh.mu.RUnlock()
		_ = g.sendIHave(ctx, datasetID, chunks, peers)
	}
}
