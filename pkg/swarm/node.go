// Package swarm ties identity, transport, handshake, membership,
// gossip, and the provider directory into a single running peer: a
// Node dials and accepts connections, keeps one encrypted session per
// peer, and answers chunk-fetch requests from its local ChunkSource.
package swarm

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nosqlbench/vecstore/pkg/swarm/dial"
	"github.com/nosqlbench/vecstore/pkg/swarm/noiseik"
	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

// State is a Node's lifecycle stage.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ChunkSource answers a local chunk-data lookup for an incoming
// FetchChunk request; store.Channel's cache satisfies this once
// wrapped to key by dataset ID.
type ChunkSource interface {
	ReadChunk(datasetID string, chunkIdx uint64) ([]byte, error)
}

// peerSession is one established, encrypted connection to a peer.
type peerSession struct {
	conn    dial.Conn
	session *noiseik.Session
	writeMu sync.Mutex
	seq     uint64
}

func (ps *peerSession) nextSeq() uint64 {
	ps.seq++
	return ps.seq
}

// pendingFetch is an in-flight FetchChunk awaiting its ChunkData (or
// ChunkNotHeld) response.
type pendingFetch struct {
	result chan fetchResult
}

type fetchResult struct {
	data []byte
	err  error
}

// Node is one running swarm participant.
type Node struct {
	mu sync.RWMutex

	identity  *Identity
	swarmID   string
	transport dial.Transport
	tlsConfig *tls.Config
	source    ChunkSource

	Membership *Membership
	Gossip     *Gossip
	Directory  *Directory

	sessions map[string]*peerSession // peerID -> session
	pending  map[uint64]*pendingFetch
	seq      uint64

	listener dial.Listener
	state    State
	ctx      context.Context
	cancel   context.CancelFunc
}

// NodeConfig gathers what's needed to bring up a Node.
type NodeConfig struct {
	Identity  *Identity
	SwarmID   string
	Transport dial.Transport // defaults to QUIC if nil
	TLSConfig *tls.Config
	Source    ChunkSource
}

// NewNode constructs a Node; call Start to begin listening and
// running the membership/gossip background loops.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("swarm: node identity is required")
	}
	if cfg.SwarmID == "" {
		return nil, fmt.Errorf("swarm: swarm id is required")
	}
	if cfg.Transport == nil {
		cfg.Transport = dial.NewQUIC()
	}

	n := &Node{
		identity:  cfg.Identity,
		swarmID:   cfg.SwarmID,
		transport: cfg.Transport,
		tlsConfig: cfg.TLSConfig,
		source:    cfg.Source,
		Directory: NewDirectory(),
		sessions:  make(map[string]*peerSession),
		pending:   make(map[uint64]*pendingFetch),
		state:     StateStopped,
	}

	membership, err := NewMembership(MembershipConfig{
		PeerID:     n.identity.PeerID(),
		SigningKey: n.identity.SigningPrivateKey,
		Transport:  n,
	})
	if err != nil {
		return nil, err
	}
	n.Membership = membership

	gossip, err := NewGossip(GossipConfig{
		PeerID:     n.identity.PeerID(),
		SigningKey: n.identity.SigningPrivateKey,
		Transport:  n,
	})
	if err != nil {
		return nil, err
	}
	n.Gossip = gossip

	return n, nil
}

// Start begins listening on bindAddr and runs the background loops.
func (n *Node) Start(ctx context.Context, bindAddr string) error {
	n.mu.Lock()
	if n.state != StateStopped {
		n.mu.Unlock()
		return fmt.Errorf("swarm: node already started")
	}
	n.state = StateStarting
	n.ctx, n.cancel = context.WithCancel(ctx)
	nodeCtx := n.ctx
	n.mu.Unlock()

	listener, err := n.transport.Listen(nodeCtx, bindAddr, n.tlsConfig)
	if err != nil {
		n.mu.Lock()
		n.state = StateStopped
		n.mu.Unlock()
		return fmt.Errorf("swarm: listen on %s: %w", bindAddr, err)
	}

	n.mu.Lock()
	n.listener = listener
	n.state = StateRunning
	n.mu.Unlock()

	n.Membership.Start(nodeCtx)
	n.Gossip.Start(nodeCtx)
	go n.acceptLoop(nodeCtx)
	return nil
}

// Addr returns the listener's bound address; only valid once Start has
// succeeded.
func (n *Node) Addr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Stop halts background loops and closes the listener and all sessions.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.state != StateRunning {
		n.mu.Unlock()
		return nil
	}
	n.state = StateStopping
	cancel := n.cancel
	listener := n.listener
	sessions := make([]*peerSession, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.Membership.Stop()
	n.Gossip.Stop()
	if listener != nil {
		_ = listener.Close()
	}
	for _, s := range sessions {
		_ = s.conn.Close()
	}

	n.mu.Lock()
	n.state = StateStopped
	n.mu.Unlock()
	return nil
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go n.acceptHandshake(ctx, conn)
	}
}

func (n *Node) acceptHandshake(ctx context.Context, conn dial.Conn) {
	hs, err := noiseik.NewResponderHandshake(n.identity, n.swarmID, n.identity.KeyAgreementPrivateKey, n.identity.KeyAgreementPublicKey)
	if err != nil {
		_ = conn.Close()
		return
	}
	msg1, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	_, _, err = hs.ReadMessage(msg1)
	if err != nil {
		_ = conn.Close()
		return
	}
	msg2, session, err := hs.WriteMessage(nil)
	if err != nil || session == nil {
		_ = conn.Close()
		return
	}
	if err := writeFrame(conn, msg2); err != nil {
		_ = conn.Close()
		return
	}

	// The responder doesn't learn the initiator's PeerID from the
	// Noise handshake itself (IK authenticates by static key, not by
	// identity claim); the peer's first wire.Frame carries it in From.
	n.readLoop(ctx, "", conn, session)
}

// Dial opens an authenticated session to a known peer and starts
// reading frames from it in the background.
func (n *Node) Dial(ctx context.Context, peerID, addr string, peerStatic [32]byte) error {
	conn, err := n.transport.Dial(ctx, addr, n.tlsConfig)
	if err != nil {
		return fmt.Errorf("swarm: dial %s: %w", addr, err)
	}
	hs, err := noiseik.NewInitiatorHandshake(n.identity, n.swarmID, n.identity.KeyAgreementPrivateKey, n.identity.KeyAgreementPublicKey, peerStatic)
	if err != nil {
		_ = conn.Close()
		return err
	}
	msg1, _, err := hs.WriteMessage(nil)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := writeFrame(conn, msg1); err != nil {
		_ = conn.Close()
		return err
	}
	msg2, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	_, session, err := hs.ReadMessage(msg2)
	if err != nil || session == nil {
		_ = conn.Close()
		return fmt.Errorf("swarm: handshake with %s did not complete", peerID)
	}

	n.mu.Lock()
	n.sessions[peerID] = &peerSession{conn: conn, session: session}
	n.mu.Unlock()

	go n.readLoop(ctx, peerID, conn, session)
	return nil
}

// SendFrame implements MembershipTransport and GossipTransport,
// encrypting and writing f to the session already established with
// peerID (via Dial, or an inbound connection once its first frame
// reveals the sender).
func (n *Node) SendFrame(ctx context.Context, peerID string, f *wire.Frame) error {
	n.mu.RLock()
	ps, ok := n.sessions[peerID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("swarm: no session established with %s", peerID)
	}

	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()
	// Membership, gossip and chunk fetch number frames with their own
	// counters; restamp with the session's counter so the peer's replay
	// window sees one increasing sequence per session.
	f.Seq = ps.nextSeq()
	if err := f.Sign(n.identity.SigningPrivateKey); err != nil {
		return fmt.Errorf("swarm: sign frame: %w", err)
	}
	plaintext, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("swarm: marshal frame: %w", err)
	}
	ct, err := ps.session.Encrypt(nil, plaintext)
	if err != nil {
		return fmt.Errorf("swarm: encrypt frame: %w", err)
	}
	return writeFrame(ps.conn, ct)
}

func (n *Node) readLoop(ctx context.Context, knownPeerID string, conn dial.Conn, session *noiseik.Session) {
	peerID := knownPeerID
	for {
		ct, err := readFrame(conn)
		if err != nil {
			return
		}
		plaintext, err := session.Decrypt(nil, ct)
		if err != nil {
			continue
		}
		f, err := wire.UnmarshalFrame(plaintext)
		if err != nil {
			continue
		}
		if err := f.Validate(); err != nil {
			continue
		}
		if !session.AcceptSequence(f.Seq) {
			continue // replayed or stale frame
		}

		if peerID == "" {
			peerID = f.From
			n.mu.Lock()
			n.sessions[peerID] = &peerSession{conn: conn, session: session}
			n.mu.Unlock()
		}

		n.dispatch(ctx, peerID, f)
	}
}

func (n *Node) dispatch(ctx context.Context, peerID string, f *wire.Frame) {
	switch {
	case f.Kind >= wire.KindMembershipPing && f.Kind <= wire.KindMembershipLeave:
		_ = n.Membership.HandleFrame(ctx, f)
	case f.Kind == wire.KindGossipIHave || f.Kind == wire.KindGossipIWant:
		_ = n.Gossip.HandleFrame(ctx, f)
	case f.Kind == wire.KindFetchChunk:
		n.handleFetchChunk(ctx, peerID, f)
	case f.Kind == wire.KindChunkData, f.Kind == wire.KindChunkNotHeld:
		n.handleChunkResponse(f)
	}
}

func (n *Node) handleFetchChunk(ctx context.Context, peerID string, f *wire.Frame) {
	body, ok := f.Body.(*wire.FetchChunkBody)
	if !ok || n.source == nil {
		return
	}
	data, err := n.source.ReadChunk(body.DatasetID, body.ChunkIndex)
	var resp *wire.Frame
	if err != nil {
		resp = wire.NewFrame(wire.KindChunkNotHeld, n.identity.PeerID(), n.nextSeq(), &wire.ChunkNotHeldBody{
			DatasetID: body.DatasetID, ChunkIndex: body.ChunkIndex, RequestSeq: body.RequestSeq,
		})
	} else {
		resp = wire.NewFrame(wire.KindChunkData, n.identity.PeerID(), n.nextSeq(), &wire.ChunkDataBody{
			DatasetID: body.DatasetID, ChunkIndex: body.ChunkIndex, Data: data, RequestSeq: body.RequestSeq,
		})
	}
	if err := resp.Sign(n.identity.SigningPrivateKey); err != nil {
		return
	}
	_ = n.SendFrame(ctx, peerID, resp)
}

// requestSeqOf extracts the correlating RequestSeq carried in a chunk
// response body, which is distinct from the response frame's own Seq.
func requestSeqOf(body interface{}) (uint64, bool) {
	switch b := body.(type) {
	case *wire.ChunkDataBody:
		return b.RequestSeq, true
	case *wire.ChunkNotHeldBody:
		return b.RequestSeq, true
	default:
		return 0, false
	}
}

func (n *Node) handleChunkResponse(f *wire.Frame) {
	seq, ok := requestSeqOf(f.Body)
	if !ok {
		return
	}
	n.mu.Lock()
	p, ok := n.pending[seq]
	if ok {
		delete(n.pending, seq)
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	switch body := f.Body.(type) {
	case *wire.ChunkDataBody:
		p.result <- fetchResult{data: body.Data}
	case *wire.ChunkNotHeldBody:
		p.result <- fetchResult{err: fmt.Errorf("swarm: peer does not hold dataset %s chunk %d", body.DatasetID, body.ChunkIndex)}
	default:
		p.result <- fetchResult{err: fmt.Errorf("swarm: unexpected response body type")}
	}
}

func (n *Node) nextSeq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return n.seq
}

// FetchChunk implements PeerClient: it sends a FetchChunk request to
// peerID and blocks for its response or ctx cancellation.
func (n *Node) FetchChunk(ctx context.Context, peerID, datasetID string, chunkIdx uint64) ([]byte, error) {
	seq := n.nextSeq()
	f := wire.NewFrame(wire.KindFetchChunk, n.identity.PeerID(), seq, &wire.FetchChunkBody{
		DatasetID: datasetID, ChunkIndex: chunkIdx, RequestSeq: seq,
	})
	if err := f.Sign(n.identity.SigningPrivateKey); err != nil {
		return nil, err
	}

	wait := &pendingFetch{result: make(chan fetchResult, 1)}
	n.mu.Lock()
	n.pending[seq] = wait
	n.mu.Unlock()

	if err := n.SendFrame(ctx, peerID, f); err != nil {
		n.mu.Lock()
		delete(n.pending, seq)
		n.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-wait.result:
		return res.data, res.err
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.pending, seq)
		n.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		n.mu.Lock()
		delete(n.pending, seq)
		n.mu.Unlock()
		return nil, fmt.Errorf("swarm: fetch chunk %d from %s timed out", chunkIdx, peerID)
	}
}

// writeFrame/readFrame length-prefix raw bytes so a Conn's stream can
// carry discrete messages.
func writeFrame(conn dial.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

const maxFrameSize = 64 << 20

func readFrame(conn dial.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("swarm: frame of %d bytes exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
