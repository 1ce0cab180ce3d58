package swarm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

// MemberState is a peer's failure-detector state, in strictly
// increasing conflict-resolution priority: Alive < Suspect < Left < Failed.
type MemberState int

const (
	StateAlive MemberState = iota
	StateSuspect
	StateFailed
	StateLeft
)

func (s MemberState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateFailed:
		return "failed"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

func statePriority(s MemberState) int {
	switch s {
	case StateAlive:
		return 0
	case StateSuspect:
		return 1
	case StateLeft:
		return 2
	case StateFailed:
		return 3
	default:
		return -1
	}
}

// Member is one peer the local node knows about, along with its SWIM
// failure-detector bookkeeping.
type Member struct {
	mu sync.RWMutex

	PeerID string
	Addrs  []string

	State       MemberState
	Incarnation uint64
	StateTime   time.Time

	LastPingTime time.Time
	LastSeenTime time.Time
}

// NewMember creates a member record in the Alive state.
func NewMember(peerID string, addrs []string) *Member {
	now := time.Now()
	m := &Member{
		PeerID:       peerID,
		Addrs:        append([]string(nil), addrs...),
		State:        StateAlive,
		StateTime:    now,
		LastSeenTime: now,
	}
	return m
}

// SetState applies a state transition if incarnation is newer, or
// equal with a higher-priority state, matching SWIM's conflict rule.
func (m *Member) SetState(state MemberState, incarnation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if incarnation > m.Incarnation || (incarnation == m.Incarnation && statePriority(state) > statePriority(m.State)) {
		m.State = state
		m.Incarnation = incarnation
		m.StateTime = time.Now()
	}
}

func (m *Member) IsSuspicious(timeout time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State == StateSuspect && time.Since(m.StateTime) >= timeout
}

func (m *Member) IsAlive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State == StateAlive
}

func (m *Member) GetState() (MemberState, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.State, m.Incarnation
}

func (m *Member) UpdateAddresses(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Addrs = append([]string(nil), addrs...)
}

func (m *Member) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Addrs...)
}

func (m *Member) UpdateLastSeen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastSeenTime = time.Now()
}

func (m *Member) touchPing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastPingTime = time.Now()
}

// MembershipTransport is the minimal send surface Membership needs;
// satisfied by a Node's frame dispatch over its dial connections.
type MembershipTransport interface {
	SendFrame(ctx context.Context, peerID string, f *wire.Frame) error
}

// MembershipConfig tunes probe cadence and failure-detector timeouts.
type MembershipConfig struct {
	PeerID           string
	SigningKey       ed25519.PrivateKey
	Transport        MembershipTransport
	ProbeInterval    time.Duration
	PingTimeout      time.Duration
	SuspicionTimeout time.Duration
}

func (c *MembershipConfig) setDefaults() {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 1 * time.Second
	}
	if c.SuspicionTimeout == 0 {
		c.SuspicionTimeout = 10 * time.Second
	}
}

// Membership runs SWIM-style failure detection over the swarm: each
// probe interval it pings one randomly chosen Alive peer, escalates a
// peer that does not ack within PingTimeout to Suspect, and eventually
// declares a still-silent Suspect Failed. The swarm Fetcher does not
// consult membership state when choosing providers.
type Membership struct {
	mu sync.RWMutex

	cfg     MembershipConfig
	members map[string]*Member
	seq     uint64
	pending map[uint64]string // seq -> target peerID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMembership creates a Membership instance; call Start to begin probing.
func NewMembership(cfg MembershipConfig) (*Membership, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("swarm: membership transport is required")
	}
	if cfg.PeerID == "" {
		return nil, fmt.Errorf("swarm: membership peer id is required")
	}
	cfg.setDefaults()
	return &Membership{
		cfg:     cfg,
		members: make(map[string]*Member),
		pending: make(map[uint64]string),
		done:    make(chan struct{}),
	}, nil
}

// Start begins the background probe loop. Stop via ctx cancellation.
func (ms *Membership) Start(ctx context.Context) {
	ms.mu.Lock()
	ms.ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()
	go ms.probeLoop()
}

// Stop halts the probe loop.
func (ms *Membership) Stop() {
	ms.mu.Lock()
	cancel := ms.cancel
	ms.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddMember registers a peer discovered via the directory or gossip.
func (ms *Membership) AddMember(peerID string, addrs []string) error {
	if peerID == ms.cfg.PeerID {
		return fmt.Errorf("swarm: cannot add self as member")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if existing, ok := ms.members[peerID]; ok {
		existing.UpdateAddresses(addrs)
		return nil
	}
	ms.members[peerID] = NewMember(peerID, addrs)
	return nil
}

// Member looks up a known peer by ID.
func (ms *Membership) Member(peerID string) *Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.members[peerID]
}

// AliveMembers returns every peer currently believed Alive.
func (ms *Membership) AliveMembers() []*Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*Member, 0, len(ms.members))
	for _, m := range ms.members {
		if m.IsAlive() {
			out = append(out, m)
		}
	}
	return out
}

func (ms *Membership) nextSeq() uint64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.seq++
	return ms.seq
}

// Ping sends a direct liveness probe to target.
func (ms *Membership) Ping(ctx context.Context, target *Member) error {
	seq := ms.nextSeq()
	f := wire.NewFrame(wire.KindMembershipPing, ms.cfg.PeerID, seq, &wire.MembershipPingBody{
		Target: target.PeerID,
		SeqNo:  seq,
	})
	if err := f.Sign(ms.cfg.SigningKey); err != nil {
		return fmt.Errorf("swarm: sign ping frame: %w", err)
	}

	ms.mu.Lock()
	ms.pending[seq] = target.PeerID
	ms.mu.Unlock()
	target.touchPing()

	return ms.cfg.Transport.SendFrame(ctx, target.PeerID, f)
}

// HandleFrame dispatches an incoming membership frame to its handler.
func (ms *Membership) HandleFrame(ctx context.Context, f *wire.Frame) error {
	switch f.Kind {
	case wire.KindMembershipPing:
		return ms.handlePing(ctx, f)
	case wire.KindMembershipAck:
		return ms.handleAck(f)
	case wire.KindMembershipSuspect:
		return ms.handleSuspect(f)
	case wire.KindMembershipAlive:
		return ms.handleAlive(f)
	case wire.KindMembershipConfirm:
		return ms.handleConfirm(f)
	default:
		return fmt.Errorf("swarm: unsupported membership frame kind %d", f.Kind)
	}
}

func (ms *Membership) handlePing(ctx context.Context, f *wire.Frame) error {
	body, ok := f.Body.(*wire.MembershipPingBody)
	if !ok {
		return fmt.Errorf("swarm: malformed ping body")
	}
	ack := wire.NewFrame(wire.KindMembershipAck, ms.cfg.PeerID, ms.nextSeq(), &wire.MembershipAckBody{SeqNo: body.SeqNo})
	if err := ack.Sign(ms.cfg.SigningKey); err != nil {
		return err
	}
	return ms.cfg.Transport.SendFrame(ctx, f.From, ack)
}

func (ms *Membership) handleAck(f *wire.Frame) error {
	body, ok := f.Body.(*wire.MembershipAckBody)
	if !ok {
		return fmt.Errorf("swarm: malformed ack body")
	}
	ms.mu.Lock()
	peerID, ok := ms.pending[body.SeqNo]
	delete(ms.pending, body.SeqNo)
	ms.mu.Unlock()
	if !ok {
		return nil
	}
	if m := ms.Member(peerID); m != nil {
		m.UpdateLastSeen()
		state, inc := m.GetState()
		if state != StateAlive {
			m.SetState(StateAlive, inc+1)
		}
	}
	return nil
}

func (ms *Membership) handleSuspect(f *wire.Frame) error {
	body, ok := f.Body.(*wire.MembershipSuspectBody)
	if !ok {
		return fmt.Errorf("swarm: malformed suspect body")
	}
	if m := ms.Member(body.Target); m != nil {
		m.SetState(StateSuspect, body.Incarnation)
	}
	return nil
}

func (ms *Membership) handleAlive(f *wire.Frame) error {
	body, ok := f.Body.(*wire.MembershipAliveBody)
	if !ok {
		return fmt.Errorf("swarm: malformed alive body")
	}
	if m := ms.Member(body.Target); m != nil {
		m.UpdateAddresses(body.Addrs)
		m.SetState(StateAlive, body.Incarnation)
	} else {
		_ = ms.AddMember(body.Target, body.Addrs)
	}
	return nil
}

func (ms *Membership) handleConfirm(f *wire.Frame) error {
	body, ok := f.Body.(*wire.MembershipConfirmBody)
	if !ok {
		return fmt.Errorf("swarm: malformed confirm body")
	}
	if m := ms.Member(body.Target); m != nil {
		m.SetState(StateFailed, body.Incarnation)
	}
	return nil
}

func (ms *Membership) probeLoop() {
	ticker := time.NewTicker(ms.cfg.ProbeInterval)
	defer ticker.Stop()
	ms.mu.RLock()
	ctx := ms.ctx
	ms.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			close(ms.done)
			return
		case <-ticker.C:
			ms.probeRandomMember(ctx)
			ms.escalateSuspects()
		}
	}
}

func (ms *Membership) probeRandomMember(ctx context.Context) {
	alive := ms.AliveMembers()
	if len(alive) == 0 {
		return
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alive))))
	if err != nil {
		return
	}
	target := alive[n.Int64()]

	pingCtx, cancel := context.WithTimeout(ctx, ms.cfg.PingTimeout)
	defer cancel()
	sent := time.Now()
	if err := ms.Ping(pingCtx, target); err == nil {
		<-pingCtx.Done()
		target.mu.RLock()
		acked := !target.LastSeenTime.Before(sent)
		target.mu.RUnlock()
		if acked {
			return
		}
	}
	state, inc := target.GetState()
	if state == StateAlive {
		target.SetState(StateSuspect, inc)
	}
}

func (ms *Membership) escalateSuspects() {
	for _, m := range ms.membersSnapshot() {
		if m.IsSuspicious(ms.cfg.SuspicionTimeout) {
			state, inc := m.GetState()
			if state == StateSuspect {
				m.SetState(StateFailed, inc+1)
			}
		}
	}
}

func (ms *Membership) membersSnapshot() []*Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]*Member, 0, len(ms.members))
	for _, m := range ms.members {
		out = append(out, m)
	}
	return out
}
