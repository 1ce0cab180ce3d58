package wire

import (
	"crypto/ed25519"
	"fmt"
	"time"
)

// ProtocolVersion is bumped whenever the frame shape or a message body
// changes incompatibly.
const ProtocolVersion uint16 = 1

// MaxClockSkew bounds how far a frame's timestamp may drift from the
// receiver's clock before Validate rejects it as stale or forged.
const MaxClockSkew = 5 * time.Minute

// Message kinds carried in a Frame's Kind field.
const (
	KindMembershipPing    uint16 = 1
	KindMembershipAck     uint16 = 2
	KindMembershipPingReq uint16 = 3
	KindMembershipSuspect uint16 = 4
	KindMembershipAlive   uint16 = 5
	KindMembershipConfirm uint16 = 6
	KindMembershipLeave   uint16 = 7

	KindGossipIHave uint16 = 20
	KindGossipIWant uint16 = 21

	KindFetchChunk   uint16 = 40
	KindChunkData    uint16 = 41
	KindChunkNotHeld uint16 = 42
)

// Frame is the common envelope for every message exchanged between
// swarm peers: a kind tag, a sender identity, a monotonic sequence
// number, a timestamp, an opaque body, and a signature over the rest.
type Frame struct {
	V    uint16      `cbor:"v"`
	Kind uint16      `cbor:"kind"`
	From string      `cbor:"from"` // sender PeerID
	Seq  uint64      `cbor:"seq"`
	TS   uint64      `cbor:"ts"` // ms since Unix epoch
	Body interface{} `cbor:"body"`
	Sig  []byte      `cbor:"sig"`
}

// NewFrame builds an unsigned frame stamped with the current time.
func NewFrame(kind uint16, from string, seq uint64, body interface{}) *Frame {
	return &Frame{
		V:    ProtocolVersion,
		Kind: kind,
		From: from,
		Seq:  seq,
		TS:   uint64(time.Now().UnixMilli()),
		Body: body,
	}
}

// Sign signs the frame with the sender's Ed25519 private key.
func (f *Frame) Sign(priv ed25519.PrivateKey) error {
	data, err := encodeForSigning(f, "sig")
	if err != nil {
		return fmt.Errorf("wire: encode frame for signing: %w", err)
	}
	f.Sig = ed25519.Sign(priv, data)
	return nil
}

// Verify checks the frame's signature against the claimed sender's
// public key.
func (f *Frame) Verify(pub ed25519.PublicKey) error {
	if len(f.Sig) == 0 {
		return fmt.Errorf("wire: frame has no signature")
	}
	data, err := encodeForSigning(f, "sig")
	if err != nil {
		return fmt.Errorf("wire: encode frame for verification: %w", err)
	}
	if !ed25519.Verify(pub, data, f.Sig) {
		return fmt.Errorf("wire: signature verification failed")
	}
	return nil
}

// Marshal encodes the frame to canonical CBOR.
func (f *Frame) Marshal() ([]byte, error) {
	return Marshal(f)
}

// UnmarshalFrame decodes canonical CBOR into a new Frame.
func UnmarshalFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate performs structural and freshness checks independent of
// any particular body type.
func (f *Frame) Validate() error {
	if f.V != ProtocolVersion {
		return fmt.Errorf("wire: unsupported protocol version %d", f.V)
	}
	if f.From == "" {
		return fmt.Errorf("wire: missing sender")
	}
	if len(f.Sig) == 0 {
		return fmt.Errorf("wire: missing signature")
	}
	now := uint64(time.Now().UnixMilli())
	skew := uint64(MaxClockSkew.Milliseconds())
	if f.TS > now+skew {
		return fmt.Errorf("wire: timestamp too far in the future")
	}
	if now > f.TS+skew {
		return fmt.Errorf("wire: timestamp too far in the past")
	}
	return nil
}

// Membership message bodies, adapted from the SWIM failure detector.

type MembershipPingBody struct {
	Target string `cbor:"target"`
	SeqNo  uint64 `cbor:"seq_no"`
}

type MembershipPingReqBody struct {
	Target    string `cbor:"target"`
	SeqNo     uint64 `cbor:"seq_no"`
	Requestor string `cbor:"requestor"`
}

type MembershipAckBody struct {
	SeqNo uint64 `cbor:"seq_no"`
}

type MembershipSuspectBody struct {
	Target      string `cbor:"target"`
	Incarnation uint64 `cbor:"incarnation"`
}

type MembershipAliveBody struct {
	Target      string   `cbor:"target"`
	Incarnation uint64   `cbor:"incarnation"`
	Addrs       []string `cbor:"addrs"`
}

type MembershipConfirmBody struct {
	Target      string `cbor:"target"`
	Incarnation uint64 `cbor:"incarnation"`
}

// Gossip message bodies announcing and requesting chunk availability.

// GossipIHaveBody announces chunks of a dataset the sender holds.
type GossipIHaveBody struct {
	DatasetID  string   `cbor:"dataset_id"`
	ChunkIndex []uint64 `cbor:"chunk_index"`
}

// GossipIWantBody asks for the senders of a prior IHave to serve a
// specific chunk.
type GossipIWantBody struct {
	DatasetID  string `cbor:"dataset_id"`
	ChunkIndex uint64 `cbor:"chunk_index"`
}

// Chunk transfer message bodies.

// FetchChunkBody requests one chunk's verified bytes by index. RequestSeq
// mirrors the enclosing frame's Seq so the response (carried in its own
// frame, with its own Seq) can still be correlated back to this request.
type FetchChunkBody struct {
	DatasetID  string `cbor:"dataset_id"`
	ChunkIndex uint64 `cbor:"chunk_index"`
	RequestSeq uint64 `cbor:"request_seq"`
}

// ChunkDataBody carries a chunk's raw bytes in response to FetchChunk.
type ChunkDataBody struct {
	DatasetID  string `cbor:"dataset_id"`
	ChunkIndex uint64 `cbor:"chunk_index"`
	Data       []byte `cbor:"data"`
	RequestSeq uint64 `cbor:"request_seq"`
}

// ChunkNotHeldBody tells the requestor the chunk isn't available here
// anymore (evicted locally, or never fetched).
type ChunkNotHeldBody struct {
	DatasetID  string `cbor:"dataset_id"`
	ChunkIndex uint64 `cbor:"chunk_index"`
	RequestSeq uint64 `cbor:"request_seq"`
}
