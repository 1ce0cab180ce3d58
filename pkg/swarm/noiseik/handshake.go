// Package noiseik implements the Noise_IK handshake used to establish
// an encrypted, mutually-authenticated session between two swarm
// peers before any chunk data or membership gossip crosses the wire.
package noiseik

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/flynn/noise"

	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

// ProtocolVersion identifies the handshake message shape.
const ProtocolVersion uint16 = 1

// Hello is a signed swarm membership claim (sender PeerID and static
// Noise public key, authenticated with the sender's long-term Ed25519
// signing key) that can ride as a handshake message payload. Node's
// handshake sends empty payloads, so no Hello crosses the wire there.
type Hello struct {
	Version  uint16 `cbor:"v"`
	SwarmID  string `cbor:"swarm"`
	From     string `cbor:"from"` // sender PeerID
	Nonce    uint64 `cbor:"nonce"`
	NoiseKey []byte `cbor:"noisekey"` // X25519 static public key
	Proof    []byte `cbor:"proof"`    // Ed25519 signature over the rest
}

// Sign signs the hello with the sender's Ed25519 key.
func (h *Hello) Sign(priv ed25519.PrivateKey) error {
	data, err := wire.Marshal(helloForSigning{h.Version, h.SwarmID, h.From, h.Nonce, h.NoiseKey})
	if err != nil {
		return fmt.Errorf("noiseik: encode hello for signing: %w", err)
	}
	h.Proof = ed25519.Sign(priv, data)
	return nil
}

// Verify checks the hello's signature against the claimed sender's
// Ed25519 public key.
func (h *Hello) Verify(pub ed25519.PublicKey) error {
	if len(h.Proof) == 0 {
		return fmt.Errorf("noiseik: hello has no proof")
	}
	data, err := wire.Marshal(helloForSigning{h.Version, h.SwarmID, h.From, h.Nonce, h.NoiseKey})
	if err != nil {
		return fmt.Errorf("noiseik: encode hello for verification: %w", err)
	}
	if !ed25519.Verify(pub, data, h.Proof) {
		return fmt.Errorf("noiseik: hello signature verification failed")
	}
	return nil
}

type helloForSigning struct {
	Version  uint16 `cbor:"v"`
	SwarmID  string `cbor:"swarm"`
	From     string `cbor:"from"`
	Nonce    uint64 `cbor:"nonce"`
	NoiseKey []byte `cbor:"noisekey"`
}

// Marshal/Unmarshal move a Hello to and from canonical CBOR.
func (h *Hello) Marshal() ([]byte, error)    { return wire.Marshal(h) }
func (h *Hello) Unmarshal(data []byte) error { return wire.Unmarshal(data, h) }

// Session holds the keys negotiated by a completed handshake: a send
// and a receive cipher state, plus a replay window guarding the
// receive direction.
type Session struct {
	send   *noise.CipherState
	recv   *noise.CipherState
	replay *ReplayWindow
}

// Encrypt seals plaintext for the peer, binding ad as associated data
// (Node passes nil).
func (s *Session) Encrypt(ad, plaintext []byte) ([]byte, error) {
	return s.send.Encrypt(nil, ad, plaintext)
}

// Decrypt opens a ciphertext received from the peer.
func (s *Session) Decrypt(ad, ciphertext []byte) ([]byte, error) {
	return s.recv.Decrypt(nil, ad, ciphertext)
}

// AcceptSequence reports whether sequence is fresh on the receive
// side, rejecting replays and stale duplicates.
func (s *Session) AcceptSequence(sequence uint64) bool {
	return s.replay.Accept(sequence)
}

// Handshake drives one side of a Noise_IK exchange. A handshake is
// single use: once WriteMessage or ReadMessage returns a non-nil
// *Session the Handshake is spent.
type Handshake struct {
	swarmID     string
	identity    identitySigner
	isInitiator bool
	noiseState  *noise.HandshakeState
	nonce       uint64
}

// identitySigner is the minimal surface Handshake needs from a swarm
// node identity, kept narrow so tests can supply a fake.
type identitySigner interface {
	Sign(data []byte) []byte
	PeerID() string
}

func newNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := uint64(time.Now().UnixNano())
	for i, v := range b {
		n ^= uint64(v) << (8 * i)
	}
	return n
}

func cipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)
}

// NewInitiatorHandshake starts the client side of a handshake against
// a peer whose static X25519 public key is already known (Node.Dial
// takes it as an argument).
func NewInitiatorHandshake(id identitySigner, swarmID string, staticPriv, staticPub, peerStatic [32]byte) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite(),
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: staticPriv[:],
			Public:  staticPub[:],
		},
		PeerStatic: peerStatic[:],
	})
	if err != nil {
		return nil, fmt.Errorf("noiseik: build initiator state: %w", err)
	}
	return &Handshake{swarmID: swarmID, identity: id, isInitiator: true, noiseState: state, nonce: newNonce()}, nil
}

// NewResponderHandshake starts the server side of a handshake.
func NewResponderHandshake(id identitySigner, swarmID string, staticPriv, staticPub [32]byte) (*Handshake, error) {
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite(),
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: staticPriv[:],
			Public:  staticPub[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("noiseik: build responder state: %w", err)
	}
	return &Handshake{swarmID: swarmID, identity: id, isInitiator: false, noiseState: state, nonce: newNonce()}, nil
}

// WriteMessage advances the handshake, producing the next wire
// message (carrying payload, typically nil or a Hello) to send to the
// peer. When the handshake completes it returns a non-nil *Session.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, *Session, error) {
	out, cs1, cs2, err := h.noiseState.WriteMessage(nil, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("noiseik: write handshake message: %w", err)
	}
	return out, h.sessionFrom(cs1, cs2), nil
}

// ReadMessage consumes a handshake message from the peer, returning
// any carried payload. When the handshake completes it returns a
// non-nil *Session.
func (h *Handshake) ReadMessage(message []byte) ([]byte, *Session, error) {
	payload, cs1, cs2, err := h.noiseState.ReadMessage(nil, message)
	if err != nil {
		return nil, nil, fmt.Errorf("noiseik: read handshake message: %w", err)
	}
	return payload, h.sessionFrom(cs1, cs2), nil
}

func (h *Handshake) sessionFrom(cs1, cs2 *noise.CipherState) *Session {
	if cs1 == nil || cs2 == nil {
		return nil
	}
	replay := NewReplayWindow(256)
	if h.isInitiator {
		return &Session{send: cs1, recv: cs2, replay: replay}
	}
	return &Session{send: cs2, recv: cs1, replay: replay}
}
