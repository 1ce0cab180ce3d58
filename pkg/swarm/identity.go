// Package swarm implements the peer-assisted Fetcher variant: a mesh of
// nodes that gossip which byte ranges of which datasets they already
// hold, so a cache miss can be satisfied by a nearby swarm member
// instead of the origin transport.
package swarm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Identity is a swarm node's signing and key-agreement key pair. Unlike
// the mesh this is adapted from, a swarm node has no human-facing
// handle: peers are addressed purely by PeerID, since dataset chunk
// transfer has no naming-conflict surface to resolve.
type Identity struct {
	SigningPublicKey  ed25519.PublicKey
	SigningPrivateKey ed25519.PrivateKey

	KeyAgreementPublicKey  [32]byte
	KeyAgreementPrivateKey [32]byte

	peerID string
}

// GenerateIdentity creates a fresh swarm node identity.
func GenerateIdentity() (*Identity, error) {
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("swarm: generate signing key: %w", err)
	}

	var kaPriv, kaPub [32]byte
	if _, err := rand.Read(kaPriv[:]); err != nil {
		return nil, fmt.Errorf("swarm: generate key-agreement key: %w", err)
	}
	curve25519.ScalarBaseMult(&kaPub, &kaPriv)

	id := &Identity{
		SigningPublicKey:       sigPub,
		SigningPrivateKey:      sigPriv,
		KeyAgreementPublicKey:  kaPub,
		KeyAgreementPrivateKey: kaPriv,
	}
	id.peerID = id.computePeerID()
	return id, nil
}

// PeerID returns the node's stable address: "peer:" + hex(SigningPublicKey).
func (id *Identity) PeerID() string {
	if id.peerID == "" {
		id.peerID = id.computePeerID()
	}
	return id.peerID
}

func (id *Identity) computePeerID() string {
	return "peer:" + hex.EncodeToString(id.SigningPublicKey)
}

// Sign signs data with the node's Ed25519 key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, data)
}

// Verify checks data against a peer's claimed signing public key.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
