package noiseik

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"
)

type fakeIdentity struct {
	priv ed25519.PrivateKey
	id   string
}

func (f fakeIdentity) Sign(data []byte) []byte { return ed25519.Sign(f.priv, data) }
func (f fakeIdentity) PeerID() string          { return f.id }

func genStatic(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatal(err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

func TestHandshakeCompletesAndDerivesUsableSession(t *testing.T) {
	clientPriv, clientPub := genStatic(t)
	serverPriv, serverPub := genStatic(t)

	_, cSignPriv, _ := ed25519.GenerateKey(nil)
	_, sSignPriv, _ := ed25519.GenerateKey(nil)
	clientID := fakeIdentity{priv: cSignPriv, id: "peer:client"}
	serverID := fakeIdentity{priv: sSignPriv, id: "peer:server"}

	client, err := NewInitiatorHandshake(clientID, "swarm1", clientPriv, clientPub, serverPub)
	if err != nil {
		t.Fatal(err)
	}
	server, err := NewResponderHandshake(serverID, "swarm1", serverPriv, serverPub)
	if err != nil {
		t.Fatal(err)
	}

	// -> e, es, s, ss
	msg1, sess, err := client.WriteMessage(nil)
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Fatal("client handshake should not complete after message 1")
	}
	if _, sess, err = server.ReadMessage(msg1); err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Fatal("server handshake should not complete after reading message 1")
	}

	// <- e, ee, se
	msg2, serverSess, err := server.WriteMessage(nil)
	if err != nil {
		t.Fatal(err)
	}
	if serverSess == nil {
		t.Fatal("server handshake should complete after writing message 2")
	}
	_, clientSess, err := client.ReadMessage(msg2)
	if err != nil {
		t.Fatal(err)
	}
	if clientSess == nil {
		t.Fatal("client handshake should complete after reading message 2")
	}

	plaintext := []byte("chunk 42 payload")
	ct, err := clientSess.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := serverSess.Decrypt(nil, ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("decrypted %q, want %q", pt, plaintext)
	}
}
