// Package wire implements the swarm's frame format: a canonical CBOR
// envelope, individually Ed25519-signed, used for every message a peer
// sends on the mesh once its Noise session is up (membership, gossip,
// chunk fetch); the handshake itself carries raw Noise messages.
package wire

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// canonicalMode encodes with deterministic key order and no floating
// types, so two peers signing the same logical frame always sign the
// same bytes.
var canonicalMode cbor.EncMode

func init() {
	var err error
	canonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: build canonical CBOR mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

// Unmarshal decodes canonical CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// sortedMap gives a map[string]interface{} deterministic key order
// when re-encoded, which plain map marshaling does not guarantee
// across library versions.
type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func newSortedMap(m map[string]interface{}) *sortedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &sortedMap{keys: keys, values: m}
}

func (sm *sortedMap) MarshalCBOR() ([]byte, error) {
	ordered := make(map[string]interface{}, len(sm.keys))
	for _, k := range sm.keys {
		ordered[k] = sm.values[k]
	}
	return canonicalMode.Marshal(ordered)
}

// encodeForSigning marshals v to canonical CBOR with the named fields
// (typically "sig") stripped first, so the signature never signs
// itself.
func encodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, f := range excludeFields {
		delete(m, f)
	}
	return Marshal(newSortedMap(m))
}

// canonicalBytes re-encodes arbitrary CBOR bytes in canonical form.
func canonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("wire: invalid CBOR: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical CBOR form.
func IsCanonical(data []byte) bool {
	canon, err := canonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canon)
}
