package swarm

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/nosqlbench/vecstore/pkg/swarm/wire"
)

// ProvideTTL is how long a ProvideRecord is trusted before the
// directory treats it as expired and ignores it for routing.
const ProvideTTL = 30 * time.Minute

// ProvideRecord is a signed claim by Provider that it holds (at
// least) chunk ChunkIndex of DatasetID, reachable at Addrs. It is the
// directory's unit of storage: gossip and membership inform which
// peers exist, but the directory is the place a Channel asks "who has
// this chunk" when the local gossip mesh hasn't seen an IHave yet.
type ProvideRecord struct {
	V          uint16 `cbor:"v"`
	SwarmID    string `cbor:"swarm"`
	DatasetID  string `cbor:"dataset_id"`
	ChunkIndex uint64 `cbor:"chunk_index"`
	Provider   string `cbor:"provider"` // PeerID
	Addrs      []string `cbor:"addrs"`
	Expire     uint64 `cbor:"expire"` // ms since Unix epoch
	Sig        []byte `cbor:"sig"`
}

// NewProvideRecord builds and signs a fresh ProvideRecord.
func NewProvideRecord(swarmID, datasetID string, chunkIdx uint64, provider string, addrs []string, priv ed25519.PrivateKey) (*ProvideRecord, error) {
	rec := &ProvideRecord{
		V:          1,
		SwarmID:    swarmID,
		DatasetID:  datasetID,
		ChunkIndex: chunkIdx,
		Provider:   provider,
		Addrs:      addrs,
		Expire:     uint64(time.Now().Add(ProvideTTL).UnixMilli()),
	}
	if err := rec.Sign(priv); err != nil {
		return nil, err
	}
	return rec, nil
}

func (pr *ProvideRecord) unsigned() *ProvideRecord {
	return &ProvideRecord{
		V: pr.V, SwarmID: pr.SwarmID, DatasetID: pr.DatasetID,
		ChunkIndex: pr.ChunkIndex, Provider: pr.Provider, Addrs: pr.Addrs, Expire: pr.Expire,
	}
}

// Sign signs the record with the provider's Ed25519 key.
func (pr *ProvideRecord) Sign(priv ed25519.PrivateKey) error {
	canon, err := wire.Marshal(pr.unsigned())
	if err != nil {
		return fmt.Errorf("swarm: canonicalize provide record: %w", err)
	}
	pr.Sig = ed25519.Sign(priv, canon)
	return nil
}

// Verify checks the record's signature against the claimed provider's
// public key.
func (pr *ProvideRecord) Verify(pub ed25519.PublicKey) error {
	if len(pr.Sig) == 0 {
		return fmt.Errorf("swarm: provide record is unsigned")
	}
	canon, err := wire.Marshal(pr.unsigned())
	if err != nil {
		return fmt.Errorf("swarm: canonicalize provide record: %w", err)
	}
	if !ed25519.Verify(pub, canon, pr.Sig) {
		return fmt.Errorf("swarm: provide record signature invalid")
	}
	return nil
}

// IsExpired reports whether the record's TTL has elapsed.
func (pr *ProvideRecord) IsExpired() bool {
	return uint64(time.Now().UnixMilli()) > pr.Expire
}

// ProvideKey derives the directory's lookup key for one dataset
// chunk, mirroring a DHT's content-addressed key derivation.
func ProvideKey(swarmID, datasetID string, chunkIdx uint64) [32]byte {
	data := []byte("provide|" + swarmID + "|" + datasetID + "|")
	data = appendUvarint(data, chunkIdx)
	return blake3.Sum256(data)
}

func appendUvarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// Directory is an in-memory provider-record store. A real deployment
// would replicate records across the swarm via a DHT; a single node's
// local view (populated by explicit Put calls; gossip IHave
// announcements are tracked by Gossip, not stored here) is
// sufficient for routing fetches, since a stale or missing record only
// costs a fallback to the origin transport.
type Directory struct {
	mu      sync.RWMutex
	records map[[32]byte][]*ProvideRecord
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{records: make(map[[32]byte][]*ProvideRecord)}
}

// Put stores a verified provide record, replacing any prior record
// from the same provider for the same key.
func (d *Directory) Put(rec *ProvideRecord) {
	key := ProvideKey(rec.SwarmID, rec.DatasetID, rec.ChunkIndex)
	d.mu.Lock()
	defer d.mu.Unlock()
	existing := d.records[key]
	out := existing[:0:0]
	for _, r := range existing {
		if r.Provider != rec.Provider {
			out = append(out, r)
		}
	}
	d.records[key] = append(out, rec)
}

// Get returns the non-expired providers known for one dataset chunk.
func (d *Directory) Get(swarmID, datasetID string, chunkIdx uint64) []*ProvideRecord {
	key := ProvideKey(swarmID, datasetID, chunkIdx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	all := d.records[key]
	out := make([]*ProvideRecord, 0, len(all))
	for _, r := range all {
		if !r.IsExpired() {
			out = append(out, r)
		}
	}
	return out
}

// Sweep removes expired records across the whole directory; call
// periodically to bound memory growth.
func (d *Directory) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, recs := range d.records {
		live := recs[:0:0]
		for _, r := range recs {
			if !r.IsExpired() {
				live = append(live, r)
			}
		}
		if len(live) == 0 {
			delete(d.records, key)
		} else {
			d.records[key] = live
		}
	}
}
