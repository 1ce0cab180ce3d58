package swarm

import (
	"context"
	"fmt"
	"io"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

// PeerClient fetches one chunk's bytes from a specific peer, over
// whatever session (dial + noiseik + wire.Frame request/response) the
// swarm Node has already established with it.
type PeerClient interface {
	FetchChunk(ctx context.Context, peerID, datasetID string, chunkIdx uint64) ([]byte, error)
}

// Fetcher implements transport.Fetcher by routing a byte range to
// whichever swarm peers the Directory and Gossip layer believe hold
// the covering chunks, falling back across providers on failure.
// catalog.OpenFacetWithPeers places it ahead of the origin transport
// through transport.FallbackFetcher, so peers are tried first and the
// origin only when the peer fetch fails.
type Fetcher struct {
	swarmID   string
	datasetID string
	shape     merkle.Shape
	dir       *Directory
	gossip    *Gossip
	client    PeerClient
}

// NewFetcher builds a peer-backed Fetcher for one dataset. shape must
// match the dataset's reference geometry so byte ranges can be mapped
// to chunk indices.
func NewFetcher(swarmID, datasetID string, shape merkle.Shape, dir *Directory, gossip *Gossip, client PeerClient) *Fetcher {
	return &Fetcher{swarmID: swarmID, datasetID: datasetID, shape: shape, dir: dir, gossip: gossip, client: client}
}

// String identifies the fetcher for logging.
func (f *Fetcher) String() string {
	return fmt.Sprintf("swarm:%s/%s", f.swarmID, f.datasetID)
}

// Size returns the dataset's total byte size, known from its shape.
func (f *Fetcher) Size(ctx context.Context) (uint64, error) {
	return f.shape.FileSize, nil
}

// FetchRange assembles [offset, offset+length) by fetching each
// covering chunk from a provider and concatenating the results. A
// range that doesn't fall on chunk boundaries still works: only the
// requested bytes are sliced out of the edge chunks.
func (f *Fetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	if length == 0 {
		return io.NopCloser(noBytes{}), nil
	}
	end := offset + length
	firstChunk, lastChunk, err := f.shape.ChunkRangeForByteRange(offset, length)
	if err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}

	buf := make([]byte, 0, length)
	for c := firstChunk; c <= lastChunk; c++ {
		data, err := f.fetchChunk(ctx, c)
		if err != nil {
			return nil, err
		}
		start, cEnd := f.shape.ByteRangeOfChunk(c)
		loCut := uint64(0)
		if offset > start {
			loCut = offset - start
		}
		hiCut := cEnd - start
		if end < cEnd {
			hiCut = end - start
		}
		if loCut > hiCut || hiCut > uint64(len(data)) {
			return nil, fmt.Errorf("swarm: chunk %d returned %d bytes, insufficient for requested slice", c, len(data))
		}
		buf = append(buf, data[loCut:hiCut]...)
	}
	return io.NopCloser(newByteReader(buf)), nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, chunkIdx uint64) ([]byte, error) {
	providers := f.gossip.ProvidersFor(f.datasetID, chunkIdx)
	providers = append(providers, recordProviders(f.dir.Get(f.swarmID, f.datasetID, chunkIdx))...)

	if len(providers) == 0 {
		return nil, fmt.Errorf("swarm: no known provider for dataset %s chunk %d", f.datasetID, chunkIdx)
	}

	var lastErr error
	tried := make(map[string]bool, len(providers))
	for _, peerID := range providers {
		if tried[peerID] {
			continue
		}
		tried[peerID] = true
		data, err := f.client.FetchChunk(ctx, peerID, f.datasetID, chunkIdx)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("swarm: all %d provider(s) failed for chunk %d: %w", len(tried), chunkIdx, lastErr)
}

func recordProviders(recs []*ProvideRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Provider)
	}
	return out
}

// noBytes and newByteReader avoid importing bytes just for the
// zero-length and wrapping cases.
type noBytes struct{}

func (noBytes) Read([]byte) (int, error) { return 0, io.EOF }

func newByteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
