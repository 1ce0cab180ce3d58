// Package catalog is the thin dataset-directory layer consumers use
// to find and open a dataset's facet files: base vectors, query
// vectors, neighbor indices/distances, and optional content/terms/
// filters. It is a consumer of pkg/store, not a contributor to the
// storage layer's own difficulty.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nosqlbench/vecstore/pkg/store"
	"github.com/nosqlbench/vecstore/pkg/transport"
)

// WellKnownExtensions lists the facet file types a dataset directory
// is expected to contain.
var WellKnownExtensions = []string{".fvec", ".ivec", ".bvec", ".hdf5", ".parquet"}

// isWellKnown reports whether ext (as returned by filepath.Ext, so
// including the leading dot) names a recognized facet type.
func isWellKnown(ext string) bool {
	for _, e := range WellKnownExtensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// NormalizeName applies NFKC normalization to a facet or dataset name
// so lookups aren't defeated by Unicode forms that render identically
// but compare unequal byte-for-byte.
func NormalizeName(name string) string {
	return norm.NFKC.String(name)
}

// Dataset is a directory of facet files sharing a common base name.
type Dataset struct {
	Dir string
}

// Open returns a Dataset rooted at dir if it exists and is a
// directory.
func Open(dir string) (*Dataset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: stat dataset directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog: %s is not a directory", dir)
	}
	return &Dataset{Dir: dir}, nil
}

// Facets lists the dataset's well-known facet files, normalized and
// sorted for stable iteration.
func (d *Dataset) Facets() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read dataset directory %s: %w", d.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isWellKnown(filepath.Ext(e.Name())) {
			names = append(names, NormalizeName(e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Facet is one opened facet file: either a verified, range-schedulable
// store.Channel (when a co-located .mref sidecar exists) or a direct
// local file (a local file is its own trusted source, per §6.5).
type Facet struct {
	channel *store.Channel
	file    *os.File
	size    uint64
}

// OpenFacet opens name within the dataset, trying to resolve it
// through the Merkle file channel via a sibling ".mref" reference
// before falling back to a direct local read. fetcher is the origin
// transport (HTTP or a local file); it is used as-is.
func (d *Dataset) OpenFacet(ctx context.Context, name string, fetcher transport.Fetcher, cfg store.ChannelConfig) (*Facet, error) {
	return d.openFacet(ctx, name, fetcher, cfg)
}

// OpenFacetWithPeers behaves like OpenFacet, but tries peerFetcher
// first for every range and falls back to the origin fetcher only when
// the swarm has no provider for it or every provider it names is
// unreachable. Passing a nil peerFetcher is equivalent to OpenFacet.
func (d *Dataset) OpenFacetWithPeers(ctx context.Context, name string, peerFetcher, originFetcher transport.Fetcher, cfg store.ChannelConfig) (*Facet, error) {
	if peerFetcher == nil {
		return d.openFacet(ctx, name, originFetcher, cfg)
	}
	return d.openFacet(ctx, name, transport.NewFallbackFetcher(peerFetcher, originFetcher), cfg)
}

func (d *Dataset) openFacet(ctx context.Context, name string, fetcher transport.Fetcher, cfg store.ChannelConfig) (*Facet, error) {
	path := filepath.Join(d.Dir, name)
	refPath := path + ".mref"

	if _, err := os.Stat(refPath); err == nil {
		statePath := path + ".mrkl"
		cachePath := path + ".cache"
		ch, err := store.OpenChannel(ctx, refPath, statePath, cachePath, fetcher, cfg)
		if err != nil {
			return nil, fmt.Errorf("catalog: open facet %s through channel: %w", name, err)
		}
		return &Facet{channel: ch, size: ch.Size()}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open facet %s directly: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("catalog: stat facet %s: %w", name, err)
	}
	return &Facet{file: f, size: uint64(info.Size())}, nil
}

// Size returns the facet's total byte size.
func (f *Facet) Size() uint64 {
	return f.size
}

// ReadAt serves bytes from whichever backing the facet resolved to.
func (f *Facet) ReadAt(p []byte, off int64) (int, error) {
	if f.channel != nil {
		return f.channel.Read(context.Background(), p, uint64(off))
	}
	return f.file.ReadAt(p, off)
}

// Close releases the facet's backing resource.
func (f *Facet) Close() error {
	if f.channel != nil {
		return f.channel.Close(0)
	}
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
