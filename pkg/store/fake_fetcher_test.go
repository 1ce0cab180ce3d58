package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/nosqlbench/vecstore/pkg/transport"
)

// memoryFetcher serves byte ranges out of an in-memory buffer, standing
// in for a real network/file source in executor and channel tests.
type memoryFetcher struct {
	data []byte
	// failNextN, when > 0, makes the next N FetchRange calls return an
	// error before decrementing; used to exercise the retry path.
	failNextN atomic.Int32
}

func newMemoryFetcher(data []byte) *memoryFetcher {
	return &memoryFetcher{data: data}
}

func (m *memoryFetcher) String() string { return "memory://fake" }

func (m *memoryFetcher) Size(ctx context.Context) (uint64, error) {
	return uint64(len(m.data)), nil
}

var errTransientFetch = errors.New("simulated transient transport failure")

func (m *memoryFetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	if n := m.failNextN.Load(); n > 0 {
		m.failNextN.Add(-1)
		return nil, errTransientFetch
	}
	end := offset + length
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	return io.NopCloser(bytes.NewReader(m.data[offset:end])), nil
}

var _ transport.Fetcher = (*memoryFetcher)(nil)
