// Package transport defines how cache-miss bytes are pulled in from a
// remote or local source: HTTP range requests, a local file, or a swarm
// peer (pkg/swarm).
package transport

import (
	"context"
	"fmt"
	"io"
)

// Fetcher fetches a half-open byte range [offset, offset+length) from a
// single logical source. Implementations must never return more than
// length bytes. A source that ends early yields fewer bytes without an
// error from the reader (FileFetcher and HTTPFetcher wrap their bodies
// in LimitedReader); callers that need the full range check the count.
type Fetcher interface {
	// FetchRange returns a reader over exactly length bytes starting at
	// offset. The caller must Close the returned io.ReadCloser.
	FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error)

	// Size returns the total size of the source in bytes, if known.
	Size(ctx context.Context) (uint64, error)

	// String identifies the source for logging (a URL or path).
	String() string
}

// LimitedReader wraps an io.ReadCloser and guarantees Read never yields
// more than the remaining byte budget, even if the underlying source
// over-delivers (a misbehaving server ignoring the Range header, for
// instance).
type LimitedReader struct {
	r    io.ReadCloser
	left int64
}

// NewLimitedReader caps r at n bytes.
func NewLimitedReader(r io.ReadCloser, n uint64) *LimitedReader {
	return &LimitedReader{r: r, left: int64(n)}
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	return n, err
}

// Close releases the underlying reader.
func (l *LimitedReader) Close() error {
	return l.r.Close()
}

// ErrShortSource describes a source that closed before delivering the
// requested length. No Fetcher in this package returns it; a short
// source shows up as a reader that ends early.
type ErrShortSource struct {
	Source   string
	Want     uint64
	Got      uint64
}

func (e *ErrShortSource) Error() string {
	return fmt.Sprintf("transport: %s delivered %d of %d requested bytes", e.Source, e.Got, e.Want)
}
