package transport

import (
	"context"
	"fmt"
	"io"
)

// FallbackFetcher tries primary first and, on any error, retries the
// same request against secondary. It is how a swarm-first deployment
// degrades gracefully to the origin transport (HTTP or a local file)
// when no peer holds the requested range, or every peer that does is
// unreachable.
type FallbackFetcher struct {
	primary   Fetcher
	secondary Fetcher
}

// NewFallbackFetcher builds a Fetcher that serves from primary,
// falling back to secondary whenever primary returns an error. Both
// arguments are required; use primary directly if no fallback is
// needed.
func NewFallbackFetcher(primary, secondary Fetcher) *FallbackFetcher {
	return &FallbackFetcher{primary: primary, secondary: secondary}
}

func (f *FallbackFetcher) String() string {
	return fmt.Sprintf("%s (fallback: %s)", f.primary.String(), f.secondary.String())
}

// Size prefers the primary's reported size, falling back only if the
// primary can't answer at all (e.g. no peer has ever advertised the
// dataset).
func (f *FallbackFetcher) Size(ctx context.Context) (uint64, error) {
	size, err := f.primary.Size(ctx)
	if err == nil {
		return size, nil
	}
	return f.secondary.Size(ctx)
}

// FetchRange serves [offset, offset+length) from primary; any error
// (no known provider, every provider unreachable, a transport fault)
// triggers an immediate retry against secondary rather than surfacing
// the primary's failure to the caller.
func (f *FallbackFetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	rc, err := f.primary.FetchRange(ctx, offset, length)
	if err == nil {
		return rc, nil
	}
	rc, err2 := f.secondary.FetchRange(ctx, offset, length)
	if err2 != nil {
		return nil, fmt.Errorf("transport: primary %s failed (%w) and fallback %s also failed: %v", f.primary, err, f.secondary, err2)
	}
	return rc, nil
}
