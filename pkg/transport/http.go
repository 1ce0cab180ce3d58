package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxRedirects = 5

// HTTPFetcher fetches byte ranges from a remote URL using the HTTP
// Range header (RFC 7233). A server that ignores Range and returns the
// whole body (200 instead of 206) is tolerated: the response is sliced
// down to the requested window with io.CopyN/Discard.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher over url using client, or a default
// client with a bounded redirect chain if client is nil.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 0, // callers drive timeouts via ctx
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("transport: stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		}
	}
	return &HTTPFetcher{url: url, client: client}
}

func (h *HTTPFetcher) String() string {
	return h.url
}

// Size issues a Range-anchored GET for the first byte and reads the
// Content-Range total, falling back to Content-Length for servers that
// don't understand Range at all.
func (h *HTTPFetcher) Size(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("transport: build size request for %s: %w", h.url, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport: size request to %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, fmt.Errorf("transport: %s: %w", h.url, err)
		}
		return total, nil
	case http.StatusOK:
		if resp.ContentLength < 0 {
			return 0, fmt.Errorf("transport: %s did not report a size", h.url)
		}
		return uint64(resp.ContentLength), nil
	default:
		return 0, fmt.Errorf("transport: %s: unexpected status %s", h.url, resp.Status)
	}
}

// FetchRange performs a Range GET for [offset, offset+length).
func (h *HTTPFetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build range request for %s: %w", h.url, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: range request to %s: %w", h.url, err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return NewLimitedReader(resp.Body, length), nil
	case http.StatusOK:
		// Server ignored Range and sent the whole body; skip to offset
		// and cap at length ourselves.
		if _, err := io.CopyN(io.Discard, resp.Body, int64(offset)); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("transport: %s: skipping to offset %d: %w", h.url, offset, err)
		}
		return NewLimitedReader(resp.Body, length), nil
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("transport: %s: unexpected status %s for range [%d,%d)", h.url, resp.Status, offset, offset+length)
	}
}

// parseContentRangeTotal extracts the total size from a header of the
// form "bytes 0-0/12345".
func parseContentRangeTotal(h string) (uint64, error) {
	if h == "" {
		return 0, errors.New("missing Content-Range header")
	}
	slash := strings.LastIndexByte(h, '/')
	if slash < 0 || slash == len(h)-1 {
		return 0, fmt.Errorf("malformed Content-Range %q", h)
	}
	totalStr := h[slash+1:]
	if totalStr == "*" {
		return 0, fmt.Errorf("Content-Range %q does not report a known total", h)
	}
	total, err := strconv.ParseUint(totalStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", h, err)
	}
	return total, nil
}

// defaultHTTPTimeout is the per-request timeout used when a caller
// builds an HTTPFetcher via NewDefaultHTTPFetcher rather than supplying
// its own *http.Client.
const defaultHTTPTimeout = 60 * time.Second

// NewDefaultHTTPFetcher builds an HTTPFetcher with sane request timeout
// and redirect-limit defaults.
func NewDefaultHTTPFetcher(url string) *HTTPFetcher {
	return NewHTTPFetcher(url, &http.Client{
		Timeout: defaultHTTPTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("transport: stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	})
}
