package transport

import (
	"context"
	"fmt"
	"io"
	"os"
)

// FileFetcher fetches byte ranges from a local file, the degenerate
// "source" case where the whole dataset is already on disk and chunking
// exists purely for integrity bookkeeping.
type FileFetcher struct {
	path string
}

// NewFileFetcher builds a Fetcher over a local path.
func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path}
}

func (f *FileFetcher) String() string {
	return f.path
}

// Size stats the file.
func (f *FileFetcher) Size(ctx context.Context) (uint64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("transport: stat %s: %w", f.path, err)
	}
	return uint64(info.Size()), nil
}

// FetchRange opens the file and seeks to offset; the returned
// io.ReadCloser is capped at length bytes.
func (f *FileFetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", f.path, err)
	}
	if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("transport: seek %s to %d: %w", f.path, offset, err)
	}
	return NewLimitedReader(file, length), nil
}
