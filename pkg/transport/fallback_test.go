package transport

import (
	"context"
	"errors"
	"io"
	"testing"
)

type fakeFetcher struct {
	name    string
	size    uint64
	sizeErr error
	body    []byte
	fetchErr error
}

func (f *fakeFetcher) String() string { return f.name }

func (f *fakeFetcher) Size(ctx context.Context) (uint64, error) {
	if f.sizeErr != nil {
		return 0, f.sizeErr
	}
	return f.size, nil
}

func (f *fakeFetcher) FetchRange(ctx context.Context, offset, length uint64) (io.ReadCloser, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	r := bytesReader(f.body[offset : offset+length])
	return io.NopCloser(&r), nil
}

type bytesReader []byte

func (b *bytesReader) Read(p []byte) (int, error) {
	n := copy(p, *b)
	if n == 0 {
		return 0, io.EOF
	}
	*b = (*b)[n:]
	return n, nil
}

func TestFallbackFetcherUsesPrimaryWhenItSucceeds(t *testing.T) {
	primary := &fakeFetcher{name: "peer", size: 10, body: []byte("0123456789")}
	secondary := &fakeFetcher{name: "origin", fetchErr: errors.New("should not be called")}

	f := NewFallbackFetcher(primary, secondary)
	rc, err := f.FetchRange(context.Background(), 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2345" {
		t.Fatalf("got %q, want %q", got, "2345")
	}
}

func TestFallbackFetcherFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeFetcher{name: "peer", fetchErr: errors.New("no provider for chunk")}
	secondary := &fakeFetcher{name: "origin", size: 10, body: []byte("0123456789")}

	f := NewFallbackFetcher(primary, secondary)
	rc, err := f.FetchRange(context.Background(), 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "01234" {
		t.Fatalf("got %q, want %q", got, "01234")
	}
}

func TestFallbackFetcherReturnsCombinedErrorWhenBothFail(t *testing.T) {
	primary := &fakeFetcher{name: "peer", fetchErr: errors.New("peer down")}
	secondary := &fakeFetcher{name: "origin", fetchErr: errors.New("origin down")}

	f := NewFallbackFetcher(primary, secondary)
	if _, err := f.FetchRange(context.Background(), 0, 5); err == nil {
		t.Fatal("want error when both fetchers fail")
	}
}

func TestFallbackFetcherSizePrefersPrimary(t *testing.T) {
	primary := &fakeFetcher{name: "peer", size: 42}
	secondary := &fakeFetcher{name: "origin", size: 99}

	f := NewFallbackFetcher(primary, secondary)
	size, err := f.Size(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if size != 42 {
		t.Fatalf("size = %d, want 42 (from primary)", size)
	}
}

func TestFallbackFetcherSizeFallsBackWhenPrimaryUnknown(t *testing.T) {
	primary := &fakeFetcher{name: "peer", sizeErr: errors.New("unknown, no peer has advertised it")}
	secondary := &fakeFetcher{name: "origin", size: 99}

	f := NewFallbackFetcher(primary, secondary)
	size, err := f.Size(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if size != 99 {
		t.Fatalf("size = %d, want 99 (from secondary)", size)
	}
}
