package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

func buildChannelFixture(t *testing.T, fileSize, chunkSize uint64) (string, string, string, []byte) {
	t.Helper()
	shape, err := merkle.NewShape(fileSize, chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, fileSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	hashes := make([][merkle.HashSize]byte, shape.N)
	for c := uint64(0); c < shape.C; c++ {
		start, end := shape.ByteRangeOfChunk(c)
		hashes[shape.LeafNodeIndex(c)] = merkle.HashChunk(data[start:end])
	}
	merkle.BuildTree(shape, hashes)

	dir := t.TempDir()
	refPath := filepath.Join(dir, "f.mref")
	if err := merkle.WriteReference(refPath, shape, hashes); err != nil {
		t.Fatal(err)
	}
	return refPath, filepath.Join(dir, "f.mrkl"), filepath.Join(dir, "f.cache"), data
}

func TestChannelReadServesCorrectBytes(t *testing.T) {
	refPath, statePath, cachePath, data := buildChannelFixture(t, 4097, 1024)
	fetcher := newMemoryFetcher(data)

	ctx := context.Background()
	ch, err := OpenChannel(ctx, refPath, statePath, cachePath, fetcher, ChannelConfig{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close(5 * time.Second)

	buf := make([]byte, 2000)
	n, err := ch.Read(ctx, buf, 500)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2000 {
		t.Fatalf("read %d bytes, want 2000", n)
	}
	for i, b := range buf {
		if b != data[500+i] {
			t.Fatalf("byte %d = %d, want %d", i, b, data[500+i])
		}
	}
}

func TestChannelReadClampsAtFileEnd(t *testing.T) {
	refPath, statePath, cachePath, data := buildChannelFixture(t, 4097, 1024)
	fetcher := newMemoryFetcher(data)

	ctx := context.Background()
	ch, err := OpenChannel(ctx, refPath, statePath, cachePath, fetcher, ChannelConfig{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close(5 * time.Second)

	buf := make([]byte, 100)
	n, err := ch.Read(ctx, buf, 4090)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("read %d bytes, want 7 (clamped at EOF)", n)
	}
}

func TestChannelOverlappingReadsShareFuture(t *testing.T) {
	refPath, statePath, cachePath, data := buildChannelFixture(t, 4096, 1024)
	fetcher := newMemoryFetcher(data)

	ctx := context.Background()
	ch, err := OpenChannel(ctx, refPath, statePath, cachePath, fetcher, ChannelConfig{Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close(5 * time.Second)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			buf := make([]byte, 1024)
			_, err := ch.Read(ctx, buf, 0)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

func TestChannelPrebufferAndAwait(t *testing.T) {
	refPath, statePath, cachePath, data := buildChannelFixture(t, 4096, 1024)
	fetcher := newMemoryFetcher(data)

	ctx := context.Background()
	ch, err := OpenChannel(ctx, refPath, statePath, cachePath, fetcher, ChannelConfig{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close(5 * time.Second)

	if err := ch.AwaitPrebuffer(ctx, 0, 4096); err != nil {
		t.Fatal(err)
	}
	if ch.InFlightCount() != 0 {
		t.Fatalf("InFlightCount = %d, want 0 after prebuffer completes", ch.InFlightCount())
	}
}

func TestChannelSetChunkSchedulerSwapsLive(t *testing.T) {
	refPath, statePath, cachePath, data := buildChannelFixture(t, 4096, 1024)
	fetcher := newMemoryFetcher(data)

	ctx := context.Background()
	ch, err := OpenChannel(ctx, refPath, statePath, cachePath, fetcher, ChannelConfig{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close(5 * time.Second)

	ch.SetChunkScheduler(AggressiveScheduler{})
	buf := make([]byte, 4096)
	if _, err := ch.Read(ctx, buf, 0); err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != data[i] {
			t.Fatalf("byte %d = %d, want %d", i, b, data[i])
		}
	}
}
