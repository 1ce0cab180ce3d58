package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

func buildExecutorFixture(t *testing.T, fileSize, chunkSize uint64) (merkle.Shape, *merkle.Reference, *merkle.State, *Cache, []byte) {
	t.Helper()
	shape, err := merkle.NewShape(fileSize, chunkSize)
	if err != nil {
		t.Fatal(err)
	}

	data := make([]byte, fileSize)
	for i := range data {
		data[i] = byte(i)
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
	ref, err := merkle.LoadReference(refPath)
	if err != nil {
		t.Fatal(err)
	}

	statePath := filepath.Join(dir, "f.mrkl")
	state, err := merkle.CreateState(statePath, ref)
	if err != nil {
		t.Fatal(err)
	}

	cachePath := filepath.Join(dir, "f.cache")
	cache, err := OpenCache(cachePath, fileSize)
	if err != nil {
		t.Fatal(err)
	}

	return shape, ref, state, cache, data
}

func TestExecutorCommitsVerifiedChunk(t *testing.T) {
	shape, ref, state, cache, data := buildExecutorFixture(t, 4096, 1024)
	defer ref.Close()
	defer state.Close()
	defer cache.Close()

	fetcher := newMemoryFetcher(data)
	queue := NewChunkQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := NewExecutor(ctx, shape, ref, state, cache, fetcher, queue, ExecutorConfig{Workers: 2})
	defer exec.Close()

	fut, task := queue.Ensure(1, func(chunkIdx uint64, fut *ChunkFuture) Task {
		return Task{FirstChunk: chunkIdx, LastChunk: chunkIdx, Futures: map[uint64]*ChunkFuture{chunkIdx: fut}}
	})
	exec.TaskQueue() <- *task

	if err := fut.Wait(); err != nil {
		t.Fatal(err)
	}
	if !state.IsValid(1) {
		t.Fatal("chunk 1 should be valid after successful commit")
	}

	start, end := shape.ByteRangeOfChunk(1)
	got := make([]byte, end-start)
	if _, err := cache.ReadAt(got, int64(start)); err != nil {
		t.Fatal(err)
	}
	for i, b := range got {
		if b != data[start+uint64(i)] {
			t.Fatalf("cache byte %d = %d, want %d", i, b, data[start+uint64(i)])
		}
	}
}

func TestExecutorRejectsHashMismatchWithoutWritingCache(t *testing.T) {
	shape, ref, state, cache, data := buildExecutorFixture(t, 4096, 1024)
	defer ref.Close()
	defer state.Close()
	defer cache.Close()

	corrupted := make([]byte, len(data))
	copy(corrupted, data)
	corrupted[0] ^= 0xFF // corrupt chunk 0's bytes relative to the reference

	fetcher := newMemoryFetcher(corrupted)
	queue := NewChunkQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := NewExecutor(ctx, shape, ref, state, cache, fetcher, queue, ExecutorConfig{Workers: 2})
	defer exec.Close()

	fut, task := queue.Ensure(0, func(chunkIdx uint64, fut *ChunkFuture) Task {
		return Task{FirstChunk: chunkIdx, LastChunk: chunkIdx, Futures: map[uint64]*ChunkFuture{chunkIdx: fut}}
	})
	exec.TaskQueue() <- *task

	err := fut.Wait()
	if err == nil {
		t.Fatal("want hash mismatch error")
	}
	if se, ok := err.(*Error); !ok || se.Code != ErrCodeHashMismatch {
		t.Fatalf("err = %v, want HASH_MISMATCH", err)
	}
	if state.IsValid(0) {
		t.Fatal("chunk 0 must not be marked valid after a hash mismatch")
	}
}

func TestExecutorRetriesTransientTransportFailure(t *testing.T) {
	shape, ref, state, cache, data := buildExecutorFixture(t, 4096, 1024)
	defer ref.Close()
	defer state.Close()
	defer cache.Close()

	fetcher := newMemoryFetcher(data)
	fetcher.failNextN.Store(2) // fail twice, succeed on the 3rd (default MaxRetries=3) attempt

	queue := NewChunkQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := NewExecutor(ctx, shape, ref, state, cache, fetcher, queue, ExecutorConfig{
		Workers:   1,
		RetryBase: time.Millisecond,
	})
	defer exec.Close()

	fut, task := queue.Ensure(2, func(chunkIdx uint64, fut *ChunkFuture) Task {
		return Task{FirstChunk: chunkIdx, LastChunk: chunkIdx, Futures: map[uint64]*ChunkFuture{chunkIdx: fut}}
	})
	exec.TaskQueue() <- *task

	if err := fut.Wait(); err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if !state.IsValid(2) {
		t.Fatal("chunk 2 should be valid after the retried fetch succeeds")
	}
}
