package store

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/nosqlbench/vecstore/internal/clock"
	"github.com/nosqlbench/vecstore/pkg/merkle"
)

// DefaultChunkSizeForFileSize implements the size-based heuristic of
// §4.9: chunk size grows logarithmically with file size, from 1 MiB up
// to 64 MiB, always a power of two.
func DefaultChunkSizeForFileSize(fileSize uint64) uint64 {
	const (
		min = 1 << 20 // 1 MiB
		max = 1 << 26 // 64 MiB
	)
	size := uint64(min)
	// Double the chunk size every time the file is ~256x larger than the
	// current chunk size, so a 1 MiB chunk suits files up to a few
	// hundred MiB and 64 MiB chunks only kick in for multi-GiB files.
	for size < max && fileSize/size > 256 {
		size *= 2
	}
	return size
}

// BuildReference hashes sourcePath in chunkSize-sized slices (the
// size-based default from DefaultChunkSizeForFileSize if chunkSize is
// 0) and writes the resulting .mref to referencePath. Leaf hashing runs
// in parallel across a bounded worker pool (CPU count if workers <= 0);
// progress is reported via the returned *Progress.
func BuildReference(ctx context.Context, sourcePath, referencePath string, chunkSize uint64, workers int, clk clock.Clock) (merkle.Shape, *Progress, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return merkle.Shape{}, nil, fmt.Errorf("store: stat %s: %w", sourcePath, err)
	}
	fileSize := uint64(info.Size())

	if chunkSize == 0 {
		chunkSize = DefaultChunkSizeForFileSize(fileSize)
	}
	shape, err := merkle.NewShape(fileSize, chunkSize)
	if err != nil {
		return merkle.Shape{}, nil, fmt.Errorf("store: %w", err)
	}

	if clk == nil {
		clk = clock.Real{}
	}
	progress := NewProgress(clk, shape.C, shape.ChunkSize)

	hashes := make([][merkle.HashSize]byte, shape.N)

	src, err := os.Open(sourcePath)
	if err != nil {
		return merkle.Shape{}, nil, fmt.Errorf("store: open %s: %w", sourcePath, err)
	}
	defer src.Close()

	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for c := uint64(0); c < shape.C; c++ {
		c := c
		group.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			start, end := shape.ByteRangeOfChunk(c)
			buf := make([]byte, end-start)
			if _, err := src.ReadAt(buf, int64(start)); err != nil {
				return fmt.Errorf("store: read chunk %d of %s: %w", c, sourcePath, err)
			}
			hashes[shape.LeafNodeIndex(c)] = merkle.HashChunk(buf)
			progress.advance(1)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return merkle.Shape{}, nil, fmt.Errorf("store: hashing %s: %w", sourcePath, err)
	}

	merkle.BuildTree(shape, hashes)

	if err := merkle.WriteReference(referencePath, shape, hashes); err != nil {
		return merkle.Shape{}, nil, fmt.Errorf("store: %w", err)
	}

	return shape, progress, nil
}
