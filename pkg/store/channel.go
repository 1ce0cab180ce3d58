package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nosqlbench/vecstore/internal/clock"
	"github.com/nosqlbench/vecstore/pkg/merkle"
	"github.com/nosqlbench/vecstore/pkg/transport"
)

// openGroup dedupes concurrent OpenChannel calls for the same cache
// path: two goroutines racing to open the same dataset get back the
// same *Channel instead of each building and discarding their own
// Reference/State/Cache trio. This is a single-keyed dedup (one call in
// flight per path, no internal per-chunk coordination needed), exactly
// the shape golang.org/x/sync/singleflight was built for — unlike the
// per-chunk Chunk Queue (queue.go), which needs multi-key atomic
// registration that singleflight's API can't express.
var openGroup singleflight.Group

// ChannelConfig tunes an opened Channel's executor and progress
// tracking.
type ChannelConfig struct {
	Workers           int
	MaxRetries        int
	RetryBase         time.Duration
	TaskTimeout       time.Duration
	RateWindow        time.Duration
	Clock             clock.Clock
	InitialScheduler  Scheduler
}

// Channel is the public façade of §4.8: a seekable, asynchronous byte
// channel that schedules, awaits, then serves bytes from the local
// cache.
type Channel struct {
	shape   merkle.Shape
	ref     *merkle.Reference
	state   *merkle.State
	cache   *Cache
	fetcher transport.Fetcher
	queue   *ChunkQueue
	executor *Executor
	rate    *RateTracker
	clock   clock.Clock

	scheduler atomic.Pointer[Scheduler]

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenChannel opens (or creates) the cache and state sidecars for
// referencePath/cachePath, using fetcher for any cache misses. Repeated
// concurrent calls for the same cachePath return the same Channel.
func OpenChannel(ctx context.Context, referencePath, statePath, cachePath string, fetcher transport.Fetcher, cfg ChannelConfig) (*Channel, error) {
	v, err, _ := openGroup.Do(cachePath, func() (interface{}, error) {
		return openChannel(ctx, referencePath, statePath, cachePath, fetcher, cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Channel), nil
}

func openChannel(ctx context.Context, referencePath, statePath, cachePath string, fetcher transport.Fetcher, cfg ChannelConfig) (*Channel, error) {
	ref, err := merkle.LoadReference(referencePath)
	if err != nil {
		return nil, NewReferenceInvalid(err)
	}

	state, err := merkle.LoadState(statePath, ref)
	if err != nil {
		created, createErr := merkle.CreateState(statePath, ref)
		if createErr != nil {
			ref.Close()
			return nil, NewShapeMismatch(fmt.Errorf("load %w, create %v", err, createErr))
		}
		state = created
	}

	shape := ref.Shape()
	cache, err := OpenCache(cachePath, shape.FileSize)
	if err != nil {
		ref.Close()
		state.Close()
		return nil, NewShapeMismatch(err)
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	rate := NewRateTracker(cfg.Clock, cfg.RateWindow)
	queue := NewChunkQueue()

	executor := NewExecutor(ctx, shape, ref, state, cache, fetcher, queue, ExecutorConfig{
		Workers:          cfg.Workers,
		MaxRetries:       cfg.MaxRetries,
		RetryBase:        cfg.RetryBase,
		TaskTimeout:      cfg.TaskTimeout,
		OnChunkCommitted: rate.Record,
	})

	c := &Channel{
		shape:    shape,
		ref:      ref,
		state:    state,
		cache:    cache,
		fetcher:  fetcher,
		queue:    queue,
		executor: executor,
		rate:     rate,
		clock:    cfg.Clock,
		closed:   make(chan struct{}),
	}

	sched := cfg.InitialScheduler
	if sched == nil {
		sched = DefaultScheduler{}
	}
	c.scheduler.Store(&sched)

	return c, nil
}

// Size returns the dataset's total byte size.
func (c *Channel) Size() uint64 {
	return c.shape.FileSize
}

// SetChunkScheduler atomically swaps the scheduling policy. In-flight
// work continues under whichever policy scheduled it; only new
// scheduling decisions observe the change.
func (c *Channel) SetChunkScheduler(s Scheduler) {
	c.scheduler.Store(&s)
}

// InFlightCount reports the number of chunks currently being fetched or
// verified (diagnostic).
func (c *Channel) InFlightCount() int {
	return c.queue.Len()
}

// Stats is a point-in-time snapshot of a Channel's verification
// progress, read by pkg/status to answer a datasets.stats query without
// exposing the Channel's internal merkle.State/RateTracker directly.
type Stats struct {
	TotalBytes   uint64
	TotalChunks  uint64
	ValidChunks  uint64
	InFlight     int
	BytesPerSec  float64
}

// Stats reports the current verification progress of the dataset this
// Channel serves.
func (c *Channel) Stats() Stats {
	return Stats{
		TotalBytes:  c.shape.FileSize,
		TotalChunks: c.shape.C,
		ValidChunks: c.state.ValidCount(),
		InFlight:    c.queue.Len(),
		BytesPerSec: c.rate.RecentBytesPerSec(),
	}
}

// Read determines the chunks covering [position, position+len(buf)),
// schedules and awaits them, then copies the requested bytes out of the
// cache.
func (c *Channel) Read(ctx context.Context, buf []byte, position uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	length := uint64(len(buf))
	if position+length > c.shape.FileSize {
		length = c.shape.FileSize - position
		buf = buf[:length]
	}
	if length == 0 {
		return 0, nil
	}

	firstChunk, lastChunk, err := c.shape.ChunkRangeForByteRange(position, length)
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}

	futures := c.scheduleRange(firstChunk, lastChunk)
	if err := awaitAll(ctx, futures); err != nil {
		return 0, err
	}

	n, err := c.cache.ReadAt(buf, int64(position))
	if err != nil {
		return n, fmt.Errorf("store: read committed cache bytes: %w", err)
	}
	return n, nil
}

func (c *Channel) scheduleRange(firstChunk, lastChunk uint64) map[uint64]*ChunkFuture {
	sched := *c.scheduler.Load()
	return sched.Schedule(c.shape, c.state, firstChunk, lastChunk, c.queue, c.executor.TaskQueue())
}

func awaitAll(ctx context.Context, futures map[uint64]*ChunkFuture) error {
	failures := make(map[uint64]error)
	for chunkIdx, fut := range futures {
		done := make(chan error, 1)
		go func() { done <- fut.Wait() }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err != nil {
				failures[chunkIdx] = err
			}
		}
	}
	if len(failures) > 0 {
		return &RangeError{ChunkErrors: failures}
	}
	return nil
}

// RangeError reports which chunks of a requested range failed to
// become valid.
type RangeError struct {
	ChunkErrors map[uint64]error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("store: %d chunk(s) in range failed verification", len(e.ChunkErrors))
}

// Prebuffer triggers scheduling for [offset, length) without blocking,
// returning a Progress handle the caller can poll or wait on.
func (c *Channel) Prebuffer(offset, length uint64) (*Progress, error) {
	firstChunk, lastChunk, err := c.shape.ChunkRangeForByteRange(offset, length)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	futures := c.scheduleRange(firstChunk, lastChunk)

	progress := NewProgress(c.clock, uint64(len(futures)), c.shape.ChunkSize)
	for _, fut := range futures {
		fut := fut
		go func() {
			fut.Wait()
			progress.advance(1)
		}()
	}
	return progress, nil
}

// AwaitPrebuffer blocks until every chunk in [offset, length) is valid.
func (c *Channel) AwaitPrebuffer(ctx context.Context, offset, length uint64) error {
	progress, err := c.Prebuffer(offset, length)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-progress.doneCh:
		return nil
	}
}

// Close waits for in-flight work to drain (or abandons it after
// drainTimeout), flushes state, and closes the transport-independent
// resources owned by this Channel.
func (c *Channel) Close(drainTimeout time.Duration) error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.executor.Close()

		done := make(chan error, 1)
		go func() { done <- c.executor.Wait() }()

		if drainTimeout > 0 {
			select {
			case err := <-done:
				closeErr = err
			case <-time.After(drainTimeout):
				// Abandon remaining in-flight tasks; their futures are
				// left unresolved for any waiter still holding a
				// reference, which is acceptable since Close is a
				// terminal operation.
			}
		} else {
			closeErr = <-done
		}

		if err := c.state.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := c.cache.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		if err := c.ref.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}
