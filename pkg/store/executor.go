package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nosqlbench/vecstore/pkg/merkle"
	"github.com/nosqlbench/vecstore/pkg/transport"
)

// Executor is the bounded worker pool described in §4.7: each worker
// dequeues a Task, fetches its byte range once, then verifies and
// commits every chunk inside it independently.
type Executor struct {
	shape   merkle.Shape
	ref     *merkle.Reference
	state   *merkle.State
	cache   *Cache
	fetcher transport.Fetcher
	queue   *ChunkQueue

	taskQueue chan Task

	maxRetries  int
	retryBase   time.Duration
	taskTimeout time.Duration

	onChunkCommitted func(bytes uint64)

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// ExecutorConfig tunes Executor behavior; zero values fall back to the
// defaults used throughout the component design (3 retry attempts, 30s
// per-task transport timeout).
type ExecutorConfig struct {
	Workers          int
	MaxRetries       int
	RetryBase        time.Duration
	TaskTimeout      time.Duration
	OnChunkCommitted func(bytes uint64)
}

// NewExecutor builds and starts a worker pool of cfg.Workers goroutines
// (CPU count if zero) reading from an internally owned task queue.
func NewExecutor(parent context.Context, shape merkle.Shape, ref *merkle.Reference, state *merkle.State, cache *Cache, fetcher transport.Fetcher, queue *ChunkQueue, cfg ExecutorConfig) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkerCount()
	}

	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	e := &Executor{
		shape:            shape,
		ref:              ref,
		state:            state,
		cache:            cache,
		fetcher:          fetcher,
		queue:            queue,
		taskQueue:        make(chan Task, workers*4),
		maxRetries:       cfg.MaxRetries,
		retryBase:        cfg.RetryBase,
		taskTimeout:      cfg.TaskTimeout,
		onChunkCommitted: cfg.OnChunkCommitted,
		group:            group,
		ctx:              gctx,
		cancel:           cancel,
	}

	for i := 0; i < workers; i++ {
		group.Go(e.workerLoop)
	}
	return e
}

// TaskQueue is where schedulers enqueue new work (see scheduler.go).
func (e *Executor) TaskQueue() chan<- Task {
	return e.taskQueue
}

func (e *Executor) workerLoop() error {
	for {
		select {
		case <-e.ctx.Done():
			return nil
		case task, ok := <-e.taskQueue:
			if !ok {
				return nil
			}
			e.processTask(task)
		}
	}
}

func (e *Executor) processTask(task Task) {
	start, _ := e.shape.ByteRangeOfChunk(task.FirstChunk)
	_, end := e.shape.ByteRangeOfChunk(task.LastChunk)
	length := end - start

	// Detached from e.ctx so Close does not abort a fetch already under
	// way; the task timeout still bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), e.taskTimeout)
	body, err := e.fetchWithRetry(ctx, start, length)
	cancel()
	if err != nil {
		for chunkIdx := range task.Futures {
			e.queue.Complete(chunkIdx, NewTransportFailure(chunkIdx, err))
		}
		return
	}

	for chunkIdx, fut := range task.Futures {
		_ = fut
		cstart, cend := e.shape.ByteRangeOfChunk(chunkIdx)
		relStart := cstart - start
		relEnd := cend - start
		if relEnd > uint64(len(body)) {
			e.queue.Complete(chunkIdx, NewTransportFailure(chunkIdx, fmt.Errorf("short read: got %d bytes, needed up to %d", len(body), relEnd)))
			continue
		}
		data := body[relStart:relEnd]

		actual := merkle.HashChunk(data)
		expected := e.ref.Hash(e.shape.LeafNodeIndex(chunkIdx))
		if actual != expected {
			e.queue.Complete(chunkIdx, NewHashMismatch(chunkIdx, expected, actual))
			continue
		}

		if err := e.cache.WriteChunk(cstart, data); err != nil {
			e.queue.Complete(chunkIdx, NewLocalIoError(chunkIdx, err))
			continue
		}

		// The cache bytes must be durable before the valid bit is, per
		// §4.4: a visible isValid=true implies the write already
		// survived a crash, not just the bitset update that follows.
		if err := e.cache.Sync(); err != nil {
			e.queue.Complete(chunkIdx, NewLocalIoError(chunkIdx, err))
			continue
		}

		if err := e.state.MarkValid(chunkIdx); err != nil {
			e.state.Degrade()
			if err2 := e.state.MarkValid(chunkIdx); err2 != nil {
				e.queue.Complete(chunkIdx, NewStatePersistError(err))
				continue
			}
		}

		if e.onChunkCommitted != nil {
			e.onChunkCommitted(uint64(len(data)))
		}
		e.queue.Complete(chunkIdx, nil)
	}
}

// fetchWithRetry retries transport errors (connection reset, 5xx, short
// read surfaced as an error by the Fetcher) with bounded exponential
// backoff. Hash mismatches are never routed through here — they are
// only detected after a successful fetch, and are never retried.
func (e *Executor) fetchWithRetry(ctx context.Context, offset, length uint64) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.retryBase * time.Duration(1<<uint(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		rc, err := e.fetcher.FetchRange(ctx, offset, length)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := readAllCapped(rc, length)
		rc.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("store: fetch [%d,%d) failed after %d attempts: %w", offset, offset+length, e.maxRetries, lastErr)
}

// Wait blocks until every worker has exited (the task queue was closed
// and drained, or the executor's context was canceled).
func (e *Executor) Wait() error {
	return e.group.Wait()
}

// Close stops accepting new tasks and cancels outstanding work.
// Tasks already fetching from transport are not aborted (per §4.8
// cancellation semantics, wasted work is preferable to an indeterminate
// cache); this only stops new tasks from starting.
func (e *Executor) Close() {
	close(e.taskQueue)
	e.cancel()
}

func defaultWorkerCount() int {
	n := runtimeNumCPU()
	if n < 1 {
		return 1
	}
	return n
}
