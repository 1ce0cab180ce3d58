package store

import "sync"

// ChunkFuture is resolved exactly once, by the worker that verifies (or
// fails to verify) the chunk it represents.
type ChunkFuture struct {
	done chan struct{}
	err  error
}

func newChunkFuture() *ChunkFuture {
	return &ChunkFuture{done: make(chan struct{})}
}

// Wait blocks until the future completes and returns its error, if any.
func (f *ChunkFuture) Wait() error {
	<-f.done
	return f.err
}

// Done reports whether the future has already completed, without
// blocking.
func (f *ChunkFuture) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *ChunkFuture) complete(err error) {
	f.err = err
	close(f.done)
}

// ChunkQueue is the process-wide, channel-local in-flight map described
// in the component design: a concurrent chunkIdx -> Future map
// guaranteeing at-most-one outstanding fetch per chunk.
//
// It is intentionally a plain mutex-guarded map rather than
// golang.org/x/sync/singleflight: singleflight's single-keyed Do/DoChan
// can register a future for only one key per call, but the Aggressive
// scheduler (scheduler.go) must atomically register an entire
// contiguous run of missing chunks and enqueue one coalesced task for
// exactly the subset that was newly registered. A multi-key atomic
// registration doesn't fit singleflight's API, so the queue stays a
// small hand-rolled map exactly as the component design describes it.
type ChunkQueue struct {
	mu       sync.Mutex
	inflight map[uint64]*ChunkFuture
}

// NewChunkQueue builds an empty queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{inflight: make(map[uint64]*ChunkFuture)}
}

// Ensure implements the canonical single-chunk get-or-insert-with-task
// operation: if chunkIdx already has a future, it is returned unchanged;
// otherwise a new future is registered and buildTask is invoked (while
// still holding the lock, so registration and task construction are
// atomic with respect to other Ensure/EnsureRun/Complete calls) to
// produce the Task describing the work. buildTask only constructs a
// value — it must never send on a channel — so the lock is never held
// across a channel operation. The caller is responsible for sending the
// returned task on the task queue, which happens after Ensure has
// already unlocked.
func (q *ChunkQueue) Ensure(chunkIdx uint64, buildTask func(chunkIdx uint64, fut *ChunkFuture) Task) (fut *ChunkFuture, newTask *Task) {
	q.mu.Lock()
	if existing, ok := q.inflight[chunkIdx]; ok {
		q.mu.Unlock()
		return existing, nil
	}
	fut = newChunkFuture()
	q.inflight[chunkIdx] = fut
	task := buildTask(chunkIdx, fut)
	q.mu.Unlock()
	return fut, &task
}

// EnsureRun atomically registers futures for every chunk in chunks that
// does not already have one in flight, and invokes buildTask exactly
// once with the subset that was newly registered (which may be empty,
// in which case buildTask is not called and newTask is nil) to
// construct the Task describing that work. As with Ensure, buildTask
// only constructs a value; the lock is released before the caller sends
// the returned task on the task queue. It returns the full set of
// futures — pre-existing and newly registered — keyed by chunk index,
// so the caller can await the whole requested run regardless of which
// chunks were already being fetched by someone else.
func (q *ChunkQueue) EnsureRun(chunks []uint64, buildTask func(newChunks []uint64, futures map[uint64]*ChunkFuture) Task) (futures map[uint64]*ChunkFuture, newTask *Task) {
	q.mu.Lock()

	futures = make(map[uint64]*ChunkFuture, len(chunks))
	var newChunks []uint64
	for _, c := range chunks {
		if existing, ok := q.inflight[c]; ok {
			futures[c] = existing
			continue
		}
		fut := newChunkFuture()
		q.inflight[c] = fut
		futures[c] = fut
		newChunks = append(newChunks, c)
	}
	var task *Task
	if len(newChunks) > 0 {
		t := buildTask(newChunks, futures)
		task = &t
	}
	q.mu.Unlock()
	return futures, task
}

// Complete resolves chunkIdx's future with err and removes it from the
// map, allowing a future read to re-fetch the chunk if it failed.
func (q *ChunkQueue) Complete(chunkIdx uint64, err error) {
	q.mu.Lock()
	fut, ok := q.inflight[chunkIdx]
	if ok {
		delete(q.inflight, chunkIdx)
	}
	q.mu.Unlock()

	if ok {
		fut.complete(err)
	}
}

// Len reports the number of chunks currently in flight (diagnostic, for
// Channel.InFlightCount).
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
