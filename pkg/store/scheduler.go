package store

import (
	"sync"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

// Task is a unit of executor work: fetch the byte range covering
// [FirstChunk, LastChunk] as one transport call, then verify and commit
// each chunk in the range independently.
type Task struct {
	FirstChunk uint64
	LastChunk  uint64
	Futures    map[uint64]*ChunkFuture // keyed by chunk index, only the newly-registered ones
}

// StateView is the subset of *merkle.State the scheduler needs; kept as
// an interface so tests can substitute a fake without a real sidecar
// file.
type StateView interface {
	IsValid(chunkIdx uint64) bool
	MissingChunksInRange(first, last uint64) []uint64
}

var _ StateView = (*merkle.State)(nil)

// Scheduler is a policy over the shape, state and in-flight queue passed
// in on every call, so a Channel can swap policies live without
// disturbing work already in flight. Default, Aggressive and
// Conservative hold no state; AdaptiveScheduler keeps its current mode,
// a sample streak and the RateSource it reads throughput from.
type Scheduler interface {
	// Schedule ensures that every chunk in [firstChunk, lastChunk] has a
	// future registered in queue (creating new tasks on taskQueue for
	// any that were missing) and returns the full set of futures the
	// caller must await to know the range is ready.
	Schedule(shape merkle.Shape, state StateView, firstChunk, lastChunk uint64, queue *ChunkQueue, taskQueue chan<- Task) map[uint64]*ChunkFuture
}

// DefaultScheduler emits one leaf task per missing chunk: minimal read
// amplification, maximal parallelism across chunks.
type DefaultScheduler struct{}

func (DefaultScheduler) Schedule(shape merkle.Shape, state StateView, firstChunk, lastChunk uint64, queue *ChunkQueue, taskQueue chan<- Task) map[uint64]*ChunkFuture {
	futures := make(map[uint64]*ChunkFuture)
	for _, c := range state.MissingChunksInRange(firstChunk, lastChunk) {
		c := c
		fut, task := queue.Ensure(c, func(chunkIdx uint64, fut *ChunkFuture) Task {
			return Task{
				FirstChunk: chunkIdx,
				LastChunk:  chunkIdx,
				Futures:    map[uint64]*ChunkFuture{chunkIdx: fut},
			}
		})
		if task != nil {
			taskQueue <- *task
		}
		futures[c] = fut
	}
	return futures
}

// AggressiveScheduler coalesces contiguous runs of missing chunks into a
// single fetch task, trading read amplification (fetching chunks that
// might already be on their way to validity is avoided by the in-flight
// check, but a run's fetch window always spans the full run) for fewer,
// larger transport calls.
type AggressiveScheduler struct{}

func (AggressiveScheduler) Schedule(shape merkle.Shape, state StateView, firstChunk, lastChunk uint64, queue *ChunkQueue, taskQueue chan<- Task) map[uint64]*ChunkFuture {
	missing := state.MissingChunksInRange(firstChunk, lastChunk)
	futures := make(map[uint64]*ChunkFuture)
	for _, run := range contiguousRuns(missing) {
		run := run
		runFutures, task := queue.EnsureRun(run, func(newChunks []uint64, allFutures map[uint64]*ChunkFuture) Task {
			newFutures := make(map[uint64]*ChunkFuture, len(newChunks))
			for _, c := range newChunks {
				newFutures[c] = allFutures[c]
			}
			return Task{
				FirstChunk: run[0],
				LastChunk:  run[len(run)-1],
				Futures:    newFutures,
			}
		})
		if task != nil {
			taskQueue <- *task
		}
		for c, f := range runFutures {
			futures[c] = f
		}
	}
	return futures
}

func contiguousRuns(sorted []uint64) [][]uint64 {
	if len(sorted) == 0 {
		return nil
	}
	var runs [][]uint64
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i] != sorted[i-1]+1 {
			runs = append(runs, sorted[start:i])
			start = i
		}
	}
	return runs
}

// ConservativeScheduler behaves like Default but bounds the number of
// new tasks emitted per call to MaxNewTasks, leaving the remaining
// missing chunks for a follow-up scheduling call (the next read that
// touches them).
type ConservativeScheduler struct {
	MaxNewTasks int
}

// NewConservativeScheduler builds a ConservativeScheduler with a sane
// default cap when maxNewTasks <= 0.
func NewConservativeScheduler(maxNewTasks int) ConservativeScheduler {
	if maxNewTasks <= 0 {
		maxNewTasks = 4
	}
	return ConservativeScheduler{MaxNewTasks: maxNewTasks}
}

func (s ConservativeScheduler) Schedule(shape merkle.Shape, state StateView, firstChunk, lastChunk uint64, queue *ChunkQueue, taskQueue chan<- Task) map[uint64]*ChunkFuture {
	futures := make(map[uint64]*ChunkFuture)
	newTasks := 0
	for _, c := range state.MissingChunksInRange(firstChunk, lastChunk) {
		c := c
		if newTasks >= s.MaxNewTasks {
			// Chunk stays unrepresented in the returned future set; a
			// follow-up Schedule call (triggered by the next read or
			// prebuffer touching it) will pick it up.
			continue
		}
		fut, task := queue.Ensure(c, func(chunkIdx uint64, fut *ChunkFuture) Task {
			return Task{
				FirstChunk: chunkIdx,
				LastChunk:  chunkIdx,
				Futures:    map[uint64]*ChunkFuture{chunkIdx: fut},
			}
		})
		if task != nil {
			taskQueue <- *task
			newTasks++
		}
		futures[c] = fut
	}
	return futures
}

// RateSource reports recently observed throughput, used by
// AdaptiveScheduler to pick its underlying policy. progress.go's
// RateTracker implements this.
type RateSource interface {
	RecentBytesPerSec() float64
}

// AdaptiveScheduler switches between Default and Aggressive behavior
// based on recently observed throughput. It starts in Default mode;
// once the observed rate exceeds ThresholdBytesPerSec for
// SwitchUpSamples consecutive observations it switches to Aggressive,
// and drops back to Default once the rate falls below half the
// threshold. These numeric constants are a calibratable policy, not a
// contract — see NewAdaptiveScheduler for the defaults.
type AdaptiveScheduler struct {
	rates               RateSource
	thresholdBytesPerSec float64
	switchUpSamples     int

	mu             sync.Mutex
	aggressive     bool
	aboveStreak    int
}

// NewAdaptiveScheduler builds an AdaptiveScheduler reading throughput
// from rates. thresholdBytesPerSec defaults to 8 MiB/s and
// switchUpSamples to 2 when given as zero.
func NewAdaptiveScheduler(rates RateSource, thresholdBytesPerSec float64, switchUpSamples int) *AdaptiveScheduler {
	if thresholdBytesPerSec <= 0 {
		thresholdBytesPerSec = 8 * 1024 * 1024
	}
	if switchUpSamples <= 0 {
		switchUpSamples = 2
	}
	return &AdaptiveScheduler{
		rates:                rates,
		thresholdBytesPerSec: thresholdBytesPerSec,
		switchUpSamples:      switchUpSamples,
	}
}

func (a *AdaptiveScheduler) Schedule(shape merkle.Shape, state StateView, firstChunk, lastChunk uint64, queue *ChunkQueue, taskQueue chan<- Task) map[uint64]*ChunkFuture {
	a.mu.Lock()
	rate := a.rates.RecentBytesPerSec()
	if rate >= a.thresholdBytesPerSec {
		a.aboveStreak++
		if a.aboveStreak >= a.switchUpSamples {
			a.aggressive = true
		}
	} else {
		a.aboveStreak = 0
		if rate < a.thresholdBytesPerSec/2 {
			a.aggressive = false
		}
	}
	useAggressive := a.aggressive
	a.mu.Unlock()

	if useAggressive {
		return AggressiveScheduler{}.Schedule(shape, state, firstChunk, lastChunk, queue, taskQueue)
	}
	return DefaultScheduler{}.Schedule(shape, state, firstChunk, lastChunk, queue, taskQueue)
}
