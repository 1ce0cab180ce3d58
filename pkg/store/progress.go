package store

import (
	"sync"
	"time"

	"github.com/nosqlbench/vecstore/internal/clock"
)

// rateSample is one (timestamp, cumulative bytes) observation in the
// rolling window used for throughput estimation.
type rateSample struct {
	at    time.Time
	bytes uint64
}

// RateTracker maintains a rolling window of committed-bytes samples and
// derives a recent bytes/sec estimate from it. This is hand-rolled
// rather than pulled from a moving-average library: nothing in the
// grounded dependency set carries one for a non-trading-specific
// use case, so a small ring buffer over a fixed time window is the
// justified standard-library leaf (see DESIGN.md).
type RateTracker struct {
	clock  clock.Clock
	window time.Duration

	mu      sync.Mutex
	samples []rateSample
	total   uint64
}

// NewRateTracker builds a tracker retaining samples within window of
// the most recent observation.
func NewRateTracker(clk clock.Clock, window time.Duration) *RateTracker {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &RateTracker{clock: clk, window: window}
}

// Record registers n newly-committed bytes at the current time.
func (r *RateTracker) Record(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.total += n
	r.samples = append(r.samples, rateSample{at: now, bytes: r.total})
	r.evictLocked(now)
}

func (r *RateTracker) evictLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	// Always keep at least one sample behind the window edge so a rate
	// can still be computed from it.
	if i > 0 {
		i--
	}
	r.samples = r.samples[i:]
}

// RecentBytesPerSec estimates throughput from the oldest retained
// sample to the newest.
func (r *RateTracker) RecentBytesPerSec() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < 2 {
		return 0
	}
	first := r.samples[0]
	last := r.samples[len(r.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// Progress tracks one prebuffer/read operation's completion, exposing
// the fraction-complete / rate / ETA surface of §4.10.
type Progress struct {
	clock     clock.Clock
	totalWork uint64 // chunks
	chunkSize uint64
	startedAt time.Time

	mu       sync.Mutex
	done     uint64
	doneCh   chan struct{}
	closedCh bool
}

// NewProgress builds a Progress handle for totalWork chunks of
// chunkSize bytes each.
func NewProgress(clk clock.Clock, totalWork uint64, chunkSize uint64) *Progress {
	p := &Progress{
		clock:     clk,
		totalWork: totalWork,
		chunkSize: chunkSize,
		startedAt: clk.Now(),
		doneCh:    make(chan struct{}),
	}
	if totalWork == 0 {
		p.closeLocked()
	}
	return p
}

func (p *Progress) closeLocked() {
	if !p.closedCh {
		p.closedCh = true
		close(p.doneCh)
	}
}

// advance records that n more chunks have completed (successfully or
// not — forward progress is forward progress; callers track failures
// separately via the chunk futures).
func (p *Progress) advance(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	if p.done >= p.totalWork {
		p.closeLocked()
	}
}

// CurrentWork returns the number of chunks completed so far.
func (p *Progress) CurrentWork() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.done)
}

// TotalWork returns the total number of chunks this progress covers.
func (p *Progress) TotalWork() float64 {
	return float64(p.totalWork)
}

// BytesPerUnit returns the chunk size, for converting work units to
// bytes.
func (p *Progress) BytesPerUnit() float64 {
	return float64(p.chunkSize)
}

// FractionComplete returns done/total in [0,1].
func (p *Progress) FractionComplete() float64 {
	if p.totalWork == 0 {
		return 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.done) / float64(p.totalWork)
}

// RateMbitPerSec estimates throughput in megabits/sec from elapsed wall
// time and bytes completed so far.
func (p *Progress) RateMbitPerSec() float64 {
	p.mu.Lock()
	doneBytes := float64(p.done) * float64(p.chunkSize)
	p.mu.Unlock()

	elapsed := p.clock.Since(p.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (doneBytes * 8) / elapsed / 1e6
}

// ETASeconds estimates remaining time based on the average rate
// observed so far; returns 0 once complete.
func (p *Progress) ETASeconds() float64 {
	p.mu.Lock()
	remaining := p.totalWork - p.done
	doneSoFar := p.done
	p.mu.Unlock()
	if remaining == 0 {
		return 0
	}

	elapsed := p.clock.Since(p.startedAt).Seconds()
	if elapsed <= 0 || doneSoFar == 0 {
		return -1 // unknown
	}
	perChunk := elapsed / float64(doneSoFar)
	return perChunk * float64(remaining)
}

// Wait blocks until every chunk of this progress's range is complete
// (awaitPrebuffer).
func (p *Progress) Wait() {
	<-p.doneCh
}
