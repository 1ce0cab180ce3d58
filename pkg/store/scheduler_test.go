package store

import (
	"testing"

	"github.com/nosqlbench/vecstore/pkg/merkle"
)

type fakeState struct {
	valid map[uint64]bool
}

func newFakeState(c uint64) *fakeState {
	return &fakeState{valid: make(map[uint64]bool, c)}
}

func (f *fakeState) IsValid(chunkIdx uint64) bool { return f.valid[chunkIdx] }

func (f *fakeState) MissingChunksInRange(first, last uint64) []uint64 {
	var missing []uint64
	for i := first; i <= last; i++ {
		if !f.valid[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

func testShapeForScheduler(t *testing.T) merkle.Shape {
	t.Helper()
	s, err := merkle.NewShape(8192, 1024) // C=8
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDefaultSchedulerOneTaskPerChunk(t *testing.T) {
	shape := testShapeForScheduler(t)
	state := newFakeState(shape.C)
	queue := NewChunkQueue()
	taskQueue := make(chan Task, 100)

	futures := DefaultScheduler{}.Schedule(shape, state, 0, 3, queue, taskQueue)
	close(taskQueue)

	if len(futures) != 4 {
		t.Fatalf("futures = %d, want 4", len(futures))
	}
	count := 0
	for task := range taskQueue {
		if task.FirstChunk != task.LastChunk {
			t.Fatalf("Default scheduler produced a multi-chunk task: %+v", task)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("tasks emitted = %d, want 4", count)
	}
}

func TestAggressiveSchedulerCoalescesRuns(t *testing.T) {
	shape := testShapeForScheduler(t)
	state := newFakeState(shape.C)
	state.valid[1] = true // splits [0,3] into run {0} and run {2,3}
	queue := NewChunkQueue()
	taskQueue := make(chan Task, 100)

	futures := AggressiveScheduler{}.Schedule(shape, state, 0, 3, queue, taskQueue)
	close(taskQueue)

	if len(futures) != 3 { // chunks 0, 2, 3 are missing
		t.Fatalf("futures = %d, want 3", len(futures))
	}

	var tasks []Task
	for task := range taskQueue {
		tasks = append(tasks, task)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks emitted = %d, want 2 (one per contiguous run)", len(tasks))
	}
}

func TestConservativeSchedulerBoundsNewTasks(t *testing.T) {
	shape := testShapeForScheduler(t)
	state := newFakeState(shape.C)
	queue := NewChunkQueue()
	taskQueue := make(chan Task, 100)

	sched := NewConservativeScheduler(2)
	futures := sched.Schedule(shape, state, 0, 7, queue, taskQueue)
	close(taskQueue)

	if len(futures) != 2 {
		t.Fatalf("futures = %d, want 2 (capped by MaxNewTasks)", len(futures))
	}
	count := 0
	for range taskQueue {
		count++
	}
	if count != 2 {
		t.Fatalf("tasks emitted = %d, want 2", count)
	}
}

func TestContiguousRuns(t *testing.T) {
	runs := contiguousRuns([]uint64{0, 1, 2, 5, 6, 9})
	if len(runs) != 3 {
		t.Fatalf("runs = %v, want 3 groups", runs)
	}
	if len(runs[0]) != 3 || len(runs[1]) != 2 || len(runs[2]) != 1 {
		t.Fatalf("unexpected run shapes: %v", runs)
	}
}

func TestAdaptiveSchedulerSwitchesOnSustainedRate(t *testing.T) {
	shape := testShapeForScheduler(t)
	state := newFakeState(shape.C)
	queue := NewChunkQueue()
	taskQueue := make(chan Task, 100)

	rs := &mutableRate{}
	sched := NewAdaptiveScheduler(rs, 1000, 2)

	rs.rate = 2000
	sched.Schedule(shape, state, 0, 0, queue, taskQueue)
	queue.Complete(0, nil)
	if sched.aggressive {
		t.Fatal("should not switch to aggressive after only one high sample")
	}

	rs.rate = 2000
	sched.Schedule(shape, state, 1, 1, queue, taskQueue)
	if !sched.aggressive {
		t.Fatal("should switch to aggressive after two consecutive high samples")
	}
}

type mutableRate struct{ rate float64 }

func (m *mutableRate) RecentBytesPerSec() float64 { return m.rate }
