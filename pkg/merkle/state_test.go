package merkle

import (
	"path/filepath"
	"testing"
)

func buildTestState(t *testing.T) (*Reference, *State, string) {
	t.Helper()
	_, _, refPath := buildTestReference(t, 4097, 1024)
	ref, err := LoadReference(refPath)
	if err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(filepath.Dir(refPath), "test.mrkl")
	st, err := CreateState(statePath, ref)
	if err != nil {
		t.Fatal(err)
	}
	return ref, st, statePath
}

func TestQuickSummaryReportsShapeAndValidCount(t *testing.T) {
	ref, st, statePath := buildTestState(t)
	defer ref.Close()
	defer st.Close()

	if err := st.MarkValid(0); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkValid(2); err != nil {
		t.Fatal(err)
	}

	shape, validCount, err := QuickSummary(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if shape.FileSize != 4097 || shape.ChunkSize != 1024 {
		t.Fatalf("shape = %+v, want FileSize=4097 ChunkSize=1024", shape)
	}
	if validCount != 2 {
		t.Fatalf("validCount = %d, want 2", validCount)
	}
}

func TestCreateStateAllInvalid(t *testing.T) {
	ref, st, _ := buildTestState(t)
	defer ref.Close()
	defer st.Close()

	for c := uint64(0); c < st.Shape().C; c++ {
		if st.IsValid(c) {
			t.Fatalf("chunk %d should start invalid", c)
		}
	}
}

func TestMarkValidIdempotentAndPersists(t *testing.T) {
	ref, st, statePath := buildTestState(t)
	defer ref.Close()

	if err := st.MarkValid(2); err != nil {
		t.Fatal(err)
	}
	if !st.IsValid(2) {
		t.Fatal("chunk 2 should be valid after MarkValid")
	}
	if err := st.MarkValid(2); err != nil { // idempotent
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := LoadState(statePath, ref)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if !reopened.IsValid(2) {
		t.Fatal("reopened state lost persisted valid bit")
	}
	if reopened.IsValid(0) {
		t.Fatal("reopened state has spuriously valid chunk 0")
	}
}

func TestMissingChunksInRange(t *testing.T) {
	ref, st, _ := buildTestState(t)
	defer ref.Close()
	defer st.Close()

	if err := st.MarkValid(1); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkValid(3); err != nil {
		t.Fatal(err)
	}

	missing := st.MissingChunksInRange(0, 4)
	want := []uint64{0, 2, 4}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i, c := range want {
		if missing[i] != c {
			t.Fatalf("missing = %v, want %v", missing, want)
		}
	}
}

func TestValidCount(t *testing.T) {
	ref, st, _ := buildTestState(t)
	defer ref.Close()
	defer st.Close()

	if st.ValidCount() != 0 {
		t.Fatal("fresh state should have zero valid chunks")
	}
	for _, c := range []uint64{0, 2, 4} {
		if err := st.MarkValid(c); err != nil {
			t.Fatal(err)
		}
	}
	if got := st.ValidCount(); got != 3 {
		t.Fatalf("ValidCount = %d, want 3", got)
	}
}

func TestLoadStateRejectsShapeMismatch(t *testing.T) {
	ref, st, statePath := buildTestState(t)
	defer ref.Close()
	defer st.Close()

	otherShape, otherHashes, otherRefPath := buildTestReference(t, 8192, 1024)
	_ = otherShape
	otherRef, err := LoadReference(otherRefPath)
	if err != nil {
		t.Fatal(err)
	}
	defer otherRef.Close()
	_ = otherHashes

	if _, err := LoadState(statePath, otherRef); err == nil {
		t.Fatal("want error loading state against mismatched reference")
	}
}

func TestDegradeStopsPersistence(t *testing.T) {
	ref, st, statePath := buildTestState(t)
	defer ref.Close()

	st.Degrade()
	if err := st.MarkValid(0); err != nil {
		t.Fatal(err)
	}
	if !st.IsValid(0) {
		t.Fatal("in-memory bit should still flip after Degrade")
	}

	reopened, err := LoadState(statePath, ref)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.IsValid(0) {
		t.Fatal("degraded MarkValid must not have reached disk")
	}
}
