package core

import "testing"

func TestAtomicPointerCommitVisibility(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	store.Set([]byte("k"), []byte("v1"))
	if err := store.Commit(); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	v, ok := store.Get([]byte("k"))
	if !ok || string(v) != "v1" {
		t.Fatalf("expected k=v1 after commit, got %q ok=%v", v, ok)
	}
}

func TestAtomicPointerRollbackIsInvisible(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	store.Set([]byte("k"), []byte("v1"))
	if err := store.Commit(); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}

	store.Checkpoint()
	store.Set([]byte("k"), []byte("v2"))
	store.Set([]byte("new"), []byte("x"))
	if err := store.Rollback(); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}

	v, ok := store.Get([]byte("k"))
	if !ok || string(v) != "v1" {
		t.Fatalf("rollback leaked a write: got %q ok=%v", v, ok)
	}
	if _, ok := store.Get([]byte("new")); ok {
		t.Fatal("rollback leaked a new key")
	}
}

func TestAtomicPointerNestedCheckpointsMergeOnCommit(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	store.Set([]byte("outer"), []byte("1"))
	store.Checkpoint()
	store.Set([]byte("inner"), []byte("2"))
	if err := store.Commit(); err != nil {
		t.Fatalf("unexpected inner commit error: %v", err)
	}
	if store.Depth() != 1 {
		t.Fatalf("expected depth 1 after inner commit, got %d", store.Depth())
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("unexpected outer commit error: %v", err)
	}
	if _, ok := store.Get([]byte("outer")); !ok {
		t.Fatal("outer key missing after outer commit")
	}
	if _, ok := store.Get([]byte("inner")); !ok {
		t.Fatal("inner key missing after outer commit")
	}
}

func TestAtomicPointerZeroLengthValueDistinctFromAbsent(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	store.Set([]byte("empty"), []byte{})
	v, ok := store.Get([]byte("empty"))
	if !ok {
		t.Fatal("zero-length value should still be present")
	}
	if len(v) != 0 {
		t.Fatalf("expected zero-length value, got %v", v)
	}
	if _, ok := store.Get([]byte("absent")); ok {
		t.Fatal("an absent key must not report present")
	}
}

func TestEnterFrameRecursionGuard(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	for i := 0; i < MaxCheckpointDepth; i++ {
		if _, err := EnterFrame(store); err != nil {
			t.Fatalf("unexpected error at depth %d: %v", i, err)
		}
	}
	if _, err := EnterFrame(store); err == nil {
		t.Fatal("expected recursion guard to trip at MaxCheckpointDepth")
	} else if ee, ok := err.(*EngineError); !ok || ee.Kind != KindRecursion {
		t.Fatalf("expected a KindRecursion EngineError, got %v", err)
	}
}

func TestCommitWithNoOpenCheckpoint(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	if err := store.Commit(); err == nil {
		t.Fatal("expected error committing with no open checkpoint")
	}
}

func TestRollbackWithNoOpenCheckpoint(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	if err := store.Rollback(); err == nil {
		t.Fatal("expected error rolling back with no open checkpoint")
	}
}

func TestPointerSelect(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	root := store.Root()
	p := root.SelectString("/alkanes/").Select([]byte("id"))
	p.Set([]byte("v"))
	if string(p.Get()) != "v" {
		t.Fatalf("expected v, got %q", p.Get())
	}
	if string(p.Key()) != "/alkanes/id" {
		t.Fatalf("unexpected key: %q", p.Key())
	}
}
