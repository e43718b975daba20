package core

import (
	"errors"
	"fmt"
	"sync"
)

// MaxCheckpointDepth is the anti-runaway guard against mutual recursion
// (spec §4.1): the extcall dispatcher refuses to open a new frame once the
// store is already this deep.
const MaxCheckpointDepth = 75

// KVStore is the backing persistence layer beneath all open checkpoints.
// The engine owns it exclusively; contracts never see it directly (design
// note 9 on shared resource policy).
type KVStore interface {
	Get(key []byte) ([]byte, bool)
	Set(key, value []byte)
	Delete(key []byte)
}

// MemoryBackend is an in-process KVStore, grounded on the teacher's
// map[string][]byte ledger state (core/ledger.go's State field) generalized
// into its own type so AtomicPointer can sit in front of any backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok
}

func (m *MemoryBackend) Set(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
}

func (m *MemoryBackend) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
}

// Snapshot returns a flat copy of every key/value currently in the backend.
func (m *MemoryBackend) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

type overlay struct {
	entries map[string]*overlayEntry
}

func newOverlay() *overlay { return &overlay{entries: make(map[string]*overlayEntry)} }

// AtomicPointer is the nestable, checkpointed key/value store (C1). Reads
// consult open checkpoints innermost-first, then the backing store; writes
// land in the innermost open checkpoint and only become visible to later
// transactions once the depth-1 checkpoint commits (spec §4.1).
type AtomicPointer struct {
	mu      sync.Mutex
	backend KVStore
	stack   []*overlay
}

func NewAtomicPointer(backend KVStore) *AtomicPointer {
	return &AtomicPointer{backend: backend}
}

// Depth reports the number of open checkpoints.
func (a *AtomicPointer) Depth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stack)
}

// Checkpoint opens a new nested overlay and returns the resulting depth.
// Callers (the extcall dispatcher, every host function) must check the
// MaxCheckpointDepth guard themselves before calling this when the new frame
// is attacker-controlled (spec §4.7 step 1).
func (a *AtomicPointer) Checkpoint() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stack = append(a.stack, newOverlay())
	return len(a.stack)
}

// Commit merges the top checkpoint into its parent, or flushes it to the
// backing store if it was the last open checkpoint (depth 1 -> 0).
func (a *AtomicPointer) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.stack) == 0 {
		return errors.New("store: commit with no open checkpoint")
	}
	top := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]
	if len(a.stack) == 0 {
		for k, e := range top.entries {
			if e.deleted {
				a.backend.Delete([]byte(k))
			} else {
				a.backend.Set([]byte(k), e.value)
			}
		}
		return nil
	}
	parent := a.stack[len(a.stack)-1]
	for k, e := range top.entries {
		parent.entries[k] = e
	}
	return nil
}

// Rollback discards the top checkpoint; nothing it wrote is ever observed,
// even by the frame that opened it (spec §3 invariant 5).
func (a *AtomicPointer) Rollback() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.stack) == 0 {
		return errors.New("store: rollback with no open checkpoint")
	}
	a.stack = a.stack[:len(a.stack)-1]
	return nil
}

func (a *AtomicPointer) get(key []byte) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := string(key)
	for i := len(a.stack) - 1; i >= 0; i-- {
		if e, ok := a.stack[i].entries[k]; ok {
			if e.deleted {
				return nil, false
			}
			return e.value, true
		}
	}
	a.mu.Unlock()
	v, ok := a.backend.Get(key)
	a.mu.Lock()
	return v, ok
}

func (a *AtomicPointer) set(key, value []byte) {
	a.mu.Lock()
	cp := make([]byte, len(value))
	copy(cp, value)
	if len(a.stack) == 0 {
		a.mu.Unlock()
		a.backend.Set(key, cp)
		return
	}
	top := a.stack[len(a.stack)-1]
	top.entries[string(key)] = &overlayEntry{value: cp}
	a.mu.Unlock()
}

func (a *AtomicPointer) del(key []byte) {
	a.mu.Lock()
	if len(a.stack) == 0 {
		a.mu.Unlock()
		a.backend.Delete(key)
		return
	}
	top := a.stack[len(a.stack)-1]
	top.entries[string(key)] = &overlayEntry{deleted: true}
	a.mu.Unlock()
}

// Get fetches the value at an explicit absolute key.
func (a *AtomicPointer) Get(key []byte) ([]byte, bool) { return a.get(key) }

// Set writes an explicit absolute key.
func (a *AtomicPointer) Set(key, value []byte) { a.set(key, value) }

// Delete removes an explicit absolute key. A zero-length value written via
// Set is distinguishable from a deleted/absent key (spec §8 boundary case).
func (a *AtomicPointer) Delete(key []byte) { a.del(key) }

// Root returns a Pointer handle with an empty path prefix.
func (a *AtomicPointer) Root() Pointer { return Pointer{store: a} }

// Pointer is a cheap handle: a path prefix plus a reference to the owning
// AtomicPointer. Selecting further never copies underlying data (spec §4.1).
type Pointer struct {
	store *AtomicPointer
	path  []byte
}

// Select concatenates sub onto the pointer's path and returns a new handle.
func (p Pointer) Select(sub []byte) Pointer {
	np := make([]byte, 0, len(p.path)+len(sub))
	np = append(np, p.path...)
	np = append(np, sub...)
	return Pointer{store: p.store, path: np}
}

// SelectString is a convenience wrapper over Select.
func (p Pointer) SelectString(sub string) Pointer { return p.Select([]byte(sub)) }

// Key returns the pointer's effective, fully-concatenated key.
func (p Pointer) Key() []byte { return p.path }

// Get reads the value at this pointer's effective key.
func (p Pointer) Get() []byte {
	v, ok := p.store.get(p.path)
	if !ok {
		return nil
	}
	return v
}

// GetWithOK reads the value and reports whether it is present at all,
// distinguishing an absent key from one holding a zero-length value.
func (p Pointer) GetWithOK() ([]byte, bool) { return p.store.get(p.path) }

// Set writes a value at this pointer's effective key.
func (p Pointer) Set(v []byte) { p.store.set(p.path, v) }

// Delete removes the value at this pointer's effective key.
func (p Pointer) Delete() { p.store.del(p.path) }

func keyString(prefix string, parts ...[]byte) []byte {
	out := []byte(prefix)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// EnterFrame opens a new checkpoint, enforcing the recursion guard. It
// returns the new depth or a Recursion error.
func EnterFrame(store *AtomicPointer) (int, error) {
	if store.Depth() >= MaxCheckpointDepth {
		return 0, NewEngineError(KindRecursion, fmt.Sprintf("checkpoint depth %d exceeds limit %d", store.Depth(), MaxCheckpointDepth), nil)
	}
	return store.Checkpoint(), nil
}
