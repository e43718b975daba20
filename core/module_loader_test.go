package core

import "testing"

func TestReadVarU32(t *testing.T) {
	v, n, ok := readVarU32([]byte{0xAC, 0x02})
	if !ok || v != 300 || n != 2 {
		t.Fatalf("expected (300,2,true), got (%d,%d,%v)", v, n, ok)
	}
	if _, _, ok := readVarU32(nil); ok {
		t.Fatal("expected false on empty input")
	}
}

func TestHasStartSectionRejectsNonWasm(t *testing.T) {
	if hasStartSection([]byte("not wasm")) {
		t.Fatal("non-wasm input must not report a start section")
	}
}

func TestHasStartSectionFindsStartSection(t *testing.T) {
	// Minimal header + a single section with id=8 (start), size=1, payload byte.
	wasm := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00, 0x08, 0x01, 0x00}
	if !hasStartSection(wasm) {
		t.Fatal("expected a start section to be detected")
	}
}

func TestHasStartSectionAbsent(t *testing.T) {
	// A single non-start section (id=1, size=1).
	wasm := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00, 0x01, 0x01, 0x00}
	if hasStartSection(wasm) {
		t.Fatal("did not expect a start section")
	}
}

func TestStoreBytecodeRejectsOversizedModule(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	huge := make([]byte, MaxWasmSize+1)
	if err := StoreBytecode(store, NewAlkaneId(4, 1), huge); err == nil {
		t.Fatal("expected an oversized module to be rejected")
	}
}

func TestPointBytecodeAtIndirection(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	target := NewAlkaneId(4, 1)
	if err := StoreBytecode(store, target, []byte("fake-wasm-bytes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone := NewAlkaneId(2, 9)
	PointBytecodeAt(store, clone, target)

	raw, err := loadBytecode(store, clone)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targetRaw, _ := store.Get(bytecodeKey(target))
	if string(raw) != string(targetRaw) {
		t.Fatal("expected the indirection to resolve to the target's stored bytes")
	}
}

func TestLoadBytecodeMissingIdentity(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	if _, err := loadBytecode(store, NewAlkaneId(2, 404)); err == nil {
		t.Fatal("expected an error for a missing identity")
	}
}
