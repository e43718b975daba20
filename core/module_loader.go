package core

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// MaxWasmSize bounds the decompressed bytecode an alkane may ship (spec §4.5).
const MaxWasmSize = 100 * 1024 * 1024

// maxBytecodeIndirection caps how many times loadBytecode follows a 32-byte
// "this is really stored at this other id" redirect before giving up, the
// same anti-runaway posture EnterFrame applies to call depth (spec §3
// "Module loader").
const maxBytecodeIndirection = 8

// requiredExport is the guest entry point every alkane module must expose
// (spec §4.5).
const requiredExport = "__execute"

// moduleCacheEntries bounds the parsed-module cache, grounded on the
// teacher's diskLRU (core/storage.go) eviction policy, adapted from an
// on-disk cid cache to an in-process cache keyed by bytecode hash since
// wasmer.Module values cannot be round-tripped through a file.
const moduleCacheEntries = 256

type cacheEntry struct {
	key   [32]byte
	mod   *wasmer.Module
	store *wasmer.Store
}

// moduleCache is a bounded, hash-keyed LRU of compiled wasmer.Module values,
// grounded on core/storage.go's newDiskLRU/put/get idiom.
type moduleCache struct {
	mu    sync.Mutex
	max   int
	index map[[32]byte]int // key -> position in order
	order []*cacheEntry
}

func newModuleCache(max int) *moduleCache {
	if max <= 0 {
		max = moduleCacheEntries
	}
	return &moduleCache{max: max, index: make(map[[32]byte]int)}
}

func (c *moduleCache) get(key [32]byte) (*wasmer.Module, *wasmer.Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[key]
	if !ok {
		return nil, nil, false
	}
	e := c.order[i]
	// Move the hit to the most-recently-used end so put evicts the least
	// recently used entry.
	c.order = append(c.order[:i], c.order[i+1:]...)
	for k, idx := range c.index {
		if idx > i {
			c.index[k] = idx - 1
		}
	}
	c.order = append(c.order, e)
	c.index[key] = len(c.order) - 1
	return e.mod, e.store, true
}

func (c *moduleCache) put(key [32]byte, mod *wasmer.Module, store *wasmer.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[key]; ok {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		delete(c.index, oldest.key)
		c.order = c.order[1:]
		for k, idx := range c.index {
			c.index[k] = idx - 1
		}
	}
	c.order = append(c.order, &cacheEntry{key: key, mod: mod, store: store})
	c.index[key] = len(c.order) - 1
}

// ModuleLoader fetches, validates and compiles alkane bytecode (C5),
// grounded on the teacher's HeavyVM.Execute module/instantiate path
// (core/virtual_machine.go) and CompileWASM (core/contracts.go), generalized
// from a single fixed-mode VM into a per-alkane-identity loader with a
// content-addressed compiled-module cache.
type ModuleLoader struct {
	engine *wasmer.Engine
	cache  *moduleCache
}

func NewModuleLoader() *ModuleLoader {
	return &ModuleLoader{engine: wasmer.NewEngine(), cache: newModuleCache(moduleCacheEntries)}
}

// bytecodeKey is the storage key an alkane's compressed bytecode lives under
// (spec §3): /alkanes/<id32>/bytecode.
func bytecodeKey(id AlkaneId) []byte {
	b := id.Bytes32()
	return keyString("/alkanes/", b[:], []byte("/bytecode"))
}

// loadBytecode fetches id's compressed bytecode, following up to
// maxBytecodeIndirection 32-byte "stored at this other id" redirects (spec
// §3: "bytecode may itself be a 32-byte AlkaneId pointing at the identity
// that actually holds it, to let deployments share code").
func loadBytecode(store *AtomicPointer, id AlkaneId) ([]byte, error) {
	cur := id
	for i := 0; i < maxBytecodeIndirection; i++ {
		raw, ok := store.Get(bytecodeKey(cur))
		if !ok {
			return nil, NewEngineError(KindWasmValidation, fmt.Sprintf("no bytecode stored for %s", cur), nil)
		}
		if len(raw) == 32 {
			next, err := AlkaneIdFromBytes32(raw)
			if err == nil && !next.Equal(cur) {
				cur = next
				continue
			}
		}
		return raw, nil
	}
	return nil, NewEngineError(KindWasmValidation, fmt.Sprintf("bytecode indirection exceeded %d hops starting at %s", maxBytecodeIndirection, id), nil)
}

// decompress gzip-inflates raw, enforcing MaxWasmSize on the decompressed
// output (spec §4.5: "a module that decompresses past MAX_WASM_SIZE is
// rejected without ever being handed to the compiler").
func decompress(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, NewEngineError(KindWasmValidation, "bytecode is not valid gzip", err)
	}
	defer zr.Close()

	limited := io.LimitReader(zr, MaxWasmSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, NewEngineError(KindWasmValidation, "gzip decompression failed", err)
	}
	if len(out) > MaxWasmSize {
		return nil, NewEngineError(KindResourceExhausted, fmt.Sprintf("decompressed module exceeds MAX_WASM_SIZE (%d bytes)", MaxWasmSize), nil)
	}
	return out, nil
}

// validateModule enforces the structural requirements spec §4.5 places on
// every alkane module before it may be instantiated: no start function, a
// "memory" export, and a "__execute" export.
func validateModule(mod *wasmer.Module) error {
	var hasMemory, hasExecute bool
	for _, exp := range mod.Exports() {
		switch exp.Name() {
		case "memory":
			if exp.Type().Kind() == wasmer.MEMORY {
				hasMemory = true
			}
		case requiredExport:
			if exp.Type().Kind() == wasmer.FUNCTION {
				hasExecute = true
			}
		}
	}
	if !hasMemory {
		return NewEngineError(KindWasmValidation, "module does not export linear memory", nil)
	}
	if !hasExecute {
		return NewEngineError(KindWasmValidation, fmt.Sprintf("module does not export %s", requiredExport), nil)
	}
	return nil
}

// hasStartSection scans raw WASM module bytes for a start section (id 8),
// per the module format spec §4.5 forbids: "must not declare a start
// function". wasmer-go's compiled Module doesn't expose this directly, so
// the check runs against the raw bytes before compilation.
func hasStartSection(wasm []byte) bool {
	if len(wasm) < 8 || string(wasm[0:4]) != "\x00asm" {
		return false
	}
	off := 8
	for off < len(wasm) {
		id := wasm[off]
		off++
		size, n, ok := readVarU32(wasm[off:])
		if !ok {
			return false
		}
		off += n
		if id == 8 {
			return true
		}
		off += int(size)
	}
	return false
}

// readVarU32 decodes an unsigned LEB128 varint as used by the WASM binary
// format's section headers.
func readVarU32(b []byte) (uint32, int, bool) {
	var result uint32
	var shift uint
	for i := 0; i < len(b) && i < 5; i++ {
		by := b[i]
		result |= uint32(by&0x7f) << shift
		if by&0x80 == 0 {
			return result, i + 1, true
		}
		shift += 7
	}
	return 0, 0, false
}

// Load fetches, decompresses, validates and compiles id's bytecode,
// returning a cached wasmer.Module keyed by its sha256 hash so repeated
// calls into the same alkane during a block skip recompilation (spec §4.5
// design note: "compilation is the dominant per-call cost; modules must be
// cached across calls within a block at minimum").
func (l *ModuleLoader) Load(store *AtomicPointer, id AlkaneId) (*wasmer.Module, *wasmer.Store, error) {
	raw, err := loadBytecode(store, id)
	if err != nil {
		return nil, nil, err
	}
	wasm, err := decompress(raw)
	if err != nil {
		return nil, nil, err
	}
	if hasStartSection(wasm) {
		return nil, nil, NewEngineError(KindWasmValidation, "module declares a start function, which is forbidden", nil)
	}

	key := sha256.Sum256(wasm)
	if mod, wstore, ok := l.cache.get(key); ok {
		return mod, wstore, nil
	}

	wstore := wasmer.NewStore(l.engine)
	mod, err := wasmer.NewModule(wstore, wasm)
	if err != nil {
		return nil, nil, NewEngineError(KindWasmValidation, "module failed to compile", err)
	}
	if err := validateModule(mod); err != nil {
		return nil, nil, err
	}

	l.cache.put(key, mod, wstore)
	return mod, wstore, nil
}

// StoreBytecode gzip-compresses and writes wasm under id's bytecode key.
// Used by the extcall dispatcher's deploy paths (spec §4.7) and by genesis.
func StoreBytecode(store *AtomicPointer, id AlkaneId, wasm []byte) error {
	if len(wasm) > MaxWasmSize {
		return NewEngineError(KindResourceExhausted, fmt.Sprintf("module exceeds MAX_WASM_SIZE (%d bytes)", MaxWasmSize), nil)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(wasm); err != nil {
		return NewEngineError(KindWasmValidation, "gzip compression failed", err)
	}
	if err := zw.Close(); err != nil {
		return NewEngineError(KindWasmValidation, "gzip compression failed", err)
	}
	store.Set(bytecodeKey(id), buf.Bytes())
	return nil
}

// PointBytecodeAt writes a 32-byte redirect from id to target, so id's
// bytecode loads are served by target's compiled module without duplicating
// the underlying bytes (spec §3 "template" deployment semantics: factory
// clones at (5,tx)/(6,tx) and (1,*) deploys that select a template redirect
// to the shared (4,tx) template's code; a (3,tx) deploy stores its bytecode
// at (4,tx) directly).
func PointBytecodeAt(store *AtomicPointer, id, target AlkaneId) {
	b := target.Bytes32()
	store.Set(bytecodeKey(id), b[:])
}
