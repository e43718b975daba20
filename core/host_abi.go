package core

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// emitContractLog is the "runtime environment" __log writes to (spec §4.6).
// It never touches chain state — the trace log is the only record end
// users can rely on (§7) — this is strictly an operator-facing diagnostic.
func emitContractLog(myself AlkaneId, msg string) {
	logrus.WithField("alkane", myself.String()).Debug(msg)
}

// MaxMemorySize bounds how far guest linear memory may grow (spec §4.5/§4.6
// "reject writes that would grow memory past MAX_MEMORY_SIZE"); the source
// material leaves the exact figure unspecified (design note 9d), so this
// schedule fixes it at a generous multiple of the largest single buffer the
// ABI ever moves (a full block).
const MaxMemorySize = 256 * 1024 * 1024

// HostFunctionNames is the fixed, addressed-by-index table of every host
// function the ABI exposes (spec §9 design note: "prefer a static table of
// typed host functions addressed by index, with uniform validation wrappers
// generated once" in place of the source's dozens of ad hoc linker
// closures). Index order is the table's identity, not registration order;
// adding a function appends, it never reorders existing entries.
var HostFunctionNames = [...]string{
	"__abort",
	"__request_storage",
	"__load_storage",
	"__request_context",
	"__load_context",
	"__request_transaction",
	"__load_transaction",
	"__request_block",
	"__load_block",
	"__returndatacopy",
	"__sequence",
	"__fuel",
	"__height",
	"__balance",
	"__log",
	"__call",
	"__delegatecall",
	"__staticcall",
}

// hostFunc is the shared constructor every §4.6 entry (and the three §4.7
// call flavors) uses to wire a Go closure into the wasmer import table.
func hostFunc(wstore *wasmer.Store, params, results []wasmer.ValueKind, f func([]wasmer.Value) ([]wasmer.Value, error)) *wasmer.Function {
	return wasmer.NewFunction(wstore, wasmer.NewFunctionType(wasmer.NewValueTypes(params...), wasmer.NewValueTypes(results...)), f)
}

// hostEnv is the per-instantiation state every host function closes over:
// the guest memory, the call's Context/fuel, and the EngineState staging
// buffers. Grounded on the teacher's hostCtx (core/virtual_machine.go),
// generalized from four fixed callbacks to the full §4.6 table.
type hostEnv struct {
	mem    *wasmer.Memory
	ctx    *Context
	state  *EngineState
	loader *ModuleLoader
}

// checkBounds validates a guest pointer/length pair against the live memory
// size, returning a MemoryAccess error — which is always a trap, never a
// recoverable revert (spec §7).
func checkBounds(mem *wasmer.Memory, ptr, length int32) error {
	if ptr < 0 || length < 0 {
		return NewEngineError(KindMemoryAccess, "negative pointer or length", nil)
	}
	size := int32(len(mem.Data()))
	if ptr > size || length > size-ptr {
		return NewEngineError(KindMemoryAccess, fmt.Sprintf("guest access out of bounds: ptr=%d len=%d size=%d", ptr, length, size), nil)
	}
	return nil
}

// readRaw copies length bytes starting at ptr out of guest memory.
func readRaw(mem *wasmer.Memory, ptr, length int32) ([]byte, error) {
	if err := checkBounds(mem, ptr, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, mem.Data()[ptr:ptr+length])
	return out, nil
}

// readLengthPrefixed reads a 4-byte LE length followed by that many bytes,
// the buffer convention every host ABI pointer argument uses (spec §4.6:
// "every pointer argument refers to a little-endian length-prefixed
// buffer").
func readLengthPrefixed(mem *wasmer.Memory, ptr int32) ([]byte, error) {
	hdr, err := readRaw(mem, ptr, 4)
	if err != nil {
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(hdr))
	return readRaw(mem, ptr+4, n)
}

// writeRaw copies data into guest memory at ptr, rejecting writes that
// would grow past MaxMemorySize.
func writeRaw(mem *wasmer.Memory, ptr int32, data []byte) error {
	if err := checkBounds(mem, ptr, int32(len(data))); err != nil {
		return err
	}
	if ptr+int32(len(data)) > MaxMemorySize {
		return NewEngineError(KindResourceExhausted, "write would grow guest memory past MAX_MEMORY_SIZE", nil)
	}
	copy(mem.Data()[ptr:], data)
	return nil
}

// hostCheckpoint wraps a host function body with the depth-preservation and
// sub-checkpoint invariants spec §4.6 requires of every host function:
// record depth on entry, open a sub-checkpoint, commit on success, and
// assert the depth is restored on exit. A depth mismatch is an
// IntegrityViolation — a fatal engine bug, never a guest-triggerable fault.
func hostCheckpoint(store *AtomicPointer, body func() (int32, error)) (int32, error) {
	before := store.Depth()
	store.Checkpoint()
	result, err := body()
	if err != nil {
		if rerr := store.Rollback(); rerr != nil {
			return 0, NewEngineError(KindIntegrityViolation, "rollback failed inside host function", rerr)
		}
	} else {
		if cerr := store.Commit(); cerr != nil {
			return 0, NewEngineError(KindIntegrityViolation, "commit failed inside host function", cerr)
		}
	}
	if store.Depth() != before {
		return 0, NewEngineError(KindIntegrityViolation, fmt.Sprintf("host function depth mismatch: entered at %d, left at %d", before, store.Depth()), nil)
	}
	return result, err
}

func storageSlotKey(owner AlkaneId, key []byte) []byte {
	id := owner.Bytes32()
	return keyString("/alkanes/", id[:], []byte("/storage/"), key)
}

// StorageSlotKey exposes storageSlotKey for the read-only query surface's
// getstorageat view (spec §6).
func StorageSlotKey(owner AlkaneId, key []byte) []byte { return storageSlotKey(owner, key) }

func sequenceKey() []byte { return []byte("/sequence") }

// nextSequence reads, increments and rewrites /sequence, returning the
// freshly allocated value (spec §3: "monotonic u128 used to allocate (2, n)
// identities").
func nextSequence(store *AtomicPointer) (Uint128, error) {
	cur := ZeroU128
	if raw, ok := store.Get(sequenceKey()); ok {
		v, err := U128FromLE16(raw)
		if err != nil {
			return Uint128{}, NewEngineError(KindIntegrityViolation, "corrupt /sequence value", err)
		}
		cur = v
	}
	next, err := cur.Add(U128FromU64(1))
	if err != nil {
		return Uint128{}, NewEngineError(KindOverflow, "sequence counter overflow", err)
	}
	b := next.Bytes16LE()
	store.Set(sequenceKey(), b[:])
	return next, nil
}

// registerHostABI builds the §4.6 import table for one WASM instance. The
// closures all read from/write to env, which invoke builds fresh (with a
// new EngineState) for every instance it runs.
func registerHostABI(wstore *wasmer.Store, env *hostEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.ValueKind(wasmer.I32)
	fn := func(params, results []wasmer.ValueKind, f func([]wasmer.Value) ([]wasmer.Value, error)) *wasmer.Function {
		return hostFunc(wstore, params, results, f)
	}

	abort := fn([]wasmer.ValueKind{i32, i32, i32, i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		env.state.MarkFailed("contract called __abort")
		return []wasmer.Value{}, nil
	})

	requestStorage := fn([]wasmer.ValueKind{i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		store := env.ctx.Msg.Store
		res, err := hostCheckpoint(store, func() (int32, error) {
			key, err := readLengthPrefixed(env.mem, args[0].I32())
			if err != nil {
				return 0, err
			}
			val, ok := store.Get(storageSlotKey(env.ctx.Myself, key))
			if !ok {
				env.state.pendingStorage = nil
				return -1, nil
			}
			env.state.pendingStorage = val
			if err := env.ctx.Fuel.ChargeRequestBytes(len(val)); err != nil {
				return 0, err
			}
			return int32(len(val)), nil
		})
		return []wasmer.Value{wasmer.NewI32(res)}, err
	})

	loadStorage := fn([]wasmer.ValueKind{i32, i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		store := env.ctx.Msg.Store
		res, err := hostCheckpoint(store, func() (int32, error) {
			val := env.state.pendingStorage
			if err := env.ctx.Fuel.ChargeLoadBytes(len(val)); err != nil {
				return 0, err
			}
			if err := writeRaw(env.mem, args[1].I32(), val); err != nil {
				return 0, err
			}
			return int32(len(val)), nil
		})
		return []wasmer.Value{wasmer.NewI32(res)}, err
	})

	requestContext := fn(nil, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		env.state.pendingContext = SerializeContext(env.ctx)
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingContext)))}, nil
	})

	loadContext := fn([]wasmer.ValueKind{i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := writeRaw(env.mem, args[0].I32(), env.state.pendingContext); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingContext)))}, nil
	})

	requestTransaction := fn(nil, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := env.ctx.Fuel.ChargeLoadTransaction(); err != nil {
			return nil, err
		}
		env.state.pendingTransaction = env.ctx.Msg.TransactionByte
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingTransaction)))}, nil
	})

	loadTransaction := fn([]wasmer.ValueKind{i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := writeRaw(env.mem, args[0].I32(), env.state.pendingTransaction); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingTransaction)))}, nil
	})

	requestBlock := fn(nil, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := env.ctx.Fuel.ChargeLoadBlock(); err != nil {
			return nil, err
		}
		env.state.pendingBlock = env.ctx.Msg.BlockBytes
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingBlock)))}, nil
	})

	loadBlock := fn([]wasmer.ValueKind{i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := writeRaw(env.mem, args[0].I32(), env.state.pendingBlock); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(env.state.pendingBlock)))}, nil
	})

	returndatacopy := fn([]wasmer.ValueKind{i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		data := env.state.lastReturnData
		if err := writeRaw(env.mem, args[0].I32(), data); err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
	})

	sequence := fn([]wasmer.ValueKind{i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := env.ctx.Fuel.ChargeSequence(); err != nil {
			return nil, err
		}
		raw, ok := env.ctx.Msg.Store.Get(sequenceKey())
		if !ok {
			zero := ZeroU128.Bytes16LE()
			raw = zero[:]
		}
		if err := writeRaw(env.mem, args[0].I32(), raw); err != nil {
			return nil, err
		}
		return []wasmer.Value{}, nil
	})

	fuelFn := fn([]wasmer.ValueKind{i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := env.ctx.Fuel.ChargeFuelQuery(); err != nil {
			return nil, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], env.ctx.Fuel.Remaining())
		if err := writeRaw(env.mem, args[0].I32(), buf[:]); err != nil {
			return nil, err
		}
		return []wasmer.Value{}, nil
	})

	height := fn([]wasmer.ValueKind{i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := env.ctx.Fuel.ChargeHeight(); err != nil {
			return nil, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], env.ctx.Msg.Height)
		if err := writeRaw(env.mem, args[0].I32(), buf[:]); err != nil {
			return nil, err
		}
		return []wasmer.Value{}, nil
	})

	balance := fn([]wasmer.ValueKind{i32, i32, i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		store := env.ctx.Msg.Store
		_, err := hostCheckpoint(store, func() (int32, error) {
			if err := env.ctx.Fuel.ChargeBalance(); err != nil {
				return 0, err
			}
			whoBuf, err := readLengthPrefixed(env.mem, args[0].I32())
			if err != nil {
				return 0, err
			}
			whatBuf, err := readLengthPrefixed(env.mem, args[1].I32())
			if err != nil {
				return 0, err
			}
			who, err := AlkaneIdFromBytes32(whoBuf)
			if err != nil {
				return 0, NewEngineError(KindMemoryAccess, "malformed __balance owner id", err)
			}
			what, err := AlkaneIdFromBytes32(whatBuf)
			if err != nil {
				return 0, NewEngineError(KindMemoryAccess, "malformed __balance asset id", err)
			}
			sheet, err := LoadBalanceSheet(store, who)
			if err != nil {
				return 0, err
			}
			amt := EncodeAssetAmount(sheet.Balance(what))
			if err := writeRaw(env.mem, args[2].I32(), amt); err != nil {
				return 0, err
			}
			return 0, nil
		})
		return []wasmer.Value{}, err
	})

	logFn := fn([]wasmer.ValueKind{i32}, nil, func(args []wasmer.Value) ([]wasmer.Value, error) {
		msg, err := readLengthPrefixed(env.mem, args[0].I32())
		if err != nil {
			return nil, err
		}
		emitContractLog(env.ctx.Myself, string(msg))
		return []wasmer.Value{}, nil
	})

	call := newCallFunction(wstore, env, FlavorCall)
	delegatecall := newCallFunction(wstore, env, FlavorDelegate)
	staticcall := newCallFunction(wstore, env, FlavorStatic)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"__abort":               abort,
		"__request_storage":     requestStorage,
		"__load_storage":        loadStorage,
		"__request_context":     requestContext,
		"__load_context":        loadContext,
		"__request_transaction": requestTransaction,
		"__load_transaction":    loadTransaction,
		"__request_block":       requestBlock,
		"__load_block":          loadBlock,
		"__returndatacopy":      returndatacopy,
		"__sequence":            sequence,
		"__fuel":                fuelFn,
		"__height":              height,
		"__balance":             balance,
		"__log":                 logFn,
		"__call":                call,
		"__delegatecall":        delegatecall,
		"__staticcall":          staticcall,
	})

	return imports
}
