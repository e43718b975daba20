package core

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// CallFlavor selects how a sub-call's identity, caller and balances are
// derived from its parent (spec §4.7).
type CallFlavor int

const (
	FlavorCall CallFlavor = iota
	FlavorDelegate
	FlavorStatic
)

func (f CallFlavor) String() string {
	switch f {
	case FlavorDelegate:
		return "delegatecall"
	case FlavorStatic:
		return "staticcall"
	default:
		return "call"
	}
}

// DeployWitness supplies the raw WASM a deployment-shaped target needs. The
// host transaction witness that carries this bytecode is an explicit
// non-goal collaborator (spec §1, §6): callers of Dispatch/the message
// context thread the already-extracted bytes through here rather than the
// engine parsing witness envelopes itself.
type DeployWitness struct {
	Bytecode []byte
}

// resolveTarget implements the deployment branch of the §4.7 dispatch
// algorithm's step 3: decide the effective callee identity for a Cellpack
// target, performing any deployment/clone side effect the block sentinel
// demands.
func resolveTarget(store *AtomicPointer, target AlkaneId, inputs []Uint128, witness *DeployWitness) (resolved AlkaneId, deployed bool, err error) {
	switch {
	case target.Block.Cmp(U128FromU64(BlockDeployUnusedSequence)) == 0:
		seq, serr := nextSequence(store)
		if serr != nil {
			return AlkaneId{}, false, serr
		}
		id := AlkaneId{Block: U128FromU64(BlockExistingTemplate), Tx: seq}
		if len(inputs) > 0 {
			PointBytecodeAt(store, id, AlkaneId{Block: U128FromU64(BlockTemplateNamespace), Tx: inputs[0]})
		} else if witness != nil && len(witness.Bytecode) > 0 {
			if serr := StoreBytecode(store, id, witness.Bytecode); serr != nil {
				return AlkaneId{}, false, serr
			}
		} else {
			return AlkaneId{}, false, NewEngineError(KindWasmValidation, "deploy-to-unused-sequence with no template selector or witness bytecode", nil)
		}
		return id, true, nil

	case target.Block.Cmp(U128FromU64(BlockDeployAtTemplate)) == 0:
		templateID := AlkaneId{Block: U128FromU64(BlockTemplateNamespace), Tx: target.Tx}
		created := false
		if _, ok := store.Get(bytecodeKey(templateID)); !ok {
			if witness == nil || len(witness.Bytecode) == 0 {
				return AlkaneId{}, false, NewEngineError(KindWasmValidation, "deploy-at-template with no witness bytecode for a new template", nil)
			}
			if serr := StoreBytecode(store, templateID, witness.Bytecode); serr != nil {
				return AlkaneId{}, false, serr
			}
			created = true
		}
		return templateID, created, nil

	case target.Block.Cmp(U128FromU64(BlockFactoryFromTemplate)) == 0:
		templateID := AlkaneId{Block: U128FromU64(BlockTemplateNamespace), Tx: target.Tx}
		if _, ok := store.Get(bytecodeKey(templateID)); !ok {
			return AlkaneId{}, false, NewEngineError(KindWasmValidation, fmt.Sprintf("factory reference to nonexistent template %s", templateID), nil)
		}
		seq, serr := nextSequence(store)
		if serr != nil {
			return AlkaneId{}, false, serr
		}
		id := AlkaneId{Block: U128FromU64(BlockExistingTemplate), Tx: seq}
		PointBytecodeAt(store, id, templateID)
		return id, true, nil

	case target.Block.Cmp(U128FromU64(BlockFactoryDeterministic)) == 0:
		templateID := AlkaneId{Block: U128FromU64(BlockTemplateNamespace), Tx: target.Tx}
		if _, ok := store.Get(bytecodeKey(templateID)); !ok {
			return AlkaneId{}, false, NewEngineError(KindWasmValidation, fmt.Sprintf("factory reference to nonexistent template %s", templateID), nil)
		}
		id := AlkaneId{Block: U128FromU64(BlockExistingTemplate), Tx: target.Tx}
		if _, ok := store.Get(bytecodeKey(id)); ok {
			return AlkaneId{}, false, NewEngineError(KindWasmValidation, fmt.Sprintf("deterministic factory slot %s is occupied", id), nil)
		}
		PointBytecodeAt(store, id, templateID)
		return id, true, nil

	case target.IsPrecompile():
		return target, false, nil

	default:
		return target, false, nil
	}
}

// DispatchRequest bundles what the caller (a host __call/__delegatecall/
// __staticcall invocation) supplies to Dispatch.
type DispatchRequest struct {
	Flavor        CallFlavor
	Cellpack      Cellpack
	Incoming      AlkaneTransferParcel
	CallerStorage map[string][]byte
	Witness       *DeployWitness
	FuelBudget    uint64
}

// Dispatch runs the full §4.7 algorithm for one child call: depth guard,
// target resolution/deployment, caller-storage piping, balance transfer,
// checkpointed execution and commit/rollback, appending the matching trace
// events. It is shared by the three host call flavors and always needs a
// parent frame; the top-level message context (C8) does not call it and
// runs its own resolve/credit/invoke sequence in HandleMessage.
func Dispatch(parent *Context, loader *ModuleLoader, req DispatchRequest) (*CallResponse, error) {
	store := parent.Msg.Store

	if _, err := EnterFrame(store); err != nil {
		return nil, err
	}
	// EnterFrame opens the single checkpoint that covers this whole call:
	// deployment/piping/transfer (steps 3-5) and the child's own execution
	// (steps 6-7) commit or roll back together, so a reverted call can never
	// leave a partial deployment or transfer behind (spec §8 invariant: a
	// reverting call leaves every /alkanes/* key unchanged).
	opened := true
	fail := func(err error) (*CallResponse, error) {
		if opened {
			store.Rollback()
		}
		return nil, err
	}

	resolved, deployed, err := resolveTarget(store, req.Cellpack.Target, req.Cellpack.Inputs, req.Witness)
	if err != nil {
		return fail(err)
	}
	if deployed {
		if err := parent.Fuel.ChargeDeploy(parent.Msg.Height); err != nil {
			return fail(err)
		}
	}

	for k, v := range req.CallerStorage {
		store.Set(storageSlotKey(parent.Myself, []byte(k)), v)
	}

	childMyself, childCaller := resolved, parent.Myself
	if req.Flavor == FlavorDelegate {
		childMyself, childCaller = parent.Myself, parent.Caller
	} else if req.Flavor == FlavorStatic {
		childCaller = parent.Myself
	}

	if req.Flavor == FlavorCall {
		parentSheet, err := LoadBalanceSheet(store, parent.Myself)
		if err != nil {
			return fail(err)
		}
		childSheet, err := LoadBalanceSheet(store, childMyself)
		if err != nil {
			return fail(err)
		}
		for _, t := range req.Incoming {
			if err := parentSheet.Debit(t.ID, t.Value); err != nil {
				return fail(err)
			}
			if err := childSheet.Credit(t.ID, t.Value); err != nil {
				return fail(err)
			}
		}
		if err := parentSheet.Persist(store, parent.Myself); err != nil {
			return fail(err)
		}
		if err := childSheet.Persist(store, childMyself); err != nil {
			return fail(err)
		}
	}

	childCtx := &Context{
		Myself:          childMyself,
		Caller:          childCaller,
		IncomingAlkanes: req.Incoming.Clone(),
		Inputs:          req.Cellpack.Inputs,
		Vout:            parent.Vout,
		Msg:             parent.Msg,
		Fuel:            parent.Fuel.Child(req.FuelBudget),
	}

	parent.Msg.Trace.EnterCall(childCtx)

	if resolved.IsPrecompile() {
		resp, perr := invokePrecompile(parent.Msg, resolved.Tx)
		if perr != nil {
			parent.Msg.Trace.RevertContext(&CallResponse{Data: EncodeRevert(perr.Error())})
			return fail(perr)
		}
		parent.Msg.Trace.ReturnContext(resp)
		if err := store.Commit(); err != nil {
			return nil, NewEngineError(KindIntegrityViolation, "precompile commit failed", err)
		}
		return resp, nil
	}

	resp, execErr := invoke(loader, childCtx)
	_ = parent.Fuel.Charge(childCtx.Fuel.Used()) // fuel monotonicity holds regardless of outcome (spec §8); never exceeds the budget Child() capped

	if execErr != nil || (resp != nil && len(resp.Storage) > 0 && req.Flavor == FlavorStatic) {
		if execErr == nil {
			execErr = NewEngineError(KindUnknownOpcode, "staticcall attempted a storage write", nil)
		}
		revertResp := resp
		if revertResp == nil {
			revertResp = &CallResponse{Data: EncodeRevert(execErr.Error())}
		}
		parent.Msg.Trace.RevertContext(revertResp)
		if rerr := store.Rollback(); rerr != nil {
			return nil, NewEngineError(KindIntegrityViolation, "rollback failed after reverted call", rerr)
		}
		opened = false
		return revertResp, asEngineError(execErr)
	}

	if req.Flavor != FlavorDelegate {
		if err := flushOutgoing(store, childMyself, parent.Myself, req.Flavor, resp); err != nil {
			return fail(err)
		}
	}
	for k, v := range resp.Storage {
		store.Set(storageSlotKey(childMyself, []byte(k)), v)
	}

	parent.Msg.Trace.ReturnContext(resp)
	if len(resp.Alkanes) > 0 {
		parent.Msg.Trace.ValueTransfer(resp.Alkanes, parent.Vout)
	}

	if err := store.Commit(); err != nil {
		return nil, NewEngineError(KindIntegrityViolation, "commit failed after successful call", err)
	}
	opened = false
	return resp, nil
}

// flushOutgoing debits the child's declared outgoing parcel from the
// child's own sheet and credits the parent, mirroring the "call" flavor's
// entry transfer in reverse (spec §4.7 step 8).
func flushOutgoing(store *AtomicPointer, child, parent AlkaneId, flavor CallFlavor, resp *CallResponse) error {
	if len(resp.Alkanes) == 0 {
		return nil
	}
	childSheet, err := LoadBalanceSheet(store, child)
	if err != nil {
		return err
	}
	parentSheet, err := LoadBalanceSheet(store, parent)
	if err != nil {
		return err
	}
	for _, t := range resp.Alkanes {
		if err := childSheet.MintableDebit(t.ID, t.Value); err != nil {
			return err
		}
		if err := parentSheet.Credit(t.ID, t.Value); err != nil {
			return err
		}
	}
	if err := childSheet.Persist(store, child); err != nil {
		return err
	}
	return parentSheet.Persist(store, parent)
}

// asEngineError normalizes any error into *EngineError so trace/propagation
// logic can inspect its Kind.
func asEngineError(err error) error {
	if _, ok := err.(*EngineError); ok {
		return err
	}
	return NewEngineError(KindWasmValidation, "trapped", err)
}

// newCallFunction builds the §4.7 host entry point for one call flavor:
// (cellpack_ptr, parcel_ptr, storage_ptr, fuel_budget, out_ptr) -> i32. The
// three pointer arguments are length-prefixed buffers (Cellpack varint
// stream, AlkaneTransferParcel, pending StorageMap); fuel_budget is an i64
// requested sub-call budget; out_ptr receives either the successful child's
// encoded CallResponse or its revert payload, and the return value is the
// byte length written, or -1 if the child call reverted (spec: "absorbing
// reverts is explicit via the __call return value" — only an
// IntegrityViolation traps the guest; every other failure is reported this
// way so the caller contract can choose to propagate it or not).
func newCallFunction(wstore *wasmer.Store, env *hostEnv, flavor CallFlavor) *wasmer.Function {
	i32 := wasmer.ValueKind(wasmer.I32)
	i64 := wasmer.ValueKind(wasmer.I64)
	return hostFunc(wstore, []wasmer.ValueKind{i32, i32, i32, i64, i32}, []wasmer.ValueKind{i32}, func(args []wasmer.Value) ([]wasmer.Value, error) {
		cellpackBuf, err := readLengthPrefixed(env.mem, args[0].I32())
		if err != nil {
			return nil, err
		}
		cellpack, err := DecodeCellpack(cellpackBuf)
		if err != nil {
			return nil, NewEngineError(KindWasmValidation, "malformed cellpack passed to call", err)
		}

		parcelBuf, err := readLengthPrefixed(env.mem, args[1].I32())
		if err != nil {
			return nil, err
		}
		parcel, _, err := DecodeParcel(parcelBuf)
		if err != nil {
			return nil, NewEngineError(KindWasmValidation, "malformed transfer parcel passed to call", err)
		}

		storageBuf, err := readLengthPrefixed(env.mem, args[2].I32())
		if err != nil {
			return nil, err
		}
		storageMap, _, err := decodeStorageMap(storageBuf, 0)
		if err != nil {
			return nil, NewEngineError(KindWasmValidation, "malformed storage map passed to call", err)
		}

		budget := uint64(args[3].I64())
		outPtr := args[4].I32()

		resp, dispatchErr := Dispatch(env.ctx, env.loader, DispatchRequest{
			Flavor:        flavor,
			Cellpack:      cellpack,
			Incoming:      parcel,
			CallerStorage: storageMap,
			FuelBudget:    budget,
		})

		if dispatchErr != nil {
			if eerr, ok := dispatchErr.(*EngineError); ok && eerr.Fatal() {
				return nil, dispatchErr
			}
			data := []byte{}
			if resp != nil {
				data = resp.Data
			}
			env.state.lastReturnData = data
			if werr := writeRaw(env.mem, outPtr, data); werr != nil {
				return nil, werr
			}
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}

		out := resp.Encode()
		env.state.lastReturnData = resp.Data
		if werr := writeRaw(env.mem, outPtr, out); werr != nil {
			return nil, werr
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(out)))}, nil
	})
}

// invoke instantiates and runs a single Context's target module to
// completion, returning its decoded CallResponse on success (spec §4.5
// "instantiate ... invoke __execute", §4.7 step 7).
func invoke(loader *ModuleLoader, ctx *Context) (*CallResponse, error) {
	mod, wstore, err := loader.Load(ctx.Msg.Store, ctx.Myself)
	if err != nil {
		return nil, err
	}

	state := &EngineState{Ctx: ctx}
	env := &hostEnv{ctx: ctx, state: state, loader: loader}
	imports := registerHostABI(wstore, env)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, NewEngineError(KindWasmValidation, "instantiation failed", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, NewEngineError(KindWasmValidation, "instance exports no memory", err)
	}
	env.mem = mem

	execute, err := instance.Exports.GetFunction(requiredExport)
	if err != nil {
		return nil, NewEngineError(KindWasmValidation, fmt.Sprintf("instance exports no %s", requiredExport), err)
	}

	result, callErr := execute()
	if callErr != nil {
		return nil, NewEngineError(KindWasmValidation, "guest trapped", callErr)
	}
	if state.HadFailure {
		return &CallResponse{Data: EncodeRevert(state.FailureMsg)}, NewEngineError(KindWasmValidation, state.FailureMsg, nil)
	}

	ptr, ok := result.(int32)
	if !ok {
		vals, ok2 := result.([]wasmer.Value)
		if !ok2 || len(vals) == 0 {
			return nil, NewEngineError(KindWasmValidation, fmt.Sprintf("%s returned no pointer", requiredExport), nil)
		}
		ptr = vals[0].I32()
	}

	raw, err := readLengthPrefixed(mem, ptr)
	if err != nil {
		return nil, err
	}

	if IsRevertPayload(raw) {
		return &CallResponse{Data: raw}, NewEngineError(KindWasmValidation, DecodeRevertMessage(raw), nil)
	}

	resp, err := DecodeCallResponse(raw)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
