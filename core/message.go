package core

import "fmt"

// MessageContextParcel is the top-level input to one Protostone invocation
// (spec §4.8, C8): everything the block indexer (C9) has already decoded
// out of the surrounding transaction, handed to the core as plain values.
type MessageContextParcel struct {
	Store           *AtomicPointer
	Tank            *FuelTank
	Trace           *Trace
	Runes           AlkaneTransferParcel
	Transaction     []byte
	Block           BlockInfo
	Height          uint64
	Pointer         uint32
	RefundPointer   uint32
	Calldata        []byte
	Vout            uint32
	Txindex         uint32
	RuntimeBalances *BalanceSheet
	Network         NetworkParams
	Witness         *DeployWitness
	FuelBudget      uint64
}

// voutHolder is the synthetic AlkaneId convention this implementation uses
// to let a transaction output hold a balance directly: block 0 is never a
// valid contract address (every real identity's block is >=1 or the
// 800_000_000 precompile sentinel), so (0, vout) is free to repurpose as
// "whatever this output's pointer credits". The spec leaves the exact
// encoding of a vout-addressed balance unspecified (§4.8); this is the
// fixed choice, recorded as an Open Question resolution.
func voutHolder(vout uint32) AlkaneId {
	return AlkaneId{Block: ZeroU128, Tx: U128FromU64(uint64(vout))}
}

// HandleMessage runs the §4.8 top-level semantics: decode calldata, resolve
// and possibly deploy the target, credit its incoming parcel, invoke, and
// route the outcome to pointer or refund_pointer.
func HandleMessage(loader *ModuleLoader, p *MessageContextParcel) (*CallResponse, error) {
	trace := p.Trace
	if trace == nil {
		trace = NewTrace()
	}
	trace.ReceiveIntent(p.Runes)

	cellpack, err := DecodeCellpack(p.Calldata)
	if err != nil {
		derr := NewEngineError(KindWasmValidation, "malformed top-level calldata", err)
		trace.RevertContext(&CallResponse{Data: EncodeRevert(derr.Error())})
		return nil, derr
	}

	msg := &Message{
		Store:           p.Store,
		Trace:           trace,
		Height:          p.Height,
		Network:         p.Network,
		TransactionByte: p.Transaction,
		Txindex:         p.Txindex,
		Block:           p.Block,
	}

	if p.Tank.Sentinel() {
		err := NewEngineError(KindResourceExhausted, "fuel tank is in its sentinel state; no contract calls may be scheduled", nil)
		trace.RevertContext(&CallResponse{Data: EncodeRevert(err.Error())})
		return nil, err
	}

	store := p.Store
	if _, err := EnterFrame(store); err != nil {
		return nil, err
	}

	// fail discards every side effect this attempt made (deployment, entry
	// credit, invocation) by rolling back the frame EnterFrame opened, then
	// applies the refund in its own isolated checkpoint, mirroring the §8
	// invariant that a reverted call leaves /alkanes/* exactly as it found it
	// except for the refund itself.
	fail := func(err error) (*CallResponse, error) {
		if rerr := store.Rollback(); rerr != nil {
			return nil, NewEngineError(KindIntegrityViolation, "rollback failed after reverted message", rerr)
		}
		store.Checkpoint()
		refund := voutHolder(p.RefundPointer)
		sheet, lerr := LoadBalanceSheet(store, refund)
		if lerr == nil {
			for _, t := range p.Runes {
				_ = sheet.Credit(t.ID, t.Value)
			}
			_ = sheet.Persist(store, refund)
		}
		trace.RevertContext(&CallResponse{Data: EncodeRevert(err.Error())})
		store.Commit()
		return nil, err
	}

	resolved, deployed, err := resolveTarget(store, cellpack.Target, cellpack.Inputs, p.Witness)
	if err != nil {
		return fail(err)
	}

	topFuel := NewCallFuel(p.Tank, p.FuelBudget)
	if deployed {
		if err := topFuel.ChargeDeploy(p.Height); err != nil {
			return fail(err)
		}
	}

	if resolved.IsPrecompile() {
		trace.EnterCall(&Context{
			Myself:          resolved,
			IncomingAlkanes: p.Runes.Clone(),
			Inputs:          cellpack.Inputs,
			Vout:            p.Vout,
			Msg:             msg,
		})
		resp, perr := invokePrecompile(msg, resolved.Tx)
		if perr != nil {
			return fail(perr)
		}
		trace.ReturnContext(resp)
		store.Commit()
		return resp, nil
	}

	sheet, err := LoadBalanceSheet(store, resolved)
	if err != nil {
		return fail(err)
	}
	for _, t := range p.Runes {
		if err := sheet.Credit(t.ID, t.Value); err != nil {
			return fail(err)
		}
	}
	if err := sheet.Persist(store, resolved); err != nil {
		return fail(err)
	}

	childCtx := &Context{
		Myself:          resolved,
		Caller:          AlkaneId{},
		IncomingAlkanes: p.Runes.Clone(),
		Inputs:          cellpack.Inputs,
		Vout:            p.Vout,
		Msg:             msg,
		Fuel:            topFuel,
	}
	trace.EnterCall(childCtx)

	resp, execErr := invoke(loader, childCtx)
	if execErr != nil {
		return fail(execErr)
	}

	outSheet, err := LoadBalanceSheet(store, resolved)
	if err != nil {
		return fail(err)
	}
	for _, t := range resp.Alkanes {
		if err := outSheet.MintableDebit(t.ID, t.Value); err != nil {
			return fail(err)
		}
	}
	if err := outSheet.Persist(store, resolved); err != nil {
		return fail(err)
	}
	for k, v := range resp.Storage {
		store.Set(storageSlotKey(resolved, []byte(k)), v)
	}

	if len(resp.Alkanes) > 0 {
		holder := voutHolder(p.Pointer)
		holderSheet, err := LoadBalanceSheet(store, holder)
		if err != nil {
			return fail(err)
		}
		for _, t := range resp.Alkanes {
			if err := holderSheet.Credit(t.ID, t.Value); err != nil {
				return fail(err)
			}
		}
		if err := holderSheet.Persist(store, holder); err != nil {
			return fail(err)
		}
		if p.RuntimeBalances != nil {
			for _, t := range resp.Alkanes {
				if err := p.RuntimeBalances.Credit(t.ID, t.Value); err != nil {
					return fail(NewEngineError(KindIntegrityViolation, fmt.Sprintf("runtime balance merge overflow for asset %s", t.ID), err))
				}
			}
		}
		trace.ReturnContext(resp)
		trace.ValueTransfer(resp.Alkanes, p.Pointer)
	} else {
		trace.ReturnContext(resp)
	}

	if err := store.Commit(); err != nil {
		return nil, NewEngineError(KindIntegrityViolation, "top-level commit failed", err)
	}
	return resp, nil
}
