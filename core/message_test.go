package core

import "testing"

func precompileCalldata(opcode uint64) []byte {
	var buf []byte
	buf = append(buf, encodeVarintForTest(U128FromU64(BlockPrecompile))...)
	buf = append(buf, encodeVarintForTest(U128FromU64(opcode))...)
	return buf
}

func newTestParcel(store *AtomicPointer, calldata []byte) *MessageContextParcel {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(1_000_000, 100)
	return &MessageContextParcel{
		Store:         store,
		Tank:          tank,
		Calldata:      calldata,
		Pointer:       1,
		RefundPointer: 2,
		FuelBudget:    10_000,
		Block: BlockInfo{
			HeaderBytes:       []byte("header"),
			CoinbaseTxBytes:   []byte("coinbase"),
			CoinbaseOutputSum: U128FromU64(500),
			DieselMintIntents: 3,
		},
	}
}

func TestHandleMessagePrecompileCoinbaseSum(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	p := newTestParcel(store, precompileCalldata(3))
	resp, err := HandleMessage(NewModuleLoader(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := U128FromLE16(resp.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(U128FromU64(500)) != 0 {
		t.Fatalf("expected coinbase output sum 500, got %s", got)
	}
}

func TestHandleMessagePrecompileDieselMintCount(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	p := newTestParcel(store, precompileCalldata(2))
	resp, err := HandleMessage(NewModuleLoader(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := U128FromLE16(resp.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(U128FromU64(3)) != 0 {
		t.Fatalf("expected diesel mint count 3, got %s", got)
	}
}

func TestHandleMessageMalformedCalldataFails(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	p := newTestParcel(store, []byte{0x80}) // truncated varint
	if _, err := HandleMessage(NewModuleLoader(), p); err == nil {
		t.Fatal("expected an error for malformed calldata")
	}
}

func TestHandleMessageSentinelTankRejectsDispatch(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	p := newTestParcel(store, precompileCalldata(0))
	p.Tank = NewFuelTank(DefaultFuelSchedule)
	p.Tank.Initialize(1_000_000, 0) // zero vsize -> sentinel

	_, err := HandleMessage(NewModuleLoader(), p)
	if err == nil {
		t.Fatal("expected sentinel tank to reject dispatch")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != KindResourceExhausted {
		t.Fatalf("expected a KindResourceExhausted EngineError, got %v", err)
	}
}

func TestHandleMessageUnknownPrecompileLeavesNoTrace(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	before := store.Root()
	_ = before

	p := newTestParcel(store, precompileCalldata(99))
	if _, err := HandleMessage(NewModuleLoader(), p); err == nil {
		t.Fatal("expected an error for an unknown precompile opcode")
	}

	// The refund credit is the only observable side effect of a reverted
	// call; no balance should land anywhere else.
	refundSheet, err := LoadBalanceSheet(store, voutHolder(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refundSheet.Assets()) != 0 {
		t.Fatal("an empty incoming parcel must not produce a nonzero refund balance")
	}
}
