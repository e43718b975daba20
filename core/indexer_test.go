package core

import "testing"

func TestProcessBlockZeroVsizeSkipsDispatch(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	loader := NewModuleLoader()
	ix := NewIndexer(store, loader, Regtest)

	block := DecodedBlock{
		Height:     0,
		TotalVsize: 0,
		Transactions: []DecodedTransaction{
			{Outpoint: "dead:0", Vsize: 0, Protostones: []ProtostoneMessage{{Calldata: []byte{0x02, 0x00}}}},
		},
	}
	if err := ix.ProcessBlock(block); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A sentinel block must run genesis (height == GenesisHeight) but never
	// dispatch a message, so no trace is recorded for the transaction.
	if _, ok := store.Get(traceKey("dead:0")); ok {
		t.Fatal("a sentinel block must not dispatch any message or record a trace")
	}
	sheet, err := LoadBalanceSheet(store, GenesisOutpoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.Balance(DieselID).Cmp(Regtest.DieselPremine) != 0 {
		t.Fatal("expected genesis to still run on a sentinel block at the genesis height")
	}
}

func TestProcessBlockIsIdempotent(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	loader := NewModuleLoader()
	ix := NewIndexer(store, loader, Regtest)

	block := DecodedBlock{Height: 0, TotalVsize: 0}
	if err := ix.ProcessBlock(block); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}
	before := SequenceSnapshot(store)
	if err := ix.ProcessBlock(block); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	after := SequenceSnapshot(store)
	if string(before) != string(after) {
		t.Fatal("re-processing an empty block must not move the sequence counter")
	}
}

func TestCountDieselMintIntents(t *testing.T) {
	dieselCellpack := make([]byte, 0)
	dieselCellpack = append(dieselCellpack, encodeVarintForTest(DieselID.Block)...)
	dieselCellpack = append(dieselCellpack, encodeVarintForTest(DieselID.Tx)...)

	other := make([]byte, 0)
	other = append(other, encodeVarintForTest(U128FromU64(4))...)
	other = append(other, encodeVarintForTest(U128FromU64(1))...)

	tx := DecodedTransaction{Protostones: []ProtostoneMessage{
		{Calldata: dieselCellpack},
		{Calldata: other},
		{Calldata: dieselCellpack},
	}}
	if got := countDieselMintIntents(tx); got != 2 {
		t.Fatalf("expected 2 diesel-mint intents, got %d", got)
	}
}

func TestUnwrapPaymentHookRunsAfterTransactions(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	loader := NewModuleLoader()
	ix := NewIndexer(store, loader, Regtest)

	called := false
	ix.UnwrapPaymentHook = func(s *AtomicPointer, b DecodedBlock) error {
		called = true
		return nil
	}
	if err := ix.ProcessBlock(DecodedBlock{Height: 0, TotalVsize: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected UnwrapPaymentHook to run")
	}
}
