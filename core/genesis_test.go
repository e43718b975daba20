package core

import "testing"

func TestRunGenesisInstallsDieselPremine(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	if err := RunGenesis(store, Regtest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sheet, err := LoadBalanceSheet(store, GenesisOutpoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.Balance(DieselID).Cmp(Regtest.DieselPremine) != 0 {
		t.Fatalf("expected diesel premine %s, got %s", Regtest.DieselPremine, sheet.Balance(DieselID))
	}

	if _, ok := store.Get(bytecodeKey(DieselID)); !ok {
		t.Fatal("expected diesel identity reserved")
	}
	if _, ok := store.Get(bytecodeKey(FrbtcID)); !ok {
		t.Fatal("expected frBTC identity reserved")
	}
}

func TestRunGenesisIsIdempotent(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	if err := RunGenesis(store, Regtest); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}
	before, err := LoadBalanceSheet(store, GenesisOutpoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RunGenesis(store, Regtest); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	after, err := LoadBalanceSheet(store, GenesisOutpoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before.Balance(DieselID).Cmp(after.Balance(DieselID)) != 0 {
		t.Fatalf("re-running genesis must not double-mint: before=%s after=%s", before.Balance(DieselID), after.Balance(DieselID))
	}
}

func TestDieselAndFrbtcFixedIdentitiesDistinct(t *testing.T) {
	if DieselID.Equal(FrbtcID) {
		t.Fatal("diesel and frBTC must be distinct identities")
	}
	if DieselID.Tx.Lo != 0 {
		t.Fatalf("diesel must sit at tx=0, got %s", DieselID.Tx)
	}
}

func TestMainnetHasNoPremine(t *testing.T) {
	if !Mainnet.DieselPremine.IsZero() {
		t.Fatalf("expected mainnet premine zero, got %s", Mainnet.DieselPremine)
	}
}
