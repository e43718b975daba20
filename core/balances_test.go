package core

import "testing"

func TestBalanceSheetCreditDebit(t *testing.T) {
	s := NewBalanceSheet()
	asset := NewAlkaneId(2, 1)
	if err := s.Credit(asset, U128FromU64(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Debit(asset, U128FromU64(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Balance(asset).Cmp(U128FromU64(60)) != 0 {
		t.Fatalf("expected 60, got %s", s.Balance(asset))
	}
}

func TestBalanceSheetDebitInsufficient(t *testing.T) {
	s := NewBalanceSheet()
	asset := NewAlkaneId(99, 1)
	if err := s.Debit(asset, U128FromU64(1)); err == nil {
		t.Fatal("expected insufficient balance error")
	}
}

func TestBalanceSheetMintableDebitNonMintableFails(t *testing.T) {
	s := NewBalanceSheet()
	asset := NewAlkaneId(99, 1) // not in {2,4,32}
	if err := s.MintableDebit(asset, U128FromU64(1)); err == nil {
		t.Fatal("expected non-mintable asset to reject a deficit debit")
	}
}

func TestBalanceSheetMintableDebitThenReconcile(t *testing.T) {
	s := NewBalanceSheet()
	asset := NewAlkaneId(2, 0) // diesel's block, mintable
	if err := s.MintableDebit(asset, U128FromU64(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Reconcile(); err == nil {
		t.Fatal("expected Reconcile to fail while a mintable debit is still owed")
	}
	if err := s.Credit(asset, U128FromU64(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Reconcile(); err != nil {
		t.Fatalf("expected Reconcile to succeed once the debit is offset: %v", err)
	}
}

func TestBalanceSheetPersistRequiresReconcile(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	s := NewBalanceSheet()
	asset := NewAlkaneId(2, 0)
	if err := s.MintableDebit(asset, U128FromU64(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner := NewAlkaneId(4, 1)
	if err := s.Persist(store, owner); err == nil {
		t.Fatal("expected Persist to fail with an unreconciled mintable debit")
	}
}

func TestBalanceSheetPersistAndLoadRoundTrip(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	s := NewBalanceSheet()
	owner := NewAlkaneId(4, 1)
	a1 := NewAlkaneId(2, 0)
	a2 := NewAlkaneId(4, 2)
	if err := s.Credit(a1, U128FromU64(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Credit(a2, U128FromU64(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Persist(store, owner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := LoadBalanceSheet(store, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Balance(a1).Cmp(U128FromU64(10)) != 0 {
		t.Fatalf("expected a1=10, got %s", loaded.Balance(a1))
	}
	if loaded.Balance(a2).Cmp(U128FromU64(20)) != 0 {
		t.Fatalf("expected a2=20, got %s", loaded.Balance(a2))
	}
}

func TestLoadBalanceSheetAbsentOwner(t *testing.T) {
	store := NewAtomicPointer(NewMemoryBackend())
	store.Checkpoint()
	sheet, err := LoadBalanceSheet(store, NewAlkaneId(2, 99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sheet.Assets()) != 0 {
		t.Fatalf("expected an empty sheet, got %v", sheet.Assets())
	}
}

func TestPipeMergesAndClearsSource(t *testing.T) {
	src := NewBalanceSheet()
	dst := NewBalanceSheet()
	asset := NewAlkaneId(2, 5)
	if err := src.Credit(asset, U128FromU64(30)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dst.Credit(asset, U128FromU64(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Pipe(dst, src)
	if dst.Balance(asset).Cmp(U128FromU64(40)) != 0 {
		t.Fatalf("expected merged balance 40, got %s", dst.Balance(asset))
	}
	if !src.Balance(asset).IsZero() {
		t.Fatalf("expected source cleared, got %s", src.Balance(asset))
	}
}
