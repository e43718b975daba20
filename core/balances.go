package core

import (
	"errors"
	"fmt"
)

// mintableBlocks are the AlkaneId.Block values whose owners may run a
// deficit inside a single call via MintableDebit (spec §4.2): diesel (2),
// template-cloned assets (4) and a reserved synthetic-asset block (32).
var mintableBlocks = map[uint64]bool{2: true, 4: true, 32: true}

func isMintableAsset(id AlkaneId) bool {
	return id.Block.Hi == 0 && mintableBlocks[id.Block.Lo]
}

// BalanceSheet is an in-memory mapping from asset id to amount, with
// checked arithmetic (spec §4.2). It is deliberately decoupled from the
// store: callers Load it at frame entry and Persist it at frame exit, which
// is what "serialized into C1 under a /balances sub-prefix and fully
// reconstructed later" means in practice.
type BalanceSheet struct {
	balances map[AlkaneId]Uint128
	owed     map[AlkaneId]Uint128 // unreconciled MintableDebit deficits
}

func NewBalanceSheet() *BalanceSheet {
	return &BalanceSheet{balances: make(map[AlkaneId]Uint128), owed: make(map[AlkaneId]Uint128)}
}

// Balance returns the current amount held for asset, zero if absent.
func (s *BalanceSheet) Balance(asset AlkaneId) Uint128 {
	return s.balances[asset]
}

// Credit performs a checked addition; overflow aborts the call (spec §4.2).
func (s *BalanceSheet) Credit(asset AlkaneId, amount Uint128) error {
	if amount.IsZero() {
		return nil
	}
	next, err := s.balances[asset].Add(amount)
	if err != nil {
		return NewEngineError(KindOverflow, fmt.Sprintf("credit overflow for asset %s", asset), err)
	}
	s.balances[asset] = next
	return nil
}

// Debit fails if amount exceeds the current balance.
func (s *BalanceSheet) Debit(asset AlkaneId, amount Uint128) error {
	if amount.IsZero() {
		return nil
	}
	cur := s.balances[asset]
	if cur.Cmp(amount) < 0 {
		return NewEngineError(KindOverflow, fmt.Sprintf("insufficient balance for asset %s: have %s need %s", asset, cur, amount), nil)
	}
	next, _ := cur.Sub(amount)
	s.balances[asset] = next
	return nil
}

// MintableDebit permits a deficit only for assets the owner is allowed to
// mint (block 2, 4 or 32). The shortfall is tracked as "owed" and must be
// explicitly reconciled via Reconcile before the sheet is persisted — it is
// never written to the store as a negative balance (spec §4.2 invariant:
// "no operation may leave a negative balance stored").
func (s *BalanceSheet) MintableDebit(asset AlkaneId, amount Uint128) error {
	if amount.IsZero() {
		return nil
	}
	cur := s.balances[asset]
	if cur.Cmp(amount) >= 0 {
		next, _ := cur.Sub(amount)
		s.balances[asset] = next
		return nil
	}
	if !isMintableAsset(asset) {
		return NewEngineError(KindOverflow, fmt.Sprintf("insufficient balance for non-mintable asset %s", asset), nil)
	}
	shortfall, _ := amount.Sub(cur)
	s.balances[asset] = Uint128{}
	owed, err := s.owed[asset].Add(shortfall)
	if err != nil {
		return NewEngineError(KindOverflow, "mintable debit shortfall overflow", err)
	}
	s.owed[asset] = owed
	return nil
}

// Reconcile confirms every MintableDebit shortfall has since been offset by
// an equal or greater Credit, and clears the bookkeeping. It must be called
// before a sheet carrying mintable-debit activity is persisted or piped.
func (s *BalanceSheet) Reconcile() error {
	for asset, amount := range s.owed {
		if !amount.IsZero() {
			return NewEngineError(KindIntegrityViolation, fmt.Sprintf("unreconciled mintable debit for asset %s: %s still owed", asset, amount), nil)
		}
	}
	s.owed = make(map[AlkaneId]Uint128)
	return nil
}

// Pipe merges src into dst and clears src (spec §4.2).
func Pipe(dst, src *BalanceSheet) {
	for asset, amount := range src.balances {
		if amount.IsZero() {
			continue
		}
		next, err := dst.balances[asset].Add(amount)
		if err != nil {
			// Conservation (spec §3 invariant 2) is only checkable at the
			// whole-ledger level; a pipe overflow here is an engine bug.
			panic(NewEngineError(KindIntegrityViolation, "pipe overflow", err))
		}
		dst.balances[asset] = next
	}
	src.balances = make(map[AlkaneId]Uint128)
}

// Assets returns the non-zero asset ids held by the sheet, stable order not
// guaranteed; callers needing determinism should sort the result.
func (s *BalanceSheet) Assets() []AlkaneId {
	out := make([]AlkaneId, 0, len(s.balances))
	for id, amt := range s.balances {
		if !amt.IsZero() {
			out = append(out, id)
		}
	}
	return out
}

// inventoryKey / balanceKey are the §3 storage key prefixes for an owner's
// balance sheet persistence.
func inventoryKey(owner AlkaneId) []byte {
	id := owner.Bytes32()
	return keyString("/alkanes/", id[:], []byte("/inventory"))
}

func balanceKey(owner, asset AlkaneId) []byte {
	id := owner.Bytes32()
	a := asset.Bytes32()
	return keyString("/alkanes/", id[:], []byte("/balances/"), a[:])
}

// Persist writes the sheet's non-zero balances under the owner's §3 balance
// key prefix and refreshes its inventory set. Reconcile must succeed first.
func (s *BalanceSheet) Persist(store *AtomicPointer, owner AlkaneId) error {
	if err := s.Reconcile(); err != nil {
		return err
	}
	assets := s.Assets()
	inv := make([]byte, 0, len(assets)*32)
	for _, asset := range assets {
		b := asset.Bytes32()
		inv = append(inv, b[:]...)
		amt := s.balances[asset].Bytes16LE()
		store.Set(balanceKey(owner, asset), amt[:])
	}
	store.Set(inventoryKey(owner), inv)
	return nil
}

// LoadBalanceSheet reconstructs a sheet from the store for owner, per its
// persisted inventory set.
func LoadBalanceSheet(store *AtomicPointer, owner AlkaneId) (*BalanceSheet, error) {
	sheet := NewBalanceSheet()
	inv, ok := store.Get(inventoryKey(owner))
	if !ok || len(inv) == 0 {
		return sheet, nil
	}
	if len(inv)%32 != 0 {
		return nil, errors.New("balance sheet: corrupt inventory length")
	}
	for off := 0; off < len(inv); off += 32 {
		asset, err := AlkaneIdFromBytes32(inv[off : off+32])
		if err != nil {
			return nil, err
		}
		raw, ok := store.Get(balanceKey(owner, asset))
		if !ok {
			continue
		}
		amt, err := U128FromLE16(raw)
		if err != nil {
			return nil, err
		}
		sheet.balances[asset] = amt
	}
	return sheet, nil
}

// EncodeAssetAmount is a small helper used by views that report balances as
// plain little-endian 16-byte buffers (spec §4.6 __balance host function).
func EncodeAssetAmount(amount Uint128) []byte {
	b := amount.Bytes16LE()
	out := make([]byte, 16)
	copy(out, b[:])
	return out
}
