package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// BlockFuelBudget is the total fuel available to one block's contract calls,
// divided among its transactions by FuelTank.TxFuel (spec §4.3, §8 scenario
// 5). The spec leaves the absolute figure unfixed ("the exact fuel constants
// differ between source crates; fix a single schedule and document
// deviations", §9) — this is the fixed choice.
const BlockFuelBudget = 5_000_000_000

// ProtostoneMessage is one already-decoded Protostone payload targeting the
// alkanes protocol tag within a transaction. Runestone/Protostone decoding
// itself is an explicit non-goal (spec §1: "assumed as inputs; only the
// subset the core consumes is specified") — the collaborator decoder hands
// these over already split out.
type ProtostoneMessage struct {
	Runes         AlkaneTransferParcel
	Calldata      []byte
	Pointer       uint32
	RefundPointer uint32
	Vout          uint32
	Witness       *DeployWitness
}

// DecodedTransaction is one transaction's alkanes-relevant content: its raw
// bytes (for __load_transaction), a stable outpoint key for trace
// persistence, its serialized vsize for fuel allocation, and the Protostones
// that target this protocol.
type DecodedTransaction struct {
	Bytes       []byte
	Outpoint    string
	Vsize       uint64
	Protostones []ProtostoneMessage
}

// DecodedBlock is the already-parsed Bitcoin block the indexer consumes.
// Parsing the raw consensus bytes (including any AuxPoW header) is the host
// Bitcoin block parser's job, an explicit external collaborator (spec §1,
// §6).
type DecodedBlock struct {
	Height            uint64
	HeaderBytes       []byte
	CoinbaseTxBytes   []byte
	CoinbaseOutputSum Uint128
	TotalVsize        uint64
	Transactions      []DecodedTransaction
}

// Indexer is the per-block driver (C9): it owns the store, the module
// loader and the process-wide-for-one-block fuel tank, and walks each
// block's transactions in order, dispatching every Protostone into C8.
type Indexer struct {
	Store   *AtomicPointer
	Loader  *ModuleLoader
	Network NetworkParams

	// UnwrapPaymentHook runs once per block, after every transaction has
	// been dispatched (spec §4.9 step 5: "run the unwrap-payment update, see
	// §6 on external view"). The unwrap-to-BTC settlement path sits outside
	// this core's scope; callers wire it in when they have one.
	UnwrapPaymentHook func(store *AtomicPointer, block DecodedBlock) error

	dieselMintCount uint64
}

func NewIndexer(store *AtomicPointer, loader *ModuleLoader, network NetworkParams) *Indexer {
	return &Indexer{Store: store, Loader: loader, Network: network}
}

// traceKey / byHeightKey are the §4.9 persisted trace key prefixes.
func traceKey(outpoint string) []byte { return []byte("/traces/" + outpoint) }
func byHeightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("/traces/byheight/%d", height))
}

// TraceKey and ByHeightKey expose the trace persistence key layout for the
// read-only query surface's trace/traceblock views (spec §6).
func TraceKey(outpoint string) []byte  { return traceKey(outpoint) }
func ByHeightKey(height uint64) []byte { return byHeightKey(height) }

// appendOutpointList appends outpoint to the height's outpoint list, a simple
// newline-joined list since outpoints never contain newlines.
func appendOutpointList(store *AtomicPointer, height uint64, outpoint string) {
	key := byHeightKey(height)
	existing, _ := store.Get(key)
	if len(existing) > 0 {
		existing = append(existing, '\n')
	}
	existing = append(existing, []byte(outpoint)...)
	store.Set(key, existing)
}

// countDieselMintIntents inspects a transaction's Protostones for calldata
// whose target is the fixed diesel identity (spec §4.7 precompile tx==2:
// "count of diesel-mint intents in the block, cached per block"). A mint
// intent is any Protostone cellpack addressing DieselID directly.
func countDieselMintIntents(tx DecodedTransaction) uint64 {
	var n uint64
	for _, p := range tx.Protostones {
		cellpack, err := DecodeCellpack(p.Calldata)
		if err != nil {
			continue
		}
		if cellpack.Target.Equal(DieselID) {
			n++
		}
	}
	return n
}

// ProcessBlock runs the §4.9 per-block algorithm to completion, or aborts
// and discards the top-level checkpoint on an IntegrityViolation (§7: "only
// IntegrityViolation aborts indexing").
func (ix *Indexer) ProcessBlock(block DecodedBlock) error {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(BlockFuelBudget, block.TotalVsize)

	ix.dieselMintCount = 0
	for _, tx := range block.Transactions {
		ix.dieselMintCount += countDieselMintIntents(tx)
	}

	sentinel := tank.Sentinel()
	if sentinel {
		logrus.WithField("height", block.Height).Warn("block has zero total vsize; skipping contract dispatch")
	}

	if _, err := EnterFrame(ix.Store); err != nil {
		return err
	}

	if block.Height == ix.Network.GenesisHeight {
		if err := RunGenesis(ix.Store, ix.Network); err != nil {
			ix.Store.Rollback()
			return err
		}
	}

	if !sentinel {
		for txindex, tx := range block.Transactions {
			runtimeBalances := NewBalanceSheet()
			blockInfo := BlockInfo{
				HeaderBytes:       block.HeaderBytes,
				CoinbaseTxBytes:   block.CoinbaseTxBytes,
				CoinbaseOutputSum: block.CoinbaseOutputSum,
				DieselMintIntents: ix.dieselMintCount,
			}
			fuelBudget := tank.TxFuel(tx.Vsize)

			for _, p := range tx.Protostones {
				trace := NewTrace()
				parcel := &MessageContextParcel{
					Store:           ix.Store,
					Tank:            tank,
					Trace:           trace,
					Runes:           p.Runes,
					Transaction:     tx.Bytes,
					Block:           blockInfo,
					Height:          block.Height,
					Pointer:         p.Pointer,
					RefundPointer:   p.RefundPointer,
					Calldata:        p.Calldata,
					Vout:            p.Vout,
					Txindex:         uint32(txindex),
					RuntimeBalances: runtimeBalances,
					Network:         ix.Network,
					Witness:         p.Witness,
					FuelBudget:      fuelBudget,
				}

				// Errors from HandleMessage other than IntegrityViolation are
				// per-message, already recorded as a RevertContext in the
				// trace; the block keeps indexing (spec §7 propagation
				// policy).
				_, err := HandleMessage(ix.Loader, parcel)
				if eerr, ok := err.(*EngineError); ok && eerr.Fatal() {
					ix.Store.Rollback()
					return eerr
				}

				ix.Store.Set(traceKey(tx.Outpoint), trace.Encode())
				appendOutpointList(ix.Store, block.Height, tx.Outpoint)
			}
		}
	}

	if ix.UnwrapPaymentHook != nil {
		if err := ix.UnwrapPaymentHook(ix.Store, block); err != nil {
			ix.Store.Rollback()
			return err
		}
	}

	if err := ix.Store.Commit(); err != nil {
		return NewEngineError(KindIntegrityViolation, "block commit failed", err)
	}
	return nil
}

// DieselMintCount returns the memoized count computed at the start of the
// most recently processed block (spec §4.7 precompile tx==2).
func (ix *Indexer) DieselMintCount() uint64 { return ix.dieselMintCount }

// SequenceSnapshot reads the current /sequence value, used by the `sequence`
// view (spec §6).
func SequenceSnapshot(store *AtomicPointer) []byte {
	if raw, ok := store.Get(sequenceKey()); ok {
		return raw
	}
	zero := ZeroU128.Bytes16LE()
	return zero[:]
}
