package core

import (
	"fmt"
	"log"
	"math/big"
	"sync"
)

// FuelSchedule is the canonical per-operation fuel pricing table (spec
// §4.3). The exact constants are an explicit Open Question in the source
// material (design note 9c: "the exact fuel constants differ between source
// crates; fix a single schedule and document deviations") — this schedule is
// the one fixed choice, grounded in the teacher's own gas_table.go idiom of a
// single canonical table. The table has no default entry: every charge names
// one of the fields below.
type FuelSchedule struct {
	PerRequestByte     uint64
	PerLoadByte        uint64
	Sequence           uint64
	Fuel               uint64
	Height             uint64
	Balance            uint64
	LoadTransaction    uint64
	LoadBlock          uint64
	ExtcallDeployBase  uint64
	DeployPostHeight   uint64 // extra cost once DeployHeightCutoff is reached
	DeployHeightCutoff uint64
}

// DefaultFuelSchedule mirrors the relative weights the teacher's gas_table.go
// assigns opcodes: storage/memory-moving operations are priced per byte,
// fixed-shape host queries are priced flat, and deployment is the single
// most expensive operation once the network matures past the cutoff height.
var DefaultFuelSchedule = FuelSchedule{
	PerRequestByte:     1,
	PerLoadByte:        2,
	Sequence:           50,
	Fuel:               50,
	Height:             50,
	Balance:            100,
	LoadTransaction:    1_000,
	LoadBlock:          5_000,
	ExtcallDeployBase:  500_000,
	DeployPostHeight:   500_000,
	DeployHeightCutoff: 880_000,
}

// ExtcallDeployCost returns F_EXTCALL_DEPLOY(height) (spec §4.3).
func (s FuelSchedule) ExtcallDeployCost(height uint64) uint64 {
	if height >= s.DeployHeightCutoff {
		return s.ExtcallDeployBase + s.DeployPostHeight
	}
	return s.ExtcallDeployBase
}

// MaxFuelPerFrame is the hard per-frame ceiling referenced by spec §4.3
// ("capped by ... a per-frame hard ceiling"), independent of however much
// fuel the parent frame happened to have left.
const MaxFuelPerFrame = 100_000_000

// FuelTank is the per-block budget (C3). It is owned by the block indexer
// for the lifetime of exactly one block, mirroring design note 9's
// "replace [the process-wide tank] with an explicit per-block context".
type FuelTank struct {
	mu        sync.Mutex
	Schedule  FuelSchedule
	blockFuel uint64
	size      uint64
	sentinel  bool
	warned    map[string]bool
}

func NewFuelTank(schedule FuelSchedule) *FuelTank {
	return &FuelTank{Schedule: schedule, warned: make(map[string]bool)}
}

// Initialize sets the block's total fuel budget and the sum of every
// transaction's serialized vsize. A zero size puts the tank in its sentinel
// state: the indexer must refuse to schedule any contract calls (spec §4.3,
// §4.9 step 1).
func (t *FuelTank) Initialize(totalBlockFuel, totalVsize uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockFuel = totalBlockFuel
	t.size = totalVsize
	t.sentinel = totalVsize == 0
}

func (t *FuelTank) Sentinel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentinel
}

// TxFuel computes floor(F_total * tx_vsize / size) using big.Int to avoid
// uint64 overflow on the intermediate product (spec §4.3).
func (t *FuelTank) TxFuel(vsize uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sentinel || t.size == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(int64(t.blockFuel)), big.NewInt(int64(vsize)))
	num.Div(num, big.NewInt(int64(t.size)))
	if !num.IsUint64() {
		return t.blockFuel
	}
	return num.Uint64()
}

func (t *FuelTank) logUnpriced(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.warned[name] {
		return
	}
	t.warned[name] = true
	log.Printf("fuel: host function %q has no explicit schedule entry; charging a flat default", name)
}

// CallFuel is the remaining budget for one call frame (spec §4.3: "the
// initial fuel passed to the interpreter is capped by the parent's
// remaining fuel and a per-frame hard ceiling").
type CallFuel struct {
	schedule  FuelSchedule
	remaining uint64
	used      uint64
	tank      *FuelTank
}

// NewCallFuel creates a top-level call's fuel, capped by MaxFuelPerFrame.
func NewCallFuel(tank *FuelTank, budget uint64) *CallFuel {
	if budget > MaxFuelPerFrame {
		budget = MaxFuelPerFrame
	}
	return &CallFuel{schedule: tank.Schedule, remaining: budget, tank: tank}
}

// Child derives a sub-call's fuel, capped by both this frame's remaining
// fuel and the hard per-frame ceiling (spec §4.7 step 7).
func (f *CallFuel) Child(requested uint64) *CallFuel {
	budget := requested
	if budget > f.remaining {
		budget = f.remaining
	}
	if budget > MaxFuelPerFrame {
		budget = MaxFuelPerFrame
	}
	return &CallFuel{schedule: f.schedule, remaining: budget, tank: f.tank}
}

// Remaining returns the fuel left in this frame.
func (f *CallFuel) Remaining() uint64 { return f.remaining }

// Used returns the fuel consumed so far in this frame.
func (f *CallFuel) Used() uint64 { return f.used }

// Charge is a checked subtraction; fuel is a pure non-negative integer and
// underflow here is an invariant violation the caller must trap on (spec
// §4.3). It returns a KindFuel EngineError on exhaustion.
func (f *CallFuel) Charge(amount uint64) error {
	if amount > f.remaining {
		return NewEngineError(KindFuel, fmt.Sprintf("out of fuel: need %d, have %d", amount, f.remaining), nil)
	}
	f.remaining -= amount
	f.used += amount
	return nil
}

func (f *CallFuel) ChargeRequestBytes(n int) error {
	return f.Charge(uint64(n) * f.schedule.PerRequestByte)
}

func (f *CallFuel) ChargeLoadBytes(n int) error {
	return f.Charge(uint64(n) * f.schedule.PerLoadByte)
}

func (f *CallFuel) ChargeSequence() error        { return f.Charge(f.schedule.Sequence) }
func (f *CallFuel) ChargeFuelQuery() error       { return f.Charge(f.schedule.Fuel) }
func (f *CallFuel) ChargeHeight() error          { return f.Charge(f.schedule.Height) }
func (f *CallFuel) ChargeBalance() error         { return f.Charge(f.schedule.Balance) }
func (f *CallFuel) ChargeLoadTransaction() error { return f.Charge(f.schedule.LoadTransaction) }
func (f *CallFuel) ChargeLoadBlock() error       { return f.Charge(f.schedule.LoadBlock) }
func (f *CallFuel) ChargeDeploy(height uint64) error {
	return f.Charge(f.schedule.ExtcallDeployCost(height))
}
