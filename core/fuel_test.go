package core

import "testing"

func TestFuelTankSentinelOnZeroVsize(t *testing.T) {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(1_000_000, 0)
	if !tank.Sentinel() {
		t.Fatal("a zero-vsize block must put the tank in sentinel state")
	}
	if got := tank.TxFuel(100); got != 0 {
		t.Fatalf("sentinel tank must allocate zero fuel, got %d", got)
	}
}

func TestFuelTankProportionalAllocation(t *testing.T) {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(1000, 100)
	if got := tank.TxFuel(25); got != 250 {
		t.Fatalf("expected 250, got %d", got)
	}
	if got := tank.TxFuel(100); got != 1000 {
		t.Fatalf("expected the whole budget for a full-size tx, got %d", got)
	}
}

func TestCallFuelCappedByMaxFuelPerFrame(t *testing.T) {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(MaxFuelPerFrame*10, 1)
	top := NewCallFuel(tank, MaxFuelPerFrame*10)
	if top.Remaining() != MaxFuelPerFrame {
		t.Fatalf("expected top-level fuel capped at %d, got %d", MaxFuelPerFrame, top.Remaining())
	}
}

func TestCallFuelChildCappedByParentRemaining(t *testing.T) {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(1000, 1)
	parent := NewCallFuel(tank, 100)
	child := parent.Child(1000)
	if child.Remaining() != 100 {
		t.Fatalf("expected child capped at parent's remaining 100, got %d", child.Remaining())
	}
}

func TestCallFuelChargeExhaustion(t *testing.T) {
	tank := NewFuelTank(DefaultFuelSchedule)
	tank.Initialize(1000, 1)
	f := NewCallFuel(tank, 10)
	if err := f.Charge(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Remaining() != 5 || f.Used() != 5 {
		t.Fatalf("unexpected state after charge: remaining=%d used=%d", f.Remaining(), f.Used())
	}
	err := f.Charge(6)
	if err == nil {
		t.Fatal("expected out-of-fuel error")
	}
	if ee, ok := err.(*EngineError); !ok || ee.Kind != KindFuel {
		t.Fatalf("expected a KindFuel EngineError, got %v", err)
	}
}

func TestExtcallDeployCostCutoff(t *testing.T) {
	s := DefaultFuelSchedule
	below := s.ExtcallDeployCost(s.DeployHeightCutoff - 1)
	at := s.ExtcallDeployCost(s.DeployHeightCutoff)
	if below != s.ExtcallDeployBase {
		t.Fatalf("expected base cost below cutoff, got %d", below)
	}
	if at != s.ExtcallDeployBase+s.DeployPostHeight {
		t.Fatalf("expected base+post-height cost at cutoff, got %d", at)
	}
}
