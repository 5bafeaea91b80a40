package credit

import (
	"math/big"
	"testing"
)

func TestRateModelAccrue(t *testing.T) {
	model := NewRateModel()
	id := qid(1)
	model.SetRate(id, 1_000, 0, 0) // 10% APR on drawn principal

	principal := big.NewInt(1_000_000)
	deposit := big.NewInt(1_000_000)

	// A full year at 10% on a fully drawn deposit.
	owed := model.Accrue(id, principal, deposit, secondsPerYear)
	if owed.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("owed = %s, want 100000", owed)
	}

	// The clock advanced; accruing at the same instant owes nothing more.
	owed = model.Accrue(id, principal, deposit, secondsPerYear)
	if owed.Sign() != 0 {
		t.Fatalf("repeated accrual owed %s, want 0", owed)
	}
}

func TestRateModelFacilityRate(t *testing.T) {
	model := NewRateModel()
	id := qid(1)
	model.SetRate(id, 1_000, 100, 0) // 10% drawn, 1% facility

	// Half drawn: drawn rate on 500k, facility rate on the idle 500k.
	owed := model.Accrue(id, big.NewInt(500_000), big.NewInt(1_000_000), secondsPerYear)
	want := big.NewInt(50_000 + 5_000)
	if owed.Cmp(want) != 0 {
		t.Fatalf("owed = %s, want %s", owed, want)
	}
}

func TestRateModelUnknownPosition(t *testing.T) {
	model := NewRateModel()
	owed := model.Accrue(qid(7), big.NewInt(100), big.NewInt(100), secondsPerYear)
	if owed.Sign() != 0 {
		t.Fatalf("unknown position owed %s, want 0", owed)
	}
}

func TestRateModelClockNeverRewinds(t *testing.T) {
	model := NewRateModel()
	id := qid(1)
	model.SetRate(id, 1_000, 0, 100)

	owed := model.Accrue(id, big.NewInt(100), big.NewInt(100), 50)
	if owed.Sign() != 0 {
		t.Fatalf("accrual before the clock start owed %s, want 0", owed)
	}
}

func TestRateModelForget(t *testing.T) {
	model := NewRateModel()
	id := qid(1)
	model.SetRate(id, 1_000, 0, 0)
	model.Forget(id)

	if _, _, ok := model.Rate(id); ok {
		t.Fatalf("rate must be dropped after Forget")
	}
	owed := model.Accrue(id, big.NewInt(100), big.NewInt(100), secondsPerYear)
	if owed.Sign() != 0 {
		t.Fatalf("forgotten position owed %s, want 0", owed)
	}
}

func TestChargeOverPrecision(t *testing.T) {
	// 100 units at 5% over one day truncates toward zero.
	got := chargeOver(big.NewInt(100), 500, 86_400)
	if got.Sign() != 0 {
		t.Fatalf("charge = %s, want 0 for sub-unit interest", got)
	}
	got = chargeOver(big.NewInt(1_000_000), 500, 86_400)
	if got.Cmp(big.NewInt(136)) != 0 {
		t.Fatalf("charge = %s, want 136", got)
	}
}
