package credit

import (
	"math/big"
	"sync"
)

const (
	bpsDenominator = 10_000
	secondsPerYear = 31_536_000
)

// RateModel is the default InterestModel implementation: a per-position pair
// of drawn and facility rates applied linearly over elapsed time. The drawn
// rate charges the outstanding principal, the facility rate the undrawn
// remainder of the deposit.
type RateModel struct {
	mu    sync.Mutex
	rates map[[32]byte]*positionRate
}

type positionRate struct {
	drawnBps    uint64
	facilityBps uint64
	lastAccrued int64
}

// NewRateModel constructs an empty rate model.
func NewRateModel() *RateModel {
	return &RateModel{rates: make(map[[32]byte]*positionRate)}
}

// SetRate installs the rate pair for a position and resets its accrual clock.
func (m *RateModel) SetRate(id [32]byte, drawnBps, facilityBps uint64, now int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[id] = &positionRate{drawnBps: drawnBps, facilityBps: facilityBps, lastAccrued: now}
}

// Rate returns the configured rate pair for a position.
func (m *RateModel) Rate(id [32]byte) (drawnBps, facilityBps uint64, ok bool) {
	if m == nil {
		return 0, 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[id]
	if !ok {
		return 0, 0, false
	}
	return rate.drawnBps, rate.facilityBps, true
}

// Accrue returns the additional interest owed since the last accrual point and
// advances the position's clock. Unknown positions accrue nothing.
func (m *RateModel) Accrue(id [32]byte, principal, deposit *big.Int, now int64) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[id]
	if !ok {
		return big.NewInt(0)
	}
	elapsed := now - rate.lastAccrued
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	rate.lastAccrued = now

	drawn := cloneBigInt(principal)
	idle := new(big.Int).Sub(cloneBigInt(deposit), drawn)
	if idle.Sign() < 0 {
		idle.SetInt64(0)
	}

	interest := chargeOver(drawn, rate.drawnBps, elapsed)
	return interest.Add(interest, chargeOver(idle, rate.facilityBps, elapsed))
}

// Forget drops the rate entry for a closed position.
func (m *RateModel) Forget(id [32]byte) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, id)
}

// chargeOver computes balance * bps/10000 * elapsed/secondsPerYear with full
// integer precision.
func chargeOver(balance *big.Int, bps uint64, elapsed int64) *big.Int {
	if balance == nil || balance.Sign() <= 0 || bps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	charge := new(big.Int).Mul(balance, new(big.Int).SetUint64(bps))
	charge.Mul(charge, big.NewInt(elapsed))
	return charge.Quo(charge, big.NewInt(bpsDenominator*secondsPerYear))
}
