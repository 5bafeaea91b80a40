package credit

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LineStatus represents the lifecycle states of a credit line.
type LineStatus uint8

const (
	StatusActive LineStatus = iota
	StatusLiquidatable
	StatusRepaid
	StatusInsolvent
)

// Valid reports whether the status value is within the supported range.
func (s LineStatus) Valid() bool {
	switch s {
	case StatusActive, StatusLiquidatable, StatusRepaid, StatusInsolvent:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s LineStatus) Terminal() bool {
	return s == StatusRepaid || s == StatusInsolvent
}

func (s LineStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusLiquidatable:
		return "LIQUIDATABLE"
	case StatusRepaid:
		return "REPAID"
	case StatusInsolvent:
		return "INSOLVENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Position captures a single lender's outstanding credit commitment to the
// borrower in one token. Amounts are denominated in the token's smallest unit.
type Position struct {
	ID       [32]byte
	Lender   [20]byte
	Token    string
	Decimals uint8
	// Deposit is the total capital the lender has made available, drawn and
	// undrawn combined.
	Deposit *big.Int
	// Principal is the currently drawn, interest-bearing amount.
	Principal *big.Int
	// InterestAccrued is interest owed but not yet repaid.
	InterestAccrued *big.Int
	// InterestRepaid is interest paid but not yet withdrawn by the lender.
	InterestRepaid *big.Int
}

// Clone returns a deep copy of the position so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Deposit = cloneBigInt(p.Deposit)
	clone.Principal = cloneBigInt(p.Principal)
	clone.InterestAccrued = cloneBigInt(p.InterestAccrued)
	clone.InterestRepaid = cloneBigInt(p.InterestRepaid)
	return &clone
}

// Outstanding returns principal plus accrued interest, the amount a full
// repayment must cover.
func (p *Position) Outstanding() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(cloneBigInt(p.Principal), cloneBigInt(p.InterestAccrued))
}

// Withdrawable returns the combined balance a lender may remove: undrawn
// deposit plus repaid interest.
func (p *Position) Withdrawable() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	available := new(big.Int).Sub(cloneBigInt(p.Deposit), cloneBigInt(p.Principal))
	return available.Add(available, cloneBigInt(p.InterestRepaid))
}

// Line is the aggregate owning all credit positions, the repayment queue and
// the lifecycle status. The queue front carries the highest repayment
// priority.
type Line struct {
	// Address identifies the line and owns the custody account that holds
	// lender deposits and claimed revenue.
	Address  [20]byte
	Borrower [20]byte
	Arbiter  [20]byte
	// Deadline is the unix timestamp after which open positions make the
	// line eligible for liquidation.
	Deadline int64
	Status   LineStatus
	Queue    [][32]byte
}

// Clone returns a deep copy of the line aggregate.
func (l *Line) Clone() *Line {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Queue = append([][32]byte(nil), l.Queue...)
	return &clone
}

// PositionID derives the composite identifier for the {line, lender, token}
// triple. The keccak hash keeps duplicate positions for the same triple from
// ever entering the ledger; collision across distinct triples is assumed
// impossible.
func PositionID(line, lender [20]byte, token string) [32]byte {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	return ethcrypto.Keccak256Hash(line[:], lender[:], []byte(normalized))
}

// NormalizeToken canonicalises a token symbol, rejecting empty values.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("credit: empty token symbol")
	}
	return trimmed, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
