package spigot

import (
	"fmt"
	"math/big"

	"creditline/native/credit"
)

// Setting describes one pledged revenue stream: the contract it originates
// from, the token it pays in, and the percentage of each payment escrowed for
// the line owner.
type Setting struct {
	Contract [20]byte
	Token    string
	// OwnerSplit is the percentage (0-100) of incoming revenue escrowed for
	// debt service; the remainder flows straight to the operator.
	OwnerSplit uint8
}

// Clone returns a copy of the setting.
func (s *Setting) Clone() *Setting {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// Sanitize validates a setting, normalising the token symbol.
func (s *Setting) Sanitize() (*Setting, error) {
	if s == nil {
		return nil, fmt.Errorf("spigot: nil setting")
	}
	clone := s.Clone()
	token, err := credit.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.OwnerSplit > maxSplit {
		return nil, ErrBadSplit
	}
	return clone, nil
}

const maxSplit = 100

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
