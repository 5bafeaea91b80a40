package credit

import (
	"math/big"
	"sync"
)

// StaticOracle is a PriceOracle fed by operator configuration. Prices are
// quoted per whole token in the valuation currency's smallest unit.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

// SetAnswer records the price for a token symbol. A nil or non-positive
// price removes the quote.
func (o *StaticOracle) SetAnswer(token string, price *big.Int) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(o.prices, normalized)
		return
	}
	o.prices[normalized] = new(big.Int).Set(price)
}

// LatestAnswer returns the recorded price, or zero when no quote exists.
func (o *StaticOracle) LatestAnswer(token string) *big.Int {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return big.NewInt(0)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[normalized]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(price)
}
