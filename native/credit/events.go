package credit

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"creditline/core/types"
)

const (
	EventTypePositionCreated   = "credit.position_created"
	EventTypePositionIncreased = "credit.position_increased"
	EventTypeBorrowed          = "credit.borrowed"
	EventTypeRepaidInterest    = "credit.repaid_interest"
	EventTypeRepaidPrincipal   = "credit.repaid_principal"
	EventTypeInterestAccrued   = "credit.interest_accrued"
	EventTypePositionClosed    = "credit.position_closed"
	EventTypeWithdrewDeposit   = "credit.withdrew_deposit"
	EventTypeWithdrewProfit    = "credit.withdrew_profit"
	EventTypeStatusUpdated     = "credit.status_updated"
	EventTypeRatesSet          = "credit.rates_set"
	EventTypeDefault           = "credit.default"
	EventTypeConsentRegistered = "credit.consent_registered"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func idAmountEvent(eventType string, id [32]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":     hex.EncodeToString(id[:]),
			"amount": formatAmount(amount),
		},
	}
}

// NewPositionCreatedEvent returns the canonical payload for a newly created
// credit position.
func NewPositionCreatedEvent(p *Position, drawnBps, facilityBps uint64) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["id"] = hex.EncodeToString(p.ID[:])
		attrs["lender"] = hex.EncodeToString(p.Lender[:])
		attrs["token"] = p.Token
		attrs["decimals"] = strconv.FormatUint(uint64(p.Decimals), 10)
		attrs["deposit"] = formatAmount(p.Deposit)
	}
	attrs["drawnRateBps"] = strconv.FormatUint(drawnBps, 10)
	attrs["facilityRateBps"] = strconv.FormatUint(facilityBps, 10)
	return &types.Event{Type: EventTypePositionCreated, Attributes: attrs}
}

// NewPositionIncreasedEvent reports additional deposit made available on an
// existing position.
func NewPositionIncreasedEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypePositionIncreased, id, amount)
}

// NewBorrowedEvent reports principal drawn to the borrower.
func NewBorrowedEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeBorrowed, id, amount)
}

// NewRepaidInterestEvent reports payment applied against accrued interest.
func NewRepaidInterestEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeRepaidInterest, id, amount)
}

// NewRepaidPrincipalEvent reports payment applied against principal.
func NewRepaidPrincipalEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeRepaidPrincipal, id, amount)
}

// NewInterestAccruedEvent reports newly accrued interest owed.
func NewInterestAccruedEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeInterestAccrued, id, amount)
}

// NewPositionClosedEvent reports a closed position and the amount refunded to
// its lender.
func NewPositionClosedEvent(id [32]byte, refund *big.Int) *types.Event {
	return idAmountEvent(EventTypePositionClosed, id, refund)
}

// NewWithdrewDepositEvent reports undrawn deposit removed by the lender.
func NewWithdrewDepositEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeWithdrewDeposit, id, amount)
}

// NewWithdrewProfitEvent reports repaid interest removed by the lender.
func NewWithdrewProfitEvent(id [32]byte, amount *big.Int) *types.Event {
	return idAmountEvent(EventTypeWithdrewProfit, id, amount)
}

// NewStatusUpdatedEvent reports a line status transition.
func NewStatusUpdatedEvent(from, to LineStatus) *types.Event {
	return &types.Event{
		Type: EventTypeStatusUpdated,
		Attributes: map[string]string{
			"from": from.String(),
			"to":   to.String(),
		},
	}
}

// NewRatesSetEvent reports a consented rate change for a position.
func NewRatesSetEvent(id [32]byte, drawnBps, facilityBps uint64) *types.Event {
	return &types.Event{
		Type: EventTypeRatesSet,
		Attributes: map[string]string{
			"id":              hex.EncodeToString(id[:]),
			"drawnRateBps":    strconv.FormatUint(drawnBps, 10),
			"facilityRateBps": strconv.FormatUint(facilityBps, 10),
		},
	}
}

// NewDefaultEvent reports a position caught in a deadline default, carrying
// its outstanding debt.
func NewDefaultEvent(id [32]byte, outstanding *big.Int) *types.Event {
	return idAmountEvent(EventTypeDefault, id, outstanding)
}

// NewConsentRegisteredEvent reports a recorded mutual-consent proposal
// awaiting the counterparty.
func NewConsentRegisteredEvent(key [32]byte, proposer, counterparty [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeConsentRegistered,
		Attributes: map[string]string{
			"proposal":     hex.EncodeToString(key[:]),
			"proposer":     hex.EncodeToString(proposer[:]),
			"counterparty": hex.EncodeToString(counterparty[:]),
		},
	}
}
