package spigot

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"creditline/core/types"
)

const (
	EventTypeSpigotAdded      = "spigot.added"
	EventTypeRevenueReceived  = "spigot.revenue_received"
	EventTypeRevenueClaimed   = "spigot.revenue_claimed"
	EventTypeRevenueTraded    = "spigot.revenue_traded"
	EventTypeRevenuePayment   = "spigot.revenue_payment"
	EventTypeSplitUpdated     = "spigot.split_updated"
	EventTypeOwnerUpdated     = "spigot.owner_updated"
	EventTypeReleased         = "spigot.released"
	EventTypeSwept            = "spigot.swept"
	EventTypeWhitelistUpdated = "spigot.whitelist_updated"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewSpigotAddedEvent reports a newly registered revenue stream.
func NewSpigotAddedEvent(s *Setting) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["contract"] = hex.EncodeToString(s.Contract[:])
		attrs["token"] = s.Token
		attrs["ownerSplit"] = strconv.FormatUint(uint64(s.OwnerSplit), 10)
	}
	return &types.Event{Type: EventTypeSpigotAdded, Attributes: attrs}
}

// NewRevenueReceivedEvent reports a settled revenue payment and the share
// escrowed for debt service.
func NewRevenueReceivedEvent(contract [20]byte, token string, amount, escrowed *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRevenueReceived,
		Attributes: map[string]string{
			"contract": hex.EncodeToString(contract[:]),
			"token":    token,
			"amount":   formatAmount(amount),
			"escrowed": formatAmount(escrowed),
		},
	}
}

// NewRevenueClaimedEvent reports escrowed revenue released to the owner.
func NewRevenueClaimedEvent(token string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRevenueClaimed,
		Attributes: map[string]string{
			"token":  token,
			"amount": formatAmount(amount),
		},
	}
}

// NewRevenueTradedEvent reports a completed revenue trade and the measured
// purchase.
func NewRevenueTradedEvent(claimToken, targetToken string, claimed, bought *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRevenueTraded,
		Attributes: map[string]string{
			"claimToken":   claimToken,
			"targetToken":  targetToken,
			"claimed":      formatAmount(claimed),
			"tokensBought": formatAmount(bought),
		},
	}
}

// NewRevenuePaymentEvent reports revenue applied against outstanding debt.
func NewRevenuePaymentEvent(token string, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRevenuePayment,
		Attributes: map[string]string{
			"token":  token,
			"amount": formatAmount(amount),
		},
	}
}

// NewSplitUpdatedEvent reports a revenue split change.
func NewSplitUpdatedEvent(contract [20]byte, split uint8) *types.Event {
	return &types.Event{
		Type: EventTypeSplitUpdated,
		Attributes: map[string]string{
			"contract":   hex.EncodeToString(contract[:]),
			"ownerSplit": strconv.FormatUint(uint64(split), 10),
		},
	}
}

// NewOwnerUpdatedEvent reports an escrow ownership handover.
func NewOwnerUpdatedEvent(from, to [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOwnerUpdated,
		Attributes: map[string]string{
			"from": hex.EncodeToString(from[:]),
			"to":   hex.EncodeToString(to[:]),
		},
	}
}

// NewSpigotReleasedEvent reports the bridge handing the escrow to its
// terminal recipient.
func NewSpigotReleasedEvent(recipient [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeReleased,
		Attributes: map[string]string{
			"recipient": hex.EncodeToString(recipient[:]),
		},
	}
}

// NewSweptEvent reports unused token value paid out at line resolution.
func NewSweptEvent(token string, recipient [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSwept,
		Attributes: map[string]string{
			"token":     token,
			"recipient": hex.EncodeToString(recipient[:]),
			"amount":    formatAmount(amount),
		},
	}
}

// NewWhitelistUpdatedEvent reports an operator function toggle.
func NewWhitelistUpdatedEvent(selector [4]byte, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeWhitelistUpdated,
		Attributes: map[string]string{
			"selector": hex.EncodeToString(selector[:]),
			"allowed":  strconv.FormatBool(allowed),
		},
	}
}
