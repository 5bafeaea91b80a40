package spigot

import (
	"errors"
	"math/big"

	"creditline/core/events"
	"creditline/core/types"
	nativecommon "creditline/native/common"
	"creditline/native/credit"
)

const moduleName = "spigot"

var (
	errNilState  = errors.New("spigot engine: state not configured")
	errNilCredit = errors.New("spigot engine: credit engine not configured")
	errNilVenue  = errors.New("spigot engine: trade venue not configured")
	errNilEscrow = errors.New("spigot engine: revenue escrow not configured")

	// ErrTradeFailed indicates the external venue call failed, or the trade
	// did not increase the line's balance of the token being bought.
	ErrTradeFailed = errors.New("spigot engine: trade failed")
	// ErrClaimFailed indicates no revenue could be claimed from the escrow.
	ErrClaimFailed = errors.New("spigot engine: claim failed")
)

type engineState interface {
	GetUnused(token string) (*big.Int, error)
	PutUnused(token string, amount *big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// RevenueEscrow is the external contract pledging a revenue stream to the
// line. The claimable amount is always determined by the escrow.
type RevenueEscrow interface {
	Claim(token string) (*big.Int, error)
	UpdateOwnerSplit(contract [20]byte, split uint8) error
	UpdateOwner(newOwner [20]byte) error
	UpdateWhitelistedFunction(selector [4]byte, allowed bool) error
}

// TradeVenue executes an externally-priced token trade against the line's
// balances given opaque call data. The engine never trusts the venue's
// result: it reasons only about balance deltas measured around the call.
type TradeVenue interface {
	Execute(data []byte) error
}

type spigotEvent struct {
	evt *types.Event
}

func (e spigotEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e spigotEvent) Event() *types.Event { return e.evt }

// Engine is the revenue-to-repayment bridge. It claims escrowed revenue,
// converts it through the external venue, and reconciles leftover balances
// against outstanding debt through the credit engine's repayment primitive.
// It exclusively owns the per-token unused balances.
type Engine struct {
	credit       *credit.Engine
	state        engineState
	escrow       RevenueEscrow
	venue        TradeVenue
	emitter      events.Emitter
	pauses       nativecommon.PauseView
	defaultSplit uint8
}

// NewEngine creates a bridge engine with a no-op emitter.
func NewEngine(defaultSplit uint8) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, defaultSplit: defaultSplit}
}

// SetState configures the state backend that persists unused balances and
// accounts.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCreditEngine wires the line whose debt the bridge services.
func (e *Engine) SetCreditEngine(engine *credit.Engine) { e.credit = engine }

// SetEscrow wires the external revenue escrow.
func (e *Engine) SetEscrow(escrow RevenueEscrow) { e.escrow = escrow }

// SetVenue wires the external trade venue.
func (e *Engine) SetVenue(venue TradeVenue) { e.venue = venue }

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(spigotEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.credit == nil {
		return errNilCredit
	}
	if e.escrow == nil {
		return errNilEscrow
	}
	return nil
}

func (e *Engine) unused(token string) (*big.Int, error) {
	amount, err := e.state.GetUnused(token)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}

func (e *Engine) custodyBalance(line [20]byte, token string) (*big.Int, error) {
	acc, err := e.state.GetAccount(line)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return cloneBigInt(acc.Balance(token)), nil
}

// ClaimAndTrade claims escrowed revenue for claimToken, trades it through the
// venue into the front position's token, and parks the purchased amount in
// the unused balance for a later repayment. Only the borrower or arbiter may
// trigger trades. The purchased amount is returned.
func (e *Engine) ClaimAndTrade(caller [20]byte, claimToken string, data []byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	line, _, targetToken, err := e.tradeContext(caller, claimToken)
	if err != nil {
		return nil, err
	}
	claimed, bought, err := e.claimAndTrade(line, claimToken, targetToken, data)
	if err != nil {
		return nil, err
	}
	unusedTarget, err := e.unused(targetToken)
	if err != nil {
		return nil, err
	}
	unusedTarget.Add(unusedTarget, bought)
	if err := e.state.PutUnused(targetToken, unusedTarget); err != nil {
		return nil, err
	}
	e.emit(NewRevenueTradedEvent(claimToken, targetToken, claimed, bought))
	return bought, nil
}

// ClaimAndRepay performs the same claim and trade, then reconciles the
// purchase plus any previously-unused surplus against the front position's
// outstanding debt, never repaying more than is owed. The repaid amount is
// returned.
func (e *Engine) ClaimAndRepay(caller [20]byte, claimToken string, data []byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	line, front, targetToken, err := e.tradeContext(caller, claimToken)
	if err != nil {
		return nil, err
	}
	claimed, bought, err := e.claimAndTrade(line, claimToken, targetToken, data)
	if err != nil {
		return nil, err
	}
	// Interest must be current before the debt cap is computed.
	if err := e.credit.AccrueInterest(front.ID); err != nil {
		return nil, err
	}
	front, err = e.credit.GetPosition(front.ID)
	if err != nil {
		return nil, err
	}
	debt := front.Outstanding()
	unusedTarget, err := e.unused(targetToken)
	if err != nil {
		return nil, err
	}
	available := new(big.Int).Add(bought, unusedTarget)
	repaid := available
	if repaid.Cmp(debt) > 0 {
		repaid = debt
	}
	// unused_after = unused_before + bought - repaid: surplus above the cap
	// is parked, previously-unused value spent on the debt is drawn down.
	unusedAfter := new(big.Int).Add(unusedTarget, bought)
	unusedAfter.Sub(unusedAfter, repaid)
	if err := e.state.PutUnused(targetToken, unusedAfter); err != nil {
		return nil, err
	}
	if repaid.Sign() > 0 {
		if err := e.credit.Repay(repaid); err != nil {
			return nil, err
		}
	}
	e.emit(NewRevenueTradedEvent(claimToken, targetToken, claimed, bought))
	e.emit(NewRevenuePaymentEvent(targetToken, repaid))
	return repaid, nil
}

// tradeContext authorises the caller and resolves the trade's target token
// from the front of the repayment queue.
func (e *Engine) tradeContext(caller [20]byte, claimToken string) (*credit.Line, *credit.Position, string, error) {
	line, err := e.credit.Line()
	if err != nil {
		return nil, nil, "", err
	}
	if caller != line.Borrower && caller != line.Arbiter {
		return nil, nil, "", credit.ErrCallerAccessDenied
	}
	front, err := e.credit.FrontPosition()
	if err != nil {
		return nil, nil, "", err
	}
	if _, err := credit.NormalizeToken(claimToken); err != nil {
		return nil, nil, "", err
	}
	return line, front, front.Token, nil
}

// claimAndTrade claims revenue and executes the venue call, bracketing both
// with balance snapshots. State the trade depends on is never trusted from
// the venue: the purchased amount is the measured increase of the target
// token, and any claim-token residue is reconciled against the unused
// balance.
func (e *Engine) claimAndTrade(line *credit.Line, claimToken, targetToken string, data []byte) (*big.Int, *big.Int, error) {
	if e.venue == nil {
		return nil, nil, errNilVenue
	}
	preClaim, err := e.custodyBalance(line.Address, claimToken)
	if err != nil {
		return nil, nil, err
	}
	preTarget, err := e.custodyBalance(line.Address, targetToken)
	if err != nil {
		return nil, nil, err
	}
	claimed, err := e.escrow.Claim(claimToken)
	if err != nil {
		return nil, nil, err
	}
	claimed = cloneBigInt(claimed)
	if claimed.Sign() <= 0 {
		return nil, nil, ErrClaimFailed
	}
	if err := e.venue.Execute(data); err != nil {
		return nil, nil, ErrTradeFailed
	}
	postClaim, err := e.custodyBalance(line.Address, claimToken)
	if err != nil {
		return nil, nil, err
	}
	postTarget, err := e.custodyBalance(line.Address, targetToken)
	if err != nil {
		return nil, nil, err
	}
	// No valid trade can reduce the balance of the token being bought.
	bought := new(big.Int).Sub(postTarget, preTarget)
	if bought.Sign() <= 0 {
		return nil, nil, ErrTradeFailed
	}
	if claimToken == targetToken {
		// Claimed revenue already is the credit token; the measured increase
		// covers both the claim and any venue top-up.
		return claimed, bought, nil
	}
	unusedClaim, err := e.unused(claimToken)
	if err != nil {
		return nil, nil, err
	}
	if postClaim.Cmp(preClaim) >= 0 {
		// Partial fill: the unspent claim residue stays available for later
		// trades.
		unusedClaim.Add(unusedClaim, new(big.Int).Sub(postClaim, preClaim))
	} else {
		// The venue consumed previously-unused claim tokens on top of the
		// fresh claim; it may never dig into lender custody beyond that.
		spent := new(big.Int).Sub(preClaim, postClaim)
		if spent.Cmp(unusedClaim) > 0 {
			return nil, nil, ErrTradeFailed
		}
		unusedClaim.Sub(unusedClaim, spent)
	}
	if err := e.state.PutUnused(claimToken, unusedClaim); err != nil {
		return nil, nil, err
	}
	return claimed, bought, nil
}

// UpdateOwnerSplit re-aligns a revenue stream's split with the line's health:
// the configured default while ACTIVE, everything to debt service while
// LIQUIDATABLE. Other states leave the split untouched.
func (e *Engine) UpdateOwnerSplit(contract [20]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	status, err := e.credit.HealthCheck()
	if err != nil {
		return false, err
	}
	switch status {
	case credit.StatusActive:
		if err := e.escrow.UpdateOwnerSplit(contract, e.defaultSplit); err != nil {
			return false, err
		}
		return true, nil
	case credit.StatusLiquidatable:
		if err := e.escrow.UpdateOwnerSplit(contract, maxSplit); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// ReleaseSpigot transfers escrow ownership once the line is resolved: to the
// borrower when REPAID, to the arbiter when LIQUIDATABLE or INSOLVENT. While
// the line is healthy and open it is a no-op, since revenue must keep
// servicing debt.
func (e *Engine) ReleaseSpigot(caller [20]byte) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	status, err := e.credit.HealthCheck()
	if err != nil {
		return false, err
	}
	line, err := e.credit.Line()
	if err != nil {
		return false, err
	}
	var recipient [20]byte
	switch status {
	case credit.StatusRepaid:
		recipient = line.Borrower
	case credit.StatusLiquidatable, credit.StatusInsolvent:
		recipient = line.Arbiter
	default:
		return false, nil
	}
	if err := e.escrow.UpdateOwner(recipient); err != nil {
		return false, err
	}
	e.emit(NewSpigotReleasedEvent(recipient))
	return true, nil
}

// Sweep pays out the unused balance for a token once the line is resolved,
// using the same routing as ReleaseSpigot. It returns zero, not an error,
// while the line is healthy and open or when nothing is parked.
func (e *Engine) Sweep(caller [20]byte, token string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	normalized, err := credit.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	status, err := e.credit.HealthCheck()
	if err != nil {
		return nil, err
	}
	line, err := e.credit.Line()
	if err != nil {
		return nil, err
	}
	var recipient [20]byte
	switch status {
	case credit.StatusRepaid:
		recipient = line.Borrower
	case credit.StatusLiquidatable, credit.StatusInsolvent:
		recipient = line.Arbiter
	default:
		return big.NewInt(0), nil
	}
	amount, err := e.unused(normalized)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.transfer(line.Address, recipient, normalized, amount); err != nil {
		return nil, err
	}
	if err := e.state.PutUnused(normalized, big.NewInt(0)); err != nil {
		return nil, err
	}
	e.emit(NewSweptEvent(normalized, recipient, amount))
	return amount, nil
}

// UpdateWhitelistedFunction forwards the arbiter's decision on which operator
// calls the pledged revenue contract accepts.
func (e *Engine) UpdateWhitelistedFunction(caller [20]byte, selector [4]byte, allowed bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	line, err := e.credit.Line()
	if err != nil {
		return err
	}
	if caller != line.Arbiter {
		return credit.ErrCallerAccessDenied
	}
	return e.escrow.UpdateWhitelistedFunction(selector, allowed)
}

func (e *Engine) transfer(from, to [20]byte, token string, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc == nil {
		fromAcc = types.NewAccount()
	}
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	balance := fromAcc.Balance(token)
	if balance.Cmp(amt) < 0 {
		return credit.ErrTransferFailed
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amt))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}
