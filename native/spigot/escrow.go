package spigot

import (
	"errors"
	"math/big"

	"creditline/core/events"
	"creditline/core/types"
)

var (
	errNilLedgerState = errors.New("spigot ledger: state not configured")

	// ErrNoSpigot is returned when the referenced revenue contract has no
	// recognised split configuration.
	ErrNoSpigot = errors.New("spigot ledger: no spigot configured")
	// ErrBadSplit rejects owner splits above 100 percent.
	ErrBadSplit = errors.New("spigot ledger: owner split out of range")
	// ErrNotOwner rejects configuration changes from anyone but the escrow
	// owner.
	ErrNotOwner = errors.New("spigot ledger: caller is not the owner")
)

type ledgerState interface {
	GetSetting(contract [20]byte) (*Setting, bool)
	PutSetting(*Setting) error
	DeleteSetting(contract [20]byte) error
	GetEscrowed(token string) (*big.Int, error)
	PutEscrowed(token string, amount *big.Int) error
	GetWhitelist(selector [4]byte) bool
	PutWhitelist(selector [4]byte, allowed bool) error
	GetEscrowOwner() ([20]byte, bool)
	PutEscrowOwner(owner [20]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Ledger is the revenue escrow: it receives pledged revenue payments, splits
// them between the owner's escrow and the operator, and releases claimable
// value to the owner on demand. The line's bridge consumes it through the
// RevenueEscrow interface; ownership transfers to the borrower or arbiter at
// line resolution.
type Ledger struct {
	state    ledgerState
	emitter  events.Emitter
	operator [20]byte
	treasury [20]byte
}

// NewLedger constructs a revenue escrow with the given operator and treasury
// custody address.
func NewLedger(operator, treasury [20]byte) *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}, operator: operator, treasury: treasury}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(spigotEvent{evt: event})
}

// Owner returns the current escrow owner.
func (l *Ledger) Owner() ([20]byte, error) {
	if l == nil || l.state == nil {
		return [20]byte{}, errNilLedgerState
	}
	owner, ok := l.state.GetEscrowOwner()
	if !ok {
		return [20]byte{}, errNilLedgerState
	}
	return owner, nil
}

// Bootstrap installs the initial escrow owner when none is recorded yet.
func (l *Ledger) Bootstrap(owner [20]byte) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	if _, ok := l.state.GetEscrowOwner(); ok {
		return nil
	}
	return l.state.PutEscrowOwner(owner)
}

// AddSpigot registers a revenue stream. Only the escrow owner may attach
// streams.
func (l *Ledger) AddSpigot(caller [20]byte, setting *Setting) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	owner, err := l.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	sanitized, err := setting.Sanitize()
	if err != nil {
		return err
	}
	if err := l.state.PutSetting(sanitized); err != nil {
		return err
	}
	l.emit(NewSpigotAddedEvent(sanitized))
	return nil
}

// ReceiveRevenue settles an incoming revenue payment for a registered stream:
// the owner split is escrowed in the treasury, the remainder flows to the
// operator.
func (l *Ledger) ReceiveRevenue(payer, contract [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrClaimFailed
	}
	setting, ok := l.state.GetSetting(contract)
	if !ok {
		return ErrNoSpigot
	}
	escrowShare := new(big.Int).Mul(amt, new(big.Int).SetUint64(uint64(setting.OwnerSplit)))
	escrowShare.Quo(escrowShare, big.NewInt(maxSplit))
	operatorShare := new(big.Int).Sub(amt, escrowShare)

	if err := l.transfer(payer, l.treasury, setting.Token, escrowShare); err != nil {
		return err
	}
	if err := l.transfer(payer, l.operator, setting.Token, operatorShare); err != nil {
		return err
	}
	escrowed, err := l.state.GetEscrowed(setting.Token)
	if err != nil {
		return err
	}
	escrowed = new(big.Int).Add(cloneBigInt(escrowed), escrowShare)
	if err := l.state.PutEscrowed(setting.Token, escrowed); err != nil {
		return err
	}
	l.emit(NewRevenueReceivedEvent(contract, setting.Token, amt, escrowShare))
	return nil
}

// Claim moves all escrowed revenue for the token from the treasury to the
// escrow owner and returns the claimed amount. The amount is determined by
// the escrow, never the caller.
func (l *Ledger) Claim(token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilLedgerState
	}
	owner, err := l.Owner()
	if err != nil {
		return nil, err
	}
	escrowed, err := l.state.GetEscrowed(token)
	if err != nil {
		return nil, err
	}
	claimed := cloneBigInt(escrowed)
	if claimed.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := l.transfer(l.treasury, owner, token, claimed); err != nil {
		return nil, err
	}
	if err := l.state.PutEscrowed(token, big.NewInt(0)); err != nil {
		return nil, err
	}
	l.emit(NewRevenueClaimedEvent(token, claimed))
	return claimed, nil
}

// UpdateOwnerSplit adjusts the escrowed percentage for a stream.
func (l *Ledger) UpdateOwnerSplit(contract [20]byte, split uint8) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	if split > maxSplit {
		return ErrBadSplit
	}
	setting, ok := l.state.GetSetting(contract)
	if !ok {
		return ErrNoSpigot
	}
	if setting.OwnerSplit == split {
		return nil
	}
	setting.OwnerSplit = split
	if err := l.state.PutSetting(setting); err != nil {
		return err
	}
	l.emit(NewSplitUpdatedEvent(contract, split))
	return nil
}

// UpdateOwner hands the escrow to a new owner.
func (l *Ledger) UpdateOwner(newOwner [20]byte) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	current, err := l.Owner()
	if err != nil {
		return err
	}
	if current == newOwner {
		return nil
	}
	if err := l.state.PutEscrowOwner(newOwner); err != nil {
		return err
	}
	l.emit(NewOwnerUpdatedEvent(current, newOwner))
	return nil
}

// UpdateWhitelistedFunction toggles which operator calls the borrower may
// trigger through the pledged revenue contract.
func (l *Ledger) UpdateWhitelistedFunction(selector [4]byte, allowed bool) error {
	if l == nil || l.state == nil {
		return errNilLedgerState
	}
	if err := l.state.PutWhitelist(selector, allowed); err != nil {
		return err
	}
	l.emit(NewWhitelistUpdatedEvent(selector, allowed))
	return nil
}

// Whitelisted reports whether an operator function selector is allowed.
func (l *Ledger) Whitelisted(selector [4]byte) bool {
	if l == nil || l.state == nil {
		return false
	}
	return l.state.GetWhitelist(selector)
}

func (l *Ledger) transfer(from, to [20]byte, token string, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to)
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
		return ErrClaimFailed
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amt))
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}
