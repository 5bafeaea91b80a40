package credit

import (
	"math/big"
	"time"

	"creditline/core/events"
	"creditline/core/types"
	nativecommon "creditline/native/common"
)

const moduleName = "credit"

// defaultDecimals is assumed when a token does not appear in the decimals
// registry.
const defaultDecimals = 18

type engineState interface {
	GetLine() (*Line, error)
	PutLine(*Line) error
	GetPosition(id [32]byte) (*Position, bool)
	PutPosition(*Position) error
	DeletePosition(id [32]byte) error
	ConsentHas(hash [32]byte) bool
	ConsentPut(hash [32]byte) error
	ConsentDelete(hash [32]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	TokenDecimals(symbol string) (uint8, bool)
}

// PriceOracle supplies a signed price for a token. A nil or non-positive
// answer means no price is available.
type PriceOracle interface {
	LatestAnswer(token string) *big.Int
}

// CollateralOracle reports externally-determined distress for the line, e.g.
// the collateral ratio falling below its minimum.
type CollateralOracle interface {
	Liquidatable(line [20]byte) bool
}

// InterestModel computes additional interest owed by a position since its last
// accrual point. The model is stateful per position; its internal rate math is
// not the engine's concern.
type InterestModel interface {
	Accrue(id [32]byte, principal, deposit *big.Int, now int64) *big.Int
	SetRate(id [32]byte, drawnBps, facilityBps uint64, now int64)
	Forget(id [32]byte)
}

type creditEvent struct {
	evt *types.Event
}

func (e creditEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e creditEvent) Event() *types.Event { return e.evt }

// Engine owns the credit-position ledger, the repayment queue and the line
// status machine. All mutation flows through its methods; every mutating entry
// point accrues interest for the affected positions before applying its delta.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	oracle     PriceOracle
	collateral CollateralOracle
	interest   InterestModel
	pauses     nativecommon.PauseView
	nowFn      func() int64
}

// NewEngine creates a credit engine with a no-op emitter. Callers wire the
// state backend and collaborators via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle configures the token price oracle consulted at position creation
// and during debt valuation.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetCollateralOracle configures the external health signal evaluated by the
// status machine.
func (e *Engine) SetCollateralOracle(oracle CollateralOracle) { e.collateral = oracle }

// SetInterestModel configures the accrual engine.
func (e *Engine) SetInterestModel(model InterestModel) { e.interest = model }

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

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(creditEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadLine() (*Line, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	line, err := e.state.GetLine()
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, errNilLine
	}
	return line, nil
}

func (e *Engine) loadPosition(id [32]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, ok := e.state.GetPosition(id)
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Deposit == nil {
		pos.Deposit = big.NewInt(0)
	}
	if pos.Principal == nil {
		pos.Principal = big.NewInt(0)
	}
	if pos.InterestAccrued == nil {
		pos.InterestAccrued = big.NewInt(0)
	}
	if pos.InterestRepaid == nil {
		pos.InterestRepaid = big.NewInt(0)
	}
	return pos, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// transferToken moves token value between parties through the state-backed
// account store. Transfers either fully succeed or leave both accounts
// untouched.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrTransferFailed
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	balance := fromAcc.Balance(token)
	if balance.Cmp(amt) < 0 {
		return ErrTransferFailed
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(balance, amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amt))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// accruePosition folds newly-owed interest into the position and emits the
// accrual event. The position is not persisted here. The model's clock has
// already advanced, so callers must write a nonzero accrual before any step
// that can still fail; a discarded accrual is interest lost for good.
func (e *Engine) accruePosition(pos *Position) *big.Int {
	if e == nil || e.interest == nil || pos == nil {
		return big.NewInt(0)
	}
	delta := e.interest.Accrue(pos.ID, pos.Principal, pos.Deposit, e.now())
	if delta == nil || delta.Sign() <= 0 {
		return big.NewInt(0)
	}
	pos.InterestAccrued = new(big.Int).Add(cloneBigInt(pos.InterestAccrued), delta)
	e.emit(NewInterestAccruedEvent(pos.ID, delta))
	return delta
}

// evaluateStatus derives the line status from the deadline and the external
// collateral signal. Terminal states are never re-evaluated.
func (e *Engine) evaluateStatus(line *Line) LineStatus {
	if line == nil {
		return StatusActive
	}
	if line.Status.Terminal() {
		return line.Status
	}
	if len(line.Queue) > 0 && e.now() >= line.Deadline {
		return StatusLiquidatable
	}
	if e.collateral != nil && e.collateral.Liquidatable(line.Address) {
		return StatusLiquidatable
	}
	return StatusActive
}

// HealthCheck re-evaluates the line status. It is idempotent, callable by
// anyone, and a no-op once the line is terminal. When the deadline or the
// collateral signal pushes the line into LIQUIDATABLE, a default event is
// emitted per open position carrying its outstanding debt.
func (e *Engine) HealthCheck() (LineStatus, error) {
	line, err := e.loadLine()
	if err != nil {
		return StatusActive, err
	}
	if line.Status.Terminal() {
		return line.Status, nil
	}
	next := e.evaluateStatus(line)
	if next == line.Status {
		return next, nil
	}
	if next == StatusLiquidatable {
		for _, id := range line.Queue {
			pos, err := e.loadPosition(id)
			if err != nil {
				return line.Status, err
			}
			e.accruePosition(pos)
			if err := e.state.PutPosition(pos); err != nil {
				return line.Status, err
			}
			e.emit(NewDefaultEvent(pos.ID, pos.Outstanding()))
		}
	}
	prev := line.Status
	line.Status = next
	if err := e.state.PutLine(line); err != nil {
		return prev, err
	}
	e.emit(NewStatusUpdatedEvent(prev, next))
	return next, nil
}

// Line returns a copy of the line aggregate.
func (e *Engine) Line() (*Line, error) {
	line, err := e.loadLine()
	if err != nil {
		return nil, err
	}
	return line.Clone(), nil
}

// GetPosition returns a copy of the stored position.
func (e *Engine) GetPosition(id [32]byte) (*Position, error) {
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// FrontPosition returns a copy of the queue's repayment target. It fails with
// ErrNotBorrowing when no position is drawn.
func (e *Engine) FrontPosition() (*Position, error) {
	line, err := e.loadLine()
	if err != nil {
		return nil, err
	}
	pos, err := e.frontPosition(line)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

func (e *Engine) frontPosition(line *Line) (*Position, error) {
	if line == nil || len(line.Queue) == 0 {
		return nil, ErrNotBorrowing
	}
	pos, err := e.loadPosition(line.Queue[0])
	if err != nil {
		return nil, err
	}
	if pos.Principal.Sign() == 0 {
		return nil, ErrNotBorrowing
	}
	return pos, nil
}

// AddCredit creates a new credit position funded by the lender. It requires
// mutual consent between the borrower and the lender; the first authorised
// caller registers the proposal and receives a zero id. The second matching
// call moves the deposit into line custody and activates the position at the
// back of the repayment queue.
func (e *Engine) AddCredit(caller, lender [20]byte, token string, amount *big.Int, drawnBps, facilityBps uint64) ([32]byte, error) {
	var zero [32]byte
	if e == nil || e.state == nil {
		return zero, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return zero, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return zero, errBadAmount
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return zero, err
	}
	line, err := e.loadLine()
	if err != nil {
		return zero, err
	}
	if line.Status != StatusActive {
		return zero, ErrNotActive
	}
	if caller != line.Borrower && caller != lender {
		return zero, ErrCallerAccessDenied
	}
	counterparty := lender
	if caller == lender {
		counterparty = line.Borrower
	}
	agreed, consent, err := e.mutualConsent(caller, counterparty, "addCredit",
		lender[:], []byte(normalized), consentAmount(amount), consentUint64(drawnBps), consentUint64(facilityBps))
	if err != nil {
		return zero, err
	}
	if !agreed {
		return zero, nil
	}
	if e.oracle == nil {
		return zero, ErrNoTokenPrice
	}
	price := e.oracle.LatestAnswer(normalized)
	if price == nil || price.Sign() <= 0 {
		return zero, ErrNoTokenPrice
	}
	id := PositionID(line.Address, lender, normalized)
	if _, exists := e.state.GetPosition(id); exists {
		return zero, ErrPositionExists
	}
	decimals, ok := e.state.TokenDecimals(normalized)
	if !ok {
		decimals = defaultDecimals
	}
	if err := e.transferToken(lender, line.Address, normalized, amount); err != nil {
		return zero, err
	}
	if err := e.state.ConsentDelete(consent); err != nil {
		return zero, err
	}
	pos := &Position{
		ID:              id,
		Lender:          lender,
		Token:           normalized,
		Decimals:        decimals,
		Deposit:         cloneBigInt(amount),
		Principal:       big.NewInt(0),
		InterestAccrued: big.NewInt(0),
		InterestRepaid:  big.NewInt(0),
	}
	if err := e.state.PutPosition(pos); err != nil {
		return zero, err
	}
	line.Queue = append(line.Queue, id)
	if err := e.state.PutLine(line); err != nil {
		return zero, err
	}
	if e.interest != nil {
		e.interest.SetRate(id, drawnBps, facilityBps, e.now())
	}
	e.emit(NewPositionCreatedEvent(pos, drawnBps, facilityBps))
	return id, nil
}

// IncreaseCredit raises an existing position's deposit by amount, optionally
// drawing principalOut to the borrower in the same step. Mutual consent is
// keyed by the existing position id. The draw may not exceed the fresh
// deposit.
func (e *Engine) IncreaseCredit(caller [20]byte, id [32]byte, amount, principalOut *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errBadAmount
	}
	draw := cloneBigInt(principalOut)
	if draw.Sign() < 0 {
		return errBadAmount
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	if line.Status != StatusActive {
		return ErrNotActive
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if caller != line.Borrower && caller != pos.Lender {
		return ErrCallerAccessDenied
	}
	if draw.Cmp(amount) > 0 {
		return ErrTransferFailed
	}
	counterparty := pos.Lender
	if caller == pos.Lender {
		counterparty = line.Borrower
	}
	agreed, consent, err := e.mutualConsent(caller, counterparty, "increaseCredit",
		id[:], consentAmount(amount), consentAmount(draw))
	if err != nil {
		return err
	}
	if !agreed {
		return nil
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if err := e.transferToken(pos.Lender, line.Address, pos.Token, amount); err != nil {
		return err
	}
	if err := e.state.ConsentDelete(consent); err != nil {
		return err
	}
	pos.Deposit = new(big.Int).Add(pos.Deposit, amount)
	wasDrawn := pos.Principal.Sign() > 0
	if draw.Sign() > 0 {
		pos.Principal = new(big.Int).Add(pos.Principal, draw)
		if err := e.transferToken(line.Address, line.Borrower, pos.Token, draw); err != nil {
			return err
		}
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if !wasDrawn && pos.Principal.Sign() > 0 {
		line.Queue = promoteOnDraw(line.Queue, id, e.drawnPredicate())
		if err := e.state.PutLine(line); err != nil {
			return err
		}
	}
	e.emit(NewPositionIncreasedEvent(id, amount))
	if draw.Sign() > 0 {
		e.emit(NewBorrowedEvent(id, draw))
	}
	return nil
}

func (e *Engine) drawnPredicate() func([32]byte) bool {
	return func(id [32]byte) bool {
		pos, ok := e.state.GetPosition(id)
		return ok && pos.Principal != nil && pos.Principal.Sign() > 0
	}
}

// Borrow draws amount from a position to the borrower. The draw is bounded by
// the undrawn deposit and must leave the line ACTIVE.
func (e *Engine) Borrow(caller [20]byte, id [32]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errBadAmount
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	if caller != line.Borrower {
		return ErrCallerAccessDenied
	}
	if line.Status != StatusActive {
		return ErrNotActive
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	available := new(big.Int).Sub(pos.Deposit, pos.Principal)
	if amount.Cmp(available) > 0 {
		return ErrNoLiquidity
	}
	pos.Principal = new(big.Int).Add(pos.Principal, amount)
	// The draw itself must not push the line out of ACTIVE.
	if e.evaluateStatus(line) != StatusActive {
		return ErrNotActive
	}
	if err := e.transferToken(line.Address, line.Borrower, pos.Token, amount); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	line.Queue = promoteOnDraw(line.Queue, id, e.drawnPredicate())
	if err := e.state.PutLine(line); err != nil {
		return err
	}
	e.emit(NewBorrowedEvent(id, amount))
	return nil
}

// applyRepayment is the shared repayment primitive. Payment applies interest
// first; any remainder reduces principal. When principal reaches zero the
// queue advances so the next position becomes the repayment target. The
// primitive performs no transfer: callers must already hold the funds in line
// custody.
func (e *Engine) applyRepayment(line *Line, pos *Position, amount *big.Int) {
	applied := cloneBigInt(amount)
	if applied.Sign() <= 0 {
		return
	}
	if applied.Cmp(pos.InterestAccrued) <= 0 {
		pos.InterestAccrued = new(big.Int).Sub(pos.InterestAccrued, applied)
		pos.InterestRepaid = new(big.Int).Add(pos.InterestRepaid, applied)
		e.emit(NewRepaidInterestEvent(pos.ID, applied))
		return
	}
	interestPart := cloneBigInt(pos.InterestAccrued)
	principalPart := new(big.Int).Sub(applied, interestPart)
	if interestPart.Sign() > 0 {
		pos.InterestRepaid = new(big.Int).Add(pos.InterestRepaid, interestPart)
		pos.InterestAccrued = big.NewInt(0)
		e.emit(NewRepaidInterestEvent(pos.ID, interestPart))
	}
	pos.Principal = new(big.Int).Sub(pos.Principal, principalPart)
	e.emit(NewRepaidPrincipalEvent(pos.ID, principalPart))
	if pos.Principal.Sign() == 0 && len(line.Queue) > 0 && line.Queue[0] == pos.ID {
		line.Queue = stepQueue(line.Queue)
	}
}

// Repay applies an amount already held in line custody against the front
// position's debt, interest first. It backs both the revenue bridge and the
// deposit-backed entry points.
func (e *Engine) Repay(amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errBadAmount
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	pos, err := e.frontPosition(line)
	if err != nil {
		return err
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if amount.Cmp(pos.Outstanding()) > 0 {
		return ErrRepayExceedsDebt
	}
	e.applyRepayment(line, pos, amount)
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	return e.state.PutLine(line)
}

// DepositAndRepay pulls amount from the caller and repays the front position.
// Anyone may service the debt; the target is always the queue front.
func (e *Engine) DepositAndRepay(caller [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errBadAmount
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	pos, err := e.frontPosition(line)
	if err != nil {
		return err
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if amount.Cmp(pos.Outstanding()) > 0 {
		return ErrRepayExceedsDebt
	}
	if err := e.transferToken(caller, line.Address, pos.Token, amount); err != nil {
		return err
	}
	e.applyRepayment(line, pos, amount)
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	return e.state.PutLine(line)
}

// DepositAndClose repays the front position in full from the borrower and
// closes it.
func (e *Engine) DepositAndClose(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	if caller != line.Borrower {
		return ErrCallerAccessDenied
	}
	pos, err := e.frontPosition(line)
	if err != nil {
		return err
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	total := pos.Outstanding()
	if err := e.transferToken(line.Borrower, line.Address, pos.Token, total); err != nil {
		return err
	}
	e.applyRepayment(line, pos, total)
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	return e.closePosition(line, pos)
}

// Close ends a fully-repaid position, refunding the remaining deposit and
// repaid interest to the lender. Outstanding accrued interest is charged to
// the borrower as the closing facility fee. Only the position's lender or the
// borrower may close.
func (e *Engine) Close(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if caller != line.Borrower && caller != pos.Lender {
		return ErrCallerAccessDenied
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if pos.Principal.Sign() > 0 {
		return ErrCloseFailedWithPrincipal
	}
	if pos.InterestAccrued.Sign() > 0 {
		fee := cloneBigInt(pos.InterestAccrued)
		if err := e.transferToken(line.Borrower, line.Address, pos.Token, fee); err != nil {
			return err
		}
		e.applyRepayment(line, pos, fee)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	return e.closePosition(line, pos)
}

// closePosition refunds the lender, deletes the ledger entry and removes the
// id from the queue. Emptying the queue through normal closure transitions the
// line to REPAID.
func (e *Engine) closePosition(line *Line, pos *Position) error {
	refund := new(big.Int).Add(pos.Deposit, pos.InterestRepaid)
	if err := e.transferToken(line.Address, pos.Lender, pos.Token, refund); err != nil {
		return err
	}
	if err := e.state.DeletePosition(pos.ID); err != nil {
		return err
	}
	line.Queue = removeFromQueue(line.Queue, pos.ID)
	if e.interest != nil {
		e.interest.Forget(pos.ID)
	}
	statusChanged := false
	var prev LineStatus
	if len(line.Queue) == 0 && !line.Status.Terminal() {
		prev = line.Status
		line.Status = StatusRepaid
		statusChanged = prev != StatusRepaid
	}
	if err := e.state.PutLine(line); err != nil {
		return err
	}
	e.emit(NewPositionClosedEvent(pos.ID, refund))
	if statusChanged {
		e.emit(NewStatusUpdatedEvent(prev, StatusRepaid))
	}
	return nil
}

// Withdraw lets the lender remove unborrowed deposit and repaid interest.
// Repaid interest and deposit are drawn from one combined balance but
// reported as separate events.
func (e *Engine) Withdraw(caller [20]byte, id [32]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errBadAmount
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if caller != pos.Lender {
		return ErrCallerAccessDenied
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if amount.Cmp(pos.Withdrawable()) > 0 {
		return ErrNoLiquidity
	}
	if amount.Cmp(pos.InterestRepaid) > 0 {
		fromDeposit := new(big.Int).Sub(amount, pos.InterestRepaid)
		profit := cloneBigInt(pos.InterestRepaid)
		pos.Deposit = new(big.Int).Sub(pos.Deposit, fromDeposit)
		pos.InterestRepaid = big.NewInt(0)
		e.emit(NewWithdrewDepositEvent(id, fromDeposit))
		if profit.Sign() > 0 {
			e.emit(NewWithdrewProfitEvent(id, profit))
		}
	} else {
		pos.InterestRepaid = new(big.Int).Sub(pos.InterestRepaid, amount)
		e.emit(NewWithdrewProfitEvent(id, amount))
	}
	if err := e.transferToken(line.Address, pos.Lender, pos.Token, amount); err != nil {
		return err
	}
	return e.state.PutPosition(pos)
}

// AccrueInterest brings a position's interest accounting current. Anyone may
// call it.
func (e *Engine) AccrueInterest(id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if e.accruePosition(pos).Sign() == 0 {
		return nil
	}
	return e.state.PutPosition(pos)
}

// SetRates installs a new drawn/facility rate pair for a position under mutual
// consent, settling interest at the old rates first.
func (e *Engine) SetRates(caller [20]byte, id [32]byte, drawnBps, facilityBps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return err
	}
	if caller != line.Borrower && caller != pos.Lender {
		return ErrCallerAccessDenied
	}
	counterparty := pos.Lender
	if caller == pos.Lender {
		counterparty = line.Borrower
	}
	agreed, consent, err := e.mutualConsent(caller, counterparty, "setRates",
		id[:], consentUint64(drawnBps), consentUint64(facilityBps))
	if err != nil {
		return err
	}
	if !agreed {
		return nil
	}
	if e.accruePosition(pos).Sign() > 0 {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if err := e.state.ConsentDelete(consent); err != nil {
		return err
	}
	if e.interest != nil {
		e.interest.SetRate(id, drawnBps, facilityBps, e.now())
	}
	e.emit(NewRatesSetEvent(id, drawnBps, facilityBps))
	return nil
}

// UpdateOutstandingDebt accrues every open position and returns the
// oracle-priced totals of principal and accrued interest. Tokens without a
// positive price contribute zero, matching the valuation rules at creation.
func (e *Engine) UpdateOutstandingDebt() (*big.Int, *big.Int, error) {
	line, err := e.loadLine()
	if err != nil {
		return nil, nil, err
	}
	principal := big.NewInt(0)
	interest := big.NewInt(0)
	for _, id := range line.Queue {
		pos, err := e.loadPosition(id)
		if err != nil {
			return nil, nil, err
		}
		if e.accruePosition(pos).Sign() > 0 {
			if err := e.state.PutPosition(pos); err != nil {
				return nil, nil, err
			}
		}
		principal.Add(principal, e.valuation(pos.Token, pos.Decimals, pos.Principal))
		interest.Add(interest, e.valuation(pos.Token, pos.Decimals, pos.InterestAccrued))
	}
	return principal, interest, nil
}

// valuation prices an amount through the oracle, normalising by the token's
// captured decimals.
func (e *Engine) valuation(token string, decimals uint8, amount *big.Int) *big.Int {
	if e.oracle == nil || amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	price := e.oracle.LatestAnswer(token)
	if price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return value.Quo(value, scale)
}

// DeclareInsolvent is the arbiter's terminal determination that remaining
// collateral cannot cover the debt. The line must already be distressed.
func (e *Engine) DeclareInsolvent(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	line, err := e.loadLine()
	if err != nil {
		return err
	}
	if caller != line.Arbiter {
		return ErrCallerAccessDenied
	}
	status, err := e.HealthCheck()
	if err != nil {
		return err
	}
	if status != StatusLiquidatable {
		return ErrNotActive
	}
	line, err = e.loadLine()
	if err != nil {
		return err
	}
	prev := line.Status
	line.Status = StatusInsolvent
	if err := e.state.PutLine(line); err != nil {
		return err
	}
	e.emit(NewStatusUpdatedEvent(prev, StatusInsolvent))
	return nil
}
