package spigot_test

import (
	"errors"
	"math/big"
	"testing"

	"creditline/core/events"
	"creditline/native/credit"
	"creditline/native/spigot"
	"creditline/storage"
)

func addr(b byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = b
	}
	return a
}

// funcVenue lets each test script the external trade directly against the
// account store.
type funcVenue struct {
	fn func(data []byte) error
}

func (v *funcVenue) Execute(data []byte) error {
	if v.fn == nil {
		return nil
	}
	return v.fn(data)
}

const bridgeDeadline = int64(5_000)

type bridgeFixture struct {
	state    *storage.State
	credit   *credit.Engine
	ledger   *spigot.Ledger
	bridge   *spigot.Engine
	venue    *funcVenue
	recorder *events.Recorder
	now      int64

	lineAddr [20]byte
	borrower [20]byte
	arbiter  [20]byte
	lender   [20]byte
	operator [20]byte
	treasury [20]byte
	contract [20]byte
	maker    [20]byte
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		state:    storage.NewState(storage.NewMemDB()),
		venue:    &funcVenue{},
		recorder: events.NewRecorder(256),
		now:      1_000,
		lineAddr: addr(0x01),
		borrower: addr(0x02),
		arbiter:  addr(0x03),
		lender:   addr(0x04),
		operator: addr(0x05),
		treasury: addr(0x06),
		contract: addr(0x07),
		maker:    addr(0x08),
	}
	if err := f.state.Bootstrap(&credit.Line{
		Address:  f.lineAddr,
		Borrower: f.borrower,
		Arbiter:  f.arbiter,
		Deadline: bridgeDeadline,
		Status:   credit.StatusActive,
	}); err != nil {
		t.Fatalf("bootstrap line: %v", err)
	}
	for _, token := range []string{"DAI", "USDC"} {
		if err := f.state.SetTokenDecimals(token, 18); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}
	oracle := credit.NewStaticOracle()
	oracle.SetAnswer("DAI", big.NewInt(100))
	oracle.SetAnswer("USDC", big.NewInt(100))

	f.credit = credit.NewEngine()
	f.credit.SetState(f.state)
	f.credit.SetOracle(oracle)
	f.credit.SetInterestModel(credit.NewRateModel())
	f.credit.SetEmitter(f.recorder)
	f.credit.SetNowFunc(func() int64 { return f.now })

	f.ledger = spigot.NewLedger(f.operator, f.treasury)
	f.ledger.SetState(f.state)
	if err := f.ledger.Bootstrap(f.lineAddr); err != nil {
		t.Fatalf("bootstrap escrow: %v", err)
	}

	f.bridge = spigot.NewEngine(50)
	f.bridge.SetState(f.state)
	f.bridge.SetCreditEngine(f.credit)
	f.bridge.SetEscrow(f.ledger)
	f.bridge.SetVenue(f.venue)
	f.bridge.SetEmitter(f.recorder)
	return f
}

func (f *bridgeFixture) fund(t *testing.T, who [20]byte, token string, amount int64) {
	t.Helper()
	acc, err := f.state.GetAccount(who)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acc.SetBalance(token, big.NewInt(amount))
	if err := f.state.PutAccount(who, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func (f *bridgeFixture) balance(t *testing.T, who [20]byte, token string) *big.Int {
	t.Helper()
	acc, err := f.state.GetAccount(who)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance(token)
}

func (f *bridgeFixture) move(t *testing.T, from, to [20]byte, token string, amount int64) {
	t.Helper()
	fromAcc, err := f.state.GetAccount(from)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	toAcc, err := f.state.GetAccount(to)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	amt := big.NewInt(amount)
	fromAcc.SetBalance(token, new(big.Int).Sub(fromAcc.Balance(token), amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amt))
	if err := f.state.PutAccount(from, fromAcc); err != nil {
		t.Fatalf("put account: %v", err)
	}
	if err := f.state.PutAccount(to, toAcc); err != nil {
		t.Fatalf("put account: %v", err)
	}
}

func (f *bridgeFixture) unused(t *testing.T, token string) *big.Int {
	t.Helper()
	amount, err := f.state.GetUnused(token)
	if err != nil {
		t.Fatalf("get unused: %v", err)
	}
	return amount
}

// openAndBorrow funds the lender, opens a DAI position and draws from it.
func (f *bridgeFixture) openAndBorrow(t *testing.T, deposit, draw int64) [32]byte {
	t.Helper()
	f.fund(t, f.lender, "DAI", 1_000)
	amount := big.NewInt(deposit)
	if _, err := f.credit.AddCredit(f.lender, f.lender, "DAI", amount, 0, 0); err != nil {
		t.Fatalf("lender proposal: %v", err)
	}
	id, err := f.credit.AddCredit(f.borrower, f.lender, "DAI", amount, 0, 0)
	if err != nil {
		t.Fatalf("borrower acceptance: %v", err)
	}
	if err := f.credit.Borrow(f.borrower, id, big.NewInt(draw)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return id
}

// pledgeRevenue registers the revenue stream and routes one payment through
// it, leaving half escrowed for the line.
func (f *bridgeFixture) pledgeRevenue(t *testing.T, amount int64) {
	t.Helper()
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 50}
	if err := f.ledger.AddSpigot(f.lineAddr, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}
	payer := addr(0x09)
	f.fund(t, payer, "USDC", amount)
	if err := f.ledger.ReceiveRevenue(payer, f.contract, big.NewInt(amount)); err != nil {
		t.Fatalf("receive revenue: %v", err)
	}
}

func TestClaimAndTradeParksPurchase(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)
	f.fund(t, f.maker, "DAI", 500)
	f.venue.fn = func([]byte) error {
		f.move(t, f.maker, f.lineAddr, "DAI", 90)
		return nil
	}

	bought, err := f.bridge.ClaimAndTrade(f.borrower, "USDC", nil)
	if err != nil {
		t.Fatalf("claim and trade: %v", err)
	}
	if bought.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("bought = %s, want 90", bought)
	}
	if got := f.unused(t, "DAI"); got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("unused DAI = %s, want 90", got)
	}
	// The untraded claim stays available for the next trade.
	if got := f.unused(t, "USDC"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unused USDC = %s, want 100", got)
	}
}

func TestClaimAndRepayCapsAtDebt(t *testing.T) {
	f := newBridgeFixture(t)
	id := f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)
	f.fund(t, f.maker, "DAI", 500)
	f.venue.fn = func([]byte) error {
		f.move(t, f.maker, f.lineAddr, "DAI", 90)
		return nil
	}

	repaid, err := f.bridge.ClaimAndRepay(f.borrower, "USDC", nil)
	if err != nil {
		t.Fatalf("claim and repay: %v", err)
	}
	if repaid.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("repaid = %s, want the full 60 debt", repaid)
	}
	// unused_after = unused_before + bought - repaid.
	if got := f.unused(t, "DAI"); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("unused DAI = %s, want 30", got)
	}
	pos, err := f.credit.GetPosition(id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Principal.Sign() != 0 {
		t.Fatalf("principal = %s, want 0", pos.Principal)
	}
	if _, err := f.credit.FrontPosition(); !errors.Is(err, credit.ErrNotBorrowing) {
		t.Fatalf("front err = %v, want ErrNotBorrowing", err)
	}
}

func TestClaimAndRepaySpendsParkedSurplus(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)
	f.fund(t, f.maker, "DAI", 500)
	if err := f.state.PutUnused("DAI", big.NewInt(40)); err != nil {
		t.Fatalf("seed unused: %v", err)
	}
	f.venue.fn = func([]byte) error {
		f.move(t, f.maker, f.lineAddr, "DAI", 10)
		return nil
	}

	repaid, err := f.bridge.ClaimAndRepay(f.borrower, "USDC", nil)
	if err != nil {
		t.Fatalf("claim and repay: %v", err)
	}
	// 10 bought + 40 parked covers 50 of the 60 debt.
	if repaid.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("repaid = %s, want 50", repaid)
	}
	if got := f.unused(t, "DAI"); got.Sign() != 0 {
		t.Fatalf("unused DAI = %s, want 0", got)
	}
}

func TestClaimAndTradeRejectsStrangers(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)

	_, err := f.bridge.ClaimAndTrade(f.operator, "USDC", nil)
	if !errors.Is(err, credit.ErrCallerAccessDenied) {
		t.Fatalf("err = %v, want ErrCallerAccessDenied", err)
	}
}

func TestClaimAndTradeWithoutRevenue(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)

	_, err := f.bridge.ClaimAndTrade(f.borrower, "USDC", nil)
	if !errors.Is(err, spigot.ErrClaimFailed) {
		t.Fatalf("err = %v, want ErrClaimFailed", err)
	}
}

func TestTradeMustIncreaseTargetBalance(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)
	f.venue.fn = func([]byte) error { return nil }

	_, err := f.bridge.ClaimAndTrade(f.borrower, "USDC", nil)
	if !errors.Is(err, spigot.ErrTradeFailed) {
		t.Fatalf("err = %v, want ErrTradeFailed", err)
	}
}

func TestTradeCannotOverdrawCustody(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.pledgeRevenue(t, 200)
	f.fund(t, f.maker, "DAI", 500)
	// 60 claim-token custody on top of the fresh claim, only 50 of it parked.
	f.fund(t, f.lineAddr, "USDC", 60)
	if err := f.state.PutUnused("USDC", big.NewInt(50)); err != nil {
		t.Fatalf("seed unused: %v", err)
	}
	f.venue.fn = func([]byte) error {
		f.move(t, f.lineAddr, f.maker, "USDC", 160)
		f.move(t, f.maker, f.lineAddr, "DAI", 90)
		return nil
	}

	_, err := f.bridge.ClaimAndTrade(f.borrower, "USDC", nil)
	if !errors.Is(err, spigot.ErrTradeFailed) {
		t.Fatalf("err = %v, want ErrTradeFailed", err)
	}
}

func TestUpdateOwnerSplitTracksLineHealth(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 30}
	if err := f.ledger.AddSpigot(f.lineAddr, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}

	updated, err := f.bridge.UpdateOwnerSplit(f.contract)
	if err != nil {
		t.Fatalf("update split: %v", err)
	}
	if !updated {
		t.Fatalf("an active line must re-apply the default split")
	}
	got, ok := f.state.GetSetting(f.contract)
	if !ok {
		t.Fatalf("setting missing after update")
	}
	if got.OwnerSplit != 50 {
		t.Fatalf("split = %d, want the 50 default", got.OwnerSplit)
	}

	f.now = bridgeDeadline
	if _, err := f.bridge.UpdateOwnerSplit(f.contract); err != nil {
		t.Fatalf("update split past deadline: %v", err)
	}
	got, _ = f.state.GetSetting(f.contract)
	if got.OwnerSplit != 100 {
		t.Fatalf("split = %d, want 100 while liquidatable", got.OwnerSplit)
	}

	if err := f.credit.DeclareInsolvent(f.arbiter); err != nil {
		t.Fatalf("declare insolvent: %v", err)
	}
	updated, err = f.bridge.UpdateOwnerSplit(f.contract)
	if err != nil {
		t.Fatalf("update split when terminal: %v", err)
	}
	if updated {
		t.Fatalf("terminal lines must leave the split untouched")
	}
}

func TestReleaseAndSweepRouteToArbiter(t *testing.T) {
	f := newBridgeFixture(t)
	f.openAndBorrow(t, 100, 60)
	f.fund(t, f.lineAddr, "USDC", 30)
	if err := f.state.PutUnused("USDC", big.NewInt(30)); err != nil {
		t.Fatalf("seed unused: %v", err)
	}

	// Healthy and open: nothing to release or sweep.
	released, err := f.bridge.ReleaseSpigot(f.borrower)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Fatalf("an active line must keep the spigot")
	}
	swept, err := f.bridge.Sweep(f.borrower, "USDC")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Sign() != 0 {
		t.Fatalf("swept = %s, want 0", swept)
	}

	f.now = bridgeDeadline
	released, err = f.bridge.ReleaseSpigot(f.borrower)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Fatalf("a liquidatable line must release the spigot")
	}
	owner, err := f.ledger.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != f.arbiter {
		t.Fatalf("owner = %x, want arbiter", owner)
	}
	swept, err = f.bridge.Sweep(f.borrower, "USDC")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("swept = %s, want 30", swept)
	}
	if got := f.balance(t, f.arbiter, "USDC"); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("arbiter balance = %s, want 30", got)
	}
	if got := f.unused(t, "USDC"); got.Sign() != 0 {
		t.Fatalf("unused USDC = %s, want 0", got)
	}
}

func TestReleaseAndSweepRouteToBorrower(t *testing.T) {
	f := newBridgeFixture(t)
	id := f.openAndBorrow(t, 100, 60)
	f.fund(t, f.borrower, "DAI", 100)
	if err := f.credit.DepositAndRepay(f.borrower, big.NewInt(60)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.credit.Close(f.lender, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.fund(t, f.lineAddr, "USDC", 25)
	if err := f.state.PutUnused("USDC", big.NewInt(25)); err != nil {
		t.Fatalf("seed unused: %v", err)
	}

	released, err := f.bridge.ReleaseSpigot(f.borrower)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !released {
		t.Fatalf("a repaid line must release the spigot")
	}
	owner, err := f.ledger.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != f.borrower {
		t.Fatalf("owner = %x, want borrower", owner)
	}
	swept, err := f.bridge.Sweep(f.borrower, "USDC")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("swept = %s, want 25", swept)
	}
	if got := f.balance(t, f.borrower, "USDC"); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("borrower balance = %s, want 25", got)
	}
}

func TestWhitelistUpdatesAreArbiterOnly(t *testing.T) {
	f := newBridgeFixture(t)
	selector := [4]byte{0xde, 0xad, 0xbe, 0xef}

	err := f.bridge.UpdateWhitelistedFunction(f.borrower, selector, true)
	if !errors.Is(err, credit.ErrCallerAccessDenied) {
		t.Fatalf("err = %v, want ErrCallerAccessDenied", err)
	}
	if err := f.bridge.UpdateWhitelistedFunction(f.arbiter, selector, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if !f.ledger.Whitelisted(selector) {
		t.Fatalf("selector must be whitelisted")
	}
}
