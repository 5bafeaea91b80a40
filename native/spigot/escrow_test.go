package spigot_test

import (
	"errors"
	"math/big"
	"testing"

	"creditline/native/spigot"
	"creditline/storage"
)

type ledgerFixture struct {
	state    *storage.State
	ledger   *spigot.Ledger
	owner    [20]byte
	operator [20]byte
	treasury [20]byte
	contract [20]byte
	payer    [20]byte
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		state:    storage.NewState(storage.NewMemDB()),
		owner:    addr(0x01),
		operator: addr(0x05),
		treasury: addr(0x06),
		contract: addr(0x07),
		payer:    addr(0x09),
	}
	f.ledger = spigot.NewLedger(f.operator, f.treasury)
	f.ledger.SetState(f.state)
	if err := f.ledger.Bootstrap(f.owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return f
}

func (f *ledgerFixture) fund(t *testing.T, who [20]byte, token string, amount int64) {
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

func (f *ledgerFixture) balance(t *testing.T, who [20]byte, token string) *big.Int {
	t.Helper()
	acc, err := f.state.GetAccount(who)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance(token)
}

func TestAddSpigotOwnerOnly(t *testing.T) {
	f := newLedgerFixture(t)
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 40}

	err := f.ledger.AddSpigot(f.operator, setting)
	if !errors.Is(err, spigot.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
	if err := f.ledger.AddSpigot(f.owner, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}
	stored, ok := f.state.GetSetting(f.contract)
	if !ok {
		t.Fatalf("setting not stored")
	}
	if stored.Token != "USDC" || stored.OwnerSplit != 40 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestAddSpigotRejectsBadSplit(t *testing.T) {
	f := newLedgerFixture(t)
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 101}

	err := f.ledger.AddSpigot(f.owner, setting)
	if !errors.Is(err, spigot.ErrBadSplit) {
		t.Fatalf("err = %v, want ErrBadSplit", err)
	}
}

func TestReceiveRevenueSplitsPayment(t *testing.T) {
	f := newLedgerFixture(t)
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 40}
	if err := f.ledger.AddSpigot(f.owner, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}
	f.fund(t, f.payer, "USDC", 1_000)

	if err := f.ledger.ReceiveRevenue(f.payer, f.contract, big.NewInt(250)); err != nil {
		t.Fatalf("receive revenue: %v", err)
	}
	if got := f.balance(t, f.treasury, "USDC"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("treasury = %s, want 100", got)
	}
	if got := f.balance(t, f.operator, "USDC"); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("operator = %s, want 150", got)
	}
	escrowed, err := f.state.GetEscrowed("USDC")
	if err != nil {
		t.Fatalf("get escrowed: %v", err)
	}
	if escrowed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrowed = %s, want 100", escrowed)
	}
}

func TestReceiveRevenueUnknownContract(t *testing.T) {
	f := newLedgerFixture(t)
	f.fund(t, f.payer, "USDC", 100)

	err := f.ledger.ReceiveRevenue(f.payer, f.contract, big.NewInt(100))
	if !errors.Is(err, spigot.ErrNoSpigot) {
		t.Fatalf("err = %v, want ErrNoSpigot", err)
	}
}

func TestClaimDrainsEscrow(t *testing.T) {
	f := newLedgerFixture(t)
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 100}
	if err := f.ledger.AddSpigot(f.owner, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}
	f.fund(t, f.payer, "USDC", 500)
	if err := f.ledger.ReceiveRevenue(f.payer, f.contract, big.NewInt(500)); err != nil {
		t.Fatalf("receive revenue: %v", err)
	}

	claimed, err := f.ledger.Claim("USDC")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("claimed = %s, want 500", claimed)
	}
	if got := f.balance(t, f.owner, "USDC"); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("owner balance = %s, want 500", got)
	}

	// A drained escrow claims zero without failing.
	claimed, err = f.ledger.Claim("USDC")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("claimed = %s, want 0", claimed)
	}
}

func TestUpdateOwnerSplitValidation(t *testing.T) {
	f := newLedgerFixture(t)

	err := f.ledger.UpdateOwnerSplit(f.contract, 50)
	if !errors.Is(err, spigot.ErrNoSpigot) {
		t.Fatalf("err = %v, want ErrNoSpigot", err)
	}
	setting := &spigot.Setting{Contract: f.contract, Token: "USDC", OwnerSplit: 40}
	if err := f.ledger.AddSpigot(f.owner, setting); err != nil {
		t.Fatalf("add spigot: %v", err)
	}
	err = f.ledger.UpdateOwnerSplit(f.contract, 101)
	if !errors.Is(err, spigot.ErrBadSplit) {
		t.Fatalf("err = %v, want ErrBadSplit", err)
	}
	if err := f.ledger.UpdateOwnerSplit(f.contract, 75); err != nil {
		t.Fatalf("update split: %v", err)
	}
	stored, _ := f.state.GetSetting(f.contract)
	if stored.OwnerSplit != 75 {
		t.Fatalf("split = %d, want 75", stored.OwnerSplit)
	}
}

func TestUpdateOwnerHandsOff(t *testing.T) {
	f := newLedgerFixture(t)
	next := addr(0x0a)

	if err := f.ledger.UpdateOwner(next); err != nil {
		t.Fatalf("update owner: %v", err)
	}
	owner, err := f.ledger.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != next {
		t.Fatalf("owner = %x, want %x", owner, next)
	}
}
