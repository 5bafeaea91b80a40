package spigot

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"creditline/core/types"
)

var (
	// ErrFunctionNotWhitelisted indicates the venue call data named a
	// selector the arbiter has not approved.
	ErrFunctionNotWhitelisted = errors.New("spigot venue: function not whitelisted")

	errShortCallData = errors.New("spigot venue: call data shorter than a selector")
)

type venueState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// FunctionWhitelist gates which venue functions may be invoked with line
// funds.
type FunctionWhitelist interface {
	Whitelisted(selector [4]byte) bool
}

// TransferCall is the payload of a LedgerVenue invocation: a token movement
// between ledger accounts, addresses hex encoded.
type TransferCall struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// EncodeCall packs a selector and payload into venue call data.
func EncodeCall(selector [4]byte, call TransferCall) ([]byte, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	return append(selector[:], payload...), nil
}

// LedgerVenue executes trades directly against ledger accounts. Call data is
// a 4-byte selector followed by a JSON TransferCall; the selector must be
// whitelisted before the transfer runs.
type LedgerVenue struct {
	state     venueState
	whitelist FunctionWhitelist
}

func NewLedgerVenue(state venueState, whitelist FunctionWhitelist) *LedgerVenue {
	return &LedgerVenue{state: state, whitelist: whitelist}
}

// Execute decodes and applies a TransferCall. The whitelist is consulted
// before any balance moves.
func (v *LedgerVenue) Execute(data []byte) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if len(data) < 4 {
		return errShortCallData
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	if v.whitelist == nil || !v.whitelist.Whitelisted(selector) {
		return ErrFunctionNotWhitelisted
	}
	var call TransferCall
	if err := json.Unmarshal(data[4:], &call); err != nil {
		return fmt.Errorf("spigot venue: decode call: %w", err)
	}
	from, err := decodeVenueAddress(call.From)
	if err != nil {
		return err
	}
	to, err := decodeVenueAddress(call.To)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(call.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("spigot venue: invalid amount %q", call.Amount)
	}
	token := strings.ToUpper(strings.TrimSpace(call.Token))
	if token == "" {
		return fmt.Errorf("spigot venue: missing token")
	}
	fromAcc, err := v.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance(token).Cmp(amount) < 0 {
		return fmt.Errorf("spigot venue: insufficient %s balance", token)
	}
	toAcc, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(fromAcc.Balance(token), amount))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	if err := v.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return v.state.PutAccount(to, toAcc)
}

func decodeVenueAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("spigot venue: invalid address %q", value)
	}
	copy(addr[:], decoded)
	return addr, nil
}
