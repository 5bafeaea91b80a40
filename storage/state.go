package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"creditline/core/types"
	"creditline/native/credit"
	"creditline/native/spigot"
)

// Key prefixes for the persisted record families.
const (
	keyLine         = "credit/line"
	prefixPosition  = "credit/position/"
	prefixConsent   = "credit/consent/"
	prefixAccount   = "account/"
	prefixToken     = "token/"
	prefixUnused    = "spigot/unused/"
	prefixSetting   = "spigot/setting/"
	prefixEscrowed  = "spigot/escrowed/"
	prefixWhitelist = "spigot/whitelist/"
	keyEscrowOwner  = "spigot/owner"
)

// State persists the credit line, its positions and accounts, and the revenue
// bridge's balances over a flat key-value Database. It backs the state
// interfaces of both native engines and the revenue ledger.
type State struct {
	db Database
}

// NewState wraps a database in a ledger state store.
func NewState(db Database) *State {
	return &State{db: db}
}

func (s *State) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), raw)
}

// getJSON loads key into v, reporting whether the record exists.
func (s *State) getJSON(key string, v interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

// Bootstrap installs the line aggregate when the store is empty. An existing
// line is left untouched.
func (s *State) Bootstrap(line *credit.Line) error {
	ok, err := s.db.Has([]byte(keyLine))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.PutLine(line)
}

// --- credit engine state ---

func (s *State) GetLine() (*credit.Line, error) {
	line := &credit.Line{}
	ok, err := s.getJSON(keyLine, line)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return line, nil
}

func (s *State) PutLine(line *credit.Line) error {
	return s.putJSON(keyLine, line)
}

func (s *State) GetPosition(id [32]byte) (*credit.Position, bool) {
	pos := &credit.Position{}
	ok, err := s.getJSON(prefixPosition+hex.EncodeToString(id[:]), pos)
	if err != nil || !ok {
		return nil, false
	}
	return pos, true
}

func (s *State) PutPosition(pos *credit.Position) error {
	if pos == nil {
		return errors.New("storage: nil position")
	}
	return s.putJSON(prefixPosition+hex.EncodeToString(pos.ID[:]), pos)
}

func (s *State) DeletePosition(id [32]byte) error {
	return s.db.Delete([]byte(prefixPosition + hex.EncodeToString(id[:])))
}

func (s *State) ConsentHas(hash [32]byte) bool {
	ok, err := s.db.Has([]byte(prefixConsent + hex.EncodeToString(hash[:])))
	return err == nil && ok
}

func (s *State) ConsentPut(hash [32]byte) error {
	return s.db.Put([]byte(prefixConsent+hex.EncodeToString(hash[:])), []byte{0x01})
}

func (s *State) ConsentDelete(hash [32]byte) error {
	return s.db.Delete([]byte(prefixConsent + hex.EncodeToString(hash[:])))
}

func (s *State) GetAccount(addr [20]byte) (*types.Account, error) {
	acc := types.NewAccount()
	ok, err := s.getJSON(prefixAccount+hex.EncodeToString(addr[:]), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return acc, nil
}

func (s *State) PutAccount(addr [20]byte, acc *types.Account) error {
	if acc == nil {
		acc = types.NewAccount()
	}
	return s.putJSON(prefixAccount+hex.EncodeToString(addr[:]), acc)
}

// SetTokenDecimals registers a token's display precision.
func (s *State) SetTokenDecimals(symbol string, decimals uint8) error {
	normalized, err := credit.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	return s.putJSON(prefixToken+normalized, decimals)
}

func (s *State) TokenDecimals(symbol string) (uint8, bool) {
	var decimals uint8
	ok, err := s.getJSON(prefixToken+symbol, &decimals)
	if err != nil || !ok {
		return 0, false
	}
	return decimals, true
}

// --- spigot bridge state ---

func (s *State) GetUnused(token string) (*big.Int, error) {
	return s.getAmount(prefixUnused + token)
}

func (s *State) PutUnused(token string, amount *big.Int) error {
	return s.putAmount(prefixUnused+token, amount)
}

// --- revenue ledger state ---

func (s *State) GetSetting(contract [20]byte) (*spigot.Setting, bool) {
	setting := &spigot.Setting{}
	ok, err := s.getJSON(prefixSetting+hex.EncodeToString(contract[:]), setting)
	if err != nil || !ok {
		return nil, false
	}
	return setting, true
}

func (s *State) PutSetting(setting *spigot.Setting) error {
	if setting == nil {
		return errors.New("storage: nil spigot setting")
	}
	return s.putJSON(prefixSetting+hex.EncodeToString(setting.Contract[:]), setting)
}

func (s *State) DeleteSetting(contract [20]byte) error {
	return s.db.Delete([]byte(prefixSetting + hex.EncodeToString(contract[:])))
}

func (s *State) GetEscrowed(token string) (*big.Int, error) {
	return s.getAmount(prefixEscrowed + token)
}

func (s *State) PutEscrowed(token string, amount *big.Int) error {
	return s.putAmount(prefixEscrowed+token, amount)
}

func (s *State) GetWhitelist(selector [4]byte) bool {
	var allowed bool
	ok, err := s.getJSON(prefixWhitelist+hex.EncodeToString(selector[:]), &allowed)
	return err == nil && ok && allowed
}

func (s *State) PutWhitelist(selector [4]byte, allowed bool) error {
	return s.putJSON(prefixWhitelist+hex.EncodeToString(selector[:]), allowed)
}

func (s *State) GetEscrowOwner() ([20]byte, bool) {
	var raw string
	ok, err := s.getJSON(keyEscrowOwner, &raw)
	if err != nil || !ok {
		return [20]byte{}, false
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 20 {
		return [20]byte{}, false
	}
	var owner [20]byte
	copy(owner[:], decoded)
	return owner, true
}

func (s *State) PutEscrowOwner(owner [20]byte) error {
	return s.putJSON(keyEscrowOwner, hex.EncodeToString(owner[:]))
}

// --- amount helpers ---

func (s *State) getAmount(key string) (*big.Int, error) {
	var raw string
	ok, err := s.getJSON(key, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	amount, valid := new(big.Int).SetString(raw, 10)
	if !valid {
		return nil, errors.New("storage: corrupt amount record " + key)
	}
	return amount, nil
}

func (s *State) putAmount(key string, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return s.putJSON(key, amount.String())
}
