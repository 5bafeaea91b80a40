package credit

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// The mutual-consent gate is a two-party commit protocol: the first authorised
// caller records intent keyed by the exact call parameters, and the action
// executes only when the counterparty calls with matching parameters.
// Differing parameters hash to different keys and never cross-satisfy; a
// repeated call by the same proposer simply refreshes the intent.

// consentKey hashes the operation name, its parameters and the party whose
// agreement the record represents.
func consentKey(op string, party [20]byte, params ...[]byte) [32]byte {
	data := make([][]byte, 0, len(params)+2)
	data = append(data, []byte(op))
	data = append(data, params...)
	data = append(data, party[:])
	return ethcrypto.Keccak256Hash(data...)
}

func consentAmount(v *big.Int) []byte {
	if v == nil {
		return []byte{}
	}
	return v.Bytes()
}

func consentUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// mutualConsent evaluates the gate for a proposal between caller and
// counterparty. When the counterparty has already agreed to identical
// parameters it returns true along with the key of the recorded intent. The
// intent is NOT consumed here: the operation deletes the key only once its
// remaining checks and transfers have succeeded, so an aborted attempt leaves
// the agreement standing for a retry. Otherwise the caller's own intent is
// recorded under its key and false is returned; the surrounding operation must
// then finish without executing.
func (e *Engine) mutualConsent(caller, counterparty [20]byte, op string, params ...[]byte) (bool, [32]byte, error) {
	var zero [32]byte
	if e == nil || e.state == nil {
		return false, zero, errNilState
	}
	expected := consentKey(op, counterparty, params...)
	if e.state.ConsentHas(expected) {
		return true, expected, nil
	}
	recorded := consentKey(op, caller, params...)
	if err := e.state.ConsentPut(recorded); err != nil {
		return false, zero, err
	}
	e.emit(NewConsentRegisteredEvent(recorded, caller, counterparty))
	return false, zero, nil
}
