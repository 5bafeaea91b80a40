package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"creditline/native/spigot"
)

func parseCallData(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid call data: %w", err)
	}
	return decoded, nil
}

func parseSelector(value string) ([4]byte, error) {
	var selector [4]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return selector, fmt.Errorf("invalid selector: %w", err)
	}
	if len(decoded) != 4 {
		return selector, fmt.Errorf("selector must be 4 bytes")
	}
	copy(selector[:], decoded)
	return selector, nil
}

func (s *Server) handleClaimAndTrade(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		ClaimToken string `json:"claimToken"`
		Data       string `json:"data"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	data, err := parseCallData(params.Data)
	if err != nil {
		return nil, err
	}
	bought, err := s.spigot.ClaimAndTrade(caller, params.ClaimToken, data)
	if err != nil {
		return nil, err
	}
	return map[string]string{"tokensBought": bought.String()}, nil
}

func (s *Server) handleClaimAndRepay(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		ClaimToken string `json:"claimToken"`
		Data       string `json:"data"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	data, err := parseCallData(params.Data)
	if err != nil {
		return nil, err
	}
	repaid, err := s.spigot.ClaimAndRepay(caller, params.ClaimToken, data)
	if err != nil {
		return nil, err
	}
	return map[string]string{"repaid": repaid.String()}, nil
}

func (s *Server) handleUpdateOwnerSplit(req *RPCRequest) (interface{}, error) {
	var params struct {
		Contract string `json:"contract"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		return nil, err
	}
	updated, err := s.spigot.UpdateOwnerSplit(contract)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"updated": updated}, nil
}

func (s *Server) handleReleaseSpigot(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller string `json:"caller"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	released, err := s.spigot.ReleaseSpigot(caller)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"released": released}, nil
}

func (s *Server) handleSweep(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller string `json:"caller"`
		Token  string `json:"token"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	swept, err := s.spigot.Sweep(caller, params.Token)
	if err != nil {
		return nil, err
	}
	return map[string]string{"swept": swept.String()}, nil
}

func (s *Server) handleUpdateWhitelistedFunction(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller   string `json:"caller"`
		Selector string `json:"selector"`
		Allowed  bool   `json:"allowed"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	selector, err := parseSelector(params.Selector)
	if err != nil {
		return nil, err
	}
	if err := s.spigot.UpdateWhitelistedFunction(caller, selector, params.Allowed); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAddSpigot(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		Contract   string `json:"contract"`
		Token      string `json:"token"`
		OwnerSplit uint8  `json:"ownerSplit"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		return nil, err
	}
	setting := &spigot.Setting{Contract: contract, Token: params.Token, OwnerSplit: params.OwnerSplit}
	if err := s.ledger.AddSpigot(caller, setting); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleReceiveRevenue(req *RPCRequest) (interface{}, error) {
	var params struct {
		Payer    string `json:"payer"`
		Contract string `json:"contract"`
		Amount   string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	payer, err := parseAddress(params.Payer)
	if err != nil {
		return nil, err
	}
	contract, err := parseAddress(params.Contract)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.ReceiveRevenue(payer, contract, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
