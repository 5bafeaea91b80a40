package rpc

import (
	"encoding/hex"
	"fmt"

	"creditline/native/credit"
)

type positionResult struct {
	ID              string `json:"id"`
	Lender          string `json:"lender"`
	Token           string `json:"token"`
	Deposit         string `json:"deposit"`
	Principal       string `json:"principal"`
	InterestAccrued string `json:"interestAccrued"`
	InterestRepaid  string `json:"interestRepaid"`
	Outstanding     string `json:"outstanding"`
}

func newPositionResult(pos *credit.Position) *positionResult {
	return &positionResult{
		ID:              "0x" + hex.EncodeToString(pos.ID[:]),
		Lender:          "0x" + hex.EncodeToString(pos.Lender[:]),
		Token:           pos.Token,
		Deposit:         pos.Deposit.String(),
		Principal:       pos.Principal.String(),
		InterestAccrued: pos.InterestAccrued.String(),
		InterestRepaid:  pos.InterestRepaid.String(),
		Outstanding:     pos.Outstanding().String(),
	}
}

type lineResult struct {
	Address  string   `json:"address"`
	Borrower string   `json:"borrower"`
	Arbiter  string   `json:"arbiter"`
	Deadline int64    `json:"deadline"`
	Status   string   `json:"status"`
	Queue    []string `json:"queue"`
}

func newLineResult(line *credit.Line) *lineResult {
	queue := make([]string, 0, len(line.Queue))
	for _, id := range line.Queue {
		queue = append(queue, "0x"+hex.EncodeToString(id[:]))
	}
	return &lineResult{
		Address:  "0x" + hex.EncodeToString(line.Address[:]),
		Borrower: "0x" + hex.EncodeToString(line.Borrower[:]),
		Arbiter:  "0x" + hex.EncodeToString(line.Arbiter[:]),
		Deadline: line.Deadline,
		Status:   line.Status.String(),
		Queue:    queue,
	}
}

func (s *Server) handleAddCredit(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller      string `json:"caller"`
		Lender      string `json:"lender"`
		Token       string `json:"token"`
		Amount      string `json:"amount"`
		DrawnBps    uint64 `json:"drawnBps"`
		FacilityBps uint64 `json:"facilityBps"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	lender, err := parseAddress(params.Lender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	id, err := s.credit.AddCredit(caller, lender, params.Token, amount, params.DrawnBps, params.FacilityBps)
	if err != nil {
		return nil, err
	}
	return map[string]string{"positionId": "0x" + hex.EncodeToString(id[:])}, nil
}

func (s *Server) handleIncreaseCredit(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller       string `json:"caller"`
		PositionID   string `json:"positionId"`
		Amount       string `json:"amount"`
		PrincipalOut string `json:"principalOut"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	principalOut, err := parseAmount(params.PrincipalOut)
	if err != nil {
		return nil, err
	}
	if err := s.credit.IncreaseCredit(caller, id, amount, principalOut); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleBorrow(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		PositionID string `json:"positionId"`
		Amount     string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.credit.Borrow(caller, id, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleDepositAndRepay(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.credit.DepositAndRepay(caller, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleDepositAndClose(req *RPCRequest) (interface{}, error) {
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
	if err := s.credit.DepositAndClose(caller); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWithdraw(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		PositionID string `json:"positionId"`
		Amount     string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.credit.Withdraw(caller, id, amount); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleClose(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller     string `json:"caller"`
		PositionID string `json:"positionId"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	if err := s.credit.Close(caller, id); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetRates(req *RPCRequest) (interface{}, error) {
	var params struct {
		Caller      string `json:"caller"`
		PositionID  string `json:"positionId"`
		DrawnBps    uint64 `json:"drawnBps"`
		FacilityBps uint64 `json:"facilityBps"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	if err := s.credit.SetRates(caller, id, params.DrawnBps, params.FacilityBps); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAccrueInterest(req *RPCRequest) (interface{}, error) {
	var params struct {
		PositionID string `json:"positionId"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	if err := s.credit.AccrueInterest(id); err != nil {
		return nil, err
	}
	pos, err := s.credit.GetPosition(id)
	if err != nil {
		return nil, err
	}
	return newPositionResult(pos), nil
}

func (s *Server) handleHealthCheck(req *RPCRequest) (interface{}, error) {
	status, err := s.credit.HealthCheck()
	if err != nil {
		return nil, err
	}
	return map[string]string{"status": status.String()}, nil
}

func (s *Server) handleOutstandingDebt(req *RPCRequest) (interface{}, error) {
	principal, interest, err := s.credit.UpdateOutstandingDebt()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"principalValue": principal.String(),
		"interestValue":  interest.String(),
	}, nil
}

func (s *Server) handleDeclareInsolvent(req *RPCRequest) (interface{}, error) {
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
	if err := s.credit.DeclareInsolvent(caller); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGetPosition(req *RPCRequest) (interface{}, error) {
	var params struct {
		PositionID string `json:"positionId"`
	}
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseID(params.PositionID)
	if err != nil {
		return nil, err
	}
	pos, err := s.credit.GetPosition(id)
	if err != nil {
		return nil, err
	}
	return newPositionResult(pos), nil
}

func (s *Server) handleGetLine(req *RPCRequest) (interface{}, error) {
	line, err := s.credit.Line()
	if err != nil {
		return nil, err
	}
	return newLineResult(line), nil
}

type eventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEvents(req *RPCRequest) (interface{}, error) {
	if s.recorder == nil {
		return nil, fmt.Errorf("event recorder not configured")
	}
	recorded := s.recorder.Events()
	out := make([]eventResult, 0, len(recorded))
	for _, evt := range recorded {
		out = append(out, eventResult{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out, nil
}
