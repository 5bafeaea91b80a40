package credit

import "errors"

var (
	errNilState   = errors.New("credit engine: state not configured")
	errNilLine    = errors.New("credit engine: line not initialised")
	errBadAmount  = errors.New("credit engine: amount must be positive")

	// ErrCallerAccessDenied rejects callers outside the lender/borrower/arbiter
	// scope of an action.
	ErrCallerAccessDenied = errors.New("credit engine: caller access denied")
	// ErrPositionExists rejects duplicate creation for an existing
	// {line, lender, token} triple.
	ErrPositionExists = errors.New("credit engine: position exists")
	// ErrPositionNotFound is returned when the referenced position id is not
	// part of the ledger.
	ErrPositionNotFound = errors.New("credit engine: position not found")
	// ErrNoTokenPrice is returned when the oracle has no positive price for
	// the token at position creation.
	ErrNoTokenPrice = errors.New("credit engine: no token price")
	// ErrNoLiquidity rejects draws and withdrawals exceeding the available
	// balance.
	ErrNoLiquidity = errors.New("credit engine: insufficient liquidity")
	// ErrNotActive rejects actions that require ACTIVE status, or that would
	// themselves push the line out of ACTIVE.
	ErrNotActive = errors.New("credit engine: line not active")
	// ErrCloseFailedWithPrincipal rejects closing a position while principal
	// remains outstanding.
	ErrCloseFailedWithPrincipal = errors.New("credit engine: close failed, principal outstanding")
	// ErrTransferFailed indicates a token movement could not be completed.
	ErrTransferFailed = errors.New("credit engine: transfer failed")
	// ErrNotBorrowing rejects actions that require at least one drawn
	// position.
	ErrNotBorrowing = errors.New("credit engine: no drawn position")
	// ErrRepayExceedsDebt rejects repayments larger than the outstanding
	// principal plus accrued interest.
	ErrRepayExceedsDebt = errors.New("credit engine: repayment exceeds outstanding debt")
)
