package wallet

import "errors"

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = errors.New("insufficient credit balance")
	ErrDuplicateReference  = errors.New("transaction with this reference already exists")
	ErrMissingReference    = errors.New("reference id is required")
	ErrTransactionNotFound = errors.New("transaction not found")
)
