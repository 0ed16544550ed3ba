package checkout

import "errors"

var (
	ErrInvalidCredits       = errors.New("credit amount out of range")
	ErrRetentionAlreadyUsed = errors.New("retention discount already used")
	ErrPackageNotFound      = errors.New("credit package not found")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
)
