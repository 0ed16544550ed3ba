package subscription

import "errors"

var (
	ErrStateNotFound  = errors.New("subscription state not found")
	ErrUnknownEvent   = errors.New("unknown subscription event")
	ErrMissingSubject = errors.New("subscription event missing subscription id")
)
