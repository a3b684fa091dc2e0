package chain

import "errors"

var (
	ErrWriteProtection     = errors.New("write protection")
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrNoCode              = errors.New("no contract code at address")
	ErrDepth               = errors.New("max call depth exceeded")
	ErrAddressInUse        = errors.New("contract address already in use")
	ErrLengthMismatch      = errors.New("length mismatch")
	ErrNegativeValue       = errors.New("negative value")
)
