package core

import (
	"errors"
)

// Errors shared by the state, persistence and execution layers.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrContractDoesNotExist = errors.New("contract does not exist")
	ErrMethodNotFound       = errors.New("method not found")
	ErrExecutionReverted    = errors.New("execution reverted")
	ErrCodeAlreadySet       = errors.New("contract code already set")
	ErrCodeTooLarge         = errors.New("contract code too large")
	ErrInvalidCode          = errors.New("invalid contract code")
)
