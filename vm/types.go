// Package vm is the contract execution engine. It runs CREATE and CALL
// invocations against a snapshot of the state repository, hands the contract
// code to a Dispatcher and turns whatever happens into a Result.
package vm

//go:generate mockgen -source=types.go -destination=vm_mock.go -package=vm

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/bloom"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/persistence"
	"github.com/govm-net/scvm/settlement"
)

// ConstructorEntry is the entry point invoked when a contract is created.
const ConstructorEntry = "constructor"

// Block is the block an invocation is executed in.
type Block struct {
	Height   uint64
	Coinbase core.Address
}

// Message describes the invocation as seen by contract code.
type Message struct {
	ContractAddress core.Address
	Sender          core.Address
	Value           uint64
	GasLimit        uint64
}

// ExecutionContext is everything a Dispatcher may use while running one
// entry point.
type ExecutionContext struct {
	Block      Block
	Message    Message
	Method     string
	Parameters []carrier.Parameter
	State      *persistence.PersistentState
	Meter      *gas.Meter
	Prices     gas.PriceList
}

// VMResult is what a Dispatcher reports back.
type VMResult struct {
	// Revert is set when the contract signalled failure.
	Revert            bool
	ReturnValue       []byte
	InternalTransfers []core.Transfer
	Logs              []core.Log
}

// ValidationResult is the verdict of a Validator.
type ValidationResult struct {
	IsValid     bool
	Diagnostics []string
}

// Dispatcher runs an entry point of contract code. Out-of-gas conditions
// may be raised either as a panic from ec.Meter or as a returned error.
// A Dispatcher charges ec.Prices.TransferCost for each transfer before
// recording it in the VMResult.
type Dispatcher interface {
	Invoke(ctx context.Context, code []byte, entry string, ec *ExecutionContext) (*VMResult, error)
}

// Validator checks contract code before it is deployed.
type Validator interface {
	Validate(code []byte) ValidationResult
}

// ErrorKind classifies the outcome of an execution.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	// ErrorKindValidationFailed means the code of a create was rejected.
	// It is not a revert.
	ErrorKindValidationFailed
	// ErrorKindContractDoesNotExist means a call targeted an address
	// without code.
	ErrorKindContractDoesNotExist
	// ErrorKindOutOfGas means the gas budget ran out during execution.
	ErrorKindOutOfGas
	// ErrorKindReverted means the contract signalled failure.
	ErrorKindReverted
	// ErrorKindExecutionFailed covers VM errors, panics and failed
	// internal transfers.
	ErrorKindExecutionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindValidationFailed:
		return "validation failed"
	case ErrorKindContractDoesNotExist:
		return "contract does not exist"
	case ErrorKindOutOfGas:
		return "out of gas"
	case ErrorKindReverted:
		return "reverted"
	case ErrorKindExecutionFailed:
		return "execution failed"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Result is the outcome of one invocation. It is owned by the caller once
// Execute returns.
type Result struct {
	Kind ErrorKind
	// Exception is the recorded failure, nil on success and on validation
	// failure.
	Exception          error
	Diagnostics        []string
	Revert             bool
	GasConsumed        uint64
	NewContractAddress *core.Address
	ReturnValue        []byte
	Logs               []core.Log
	Bloom              bloom.Bloom

	// InternalTransaction is the condensing or refund transaction, if any.
	InternalTransaction *wire.MsgTx
	Fee                 uint64
	Refunds             []settlement.Refund
}

// Succeeded reports whether the invocation's state changes were committed.
func (r *Result) Succeeded() bool {
	return r.Kind == ErrorKindNone && !r.Revert
}
