package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/scvm/bloom"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/persistence"
	"github.com/govm-net/scvm/settlement"
	"github.com/govm-net/scvm/state"
	"github.com/govm-net/scvm/store"
)

// ErrNotContractExec is returned for invocations that are neither create
// nor call.
var ErrNotContractExec = errors.New("invocation is not a create or call")

// Engine is responsible for contract deployment and execution. It keeps no
// per-invocation state, but invocations sharing a root must be executed one
// at a time and in block order.
type Engine struct {
	config     *Config
	dispatcher Dispatcher
	validator  Validator
	builder    *settlement.Builder
}

// NewEngine creates a new contract engine
func NewEngine(config *Config, dispatcher Dispatcher, validator Validator) (*Engine, error) {
	// Ensure configuration is valid
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is nil")
	}

	return &Engine{
		config:     config,
		dispatcher: dispatcher,
		validator:  validator,
		builder:    settlement.NewBuilder(config.Network),
	}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// execution carries one invocation through the engine.
type execution struct {
	inv      *carrier.Invocation
	block    Block
	snapshot *state.Repository
	meter    *gas.Meter
	result   *Result
	contract core.Address
	// set only when the entry point completed and its effects are applied
	succeeded *VMResult
}

// Execute runs inv in a child snapshot of root and commits the snapshot
// into root if the invocation succeeds. Failures of the invocation itself
// are reported in the Result; an error is returned only when the state
// repository is broken and the enclosing block must be abandoned.
//
// Fee processing runs when mempoolFee is non-zero.
func (e *Engine) Execute(ctx context.Context, root *state.Repository, inv *carrier.Invocation, block Block, mempoolFee uint64) (*Result, error) {
	if inv == nil || (inv.OpCode != carrier.OpCreateContract && inv.OpCode != carrier.OpCallContract) {
		return nil, ErrNotContractExec
	}
	log := slog.With("tx", inv.TxHash.String(), "op", inv.OpCode.String())

	snapshot, err := startTracking(root)
	if err != nil {
		return nil, err
	}
	x := &execution{
		inv:      inv,
		block:    block,
		snapshot: snapshot,
		meter:    gas.NewMeter(inv.GasLimit),
		result:   &Result{},
	}

	if err := e.run(ctx, x); err != nil {
		abandon(snapshot)
		log.Error("execution aborted", "error", err)
		return nil, err
	}

	result := x.result
	if x.succeeded != nil {
		if err := e.commit(x); err != nil {
			abandon(snapshot)
			log.Error("failed to settle execution", "error", err)
			return nil, err
		}
	} else {
		if err := snapshot.Rollback(); err != nil {
			return nil, fmt.Errorf("failed to roll back: %w", err)
		}
		if inv.Value > 0 {
			tx, err := e.builder.CreateRefundTransaction(inv)
			if err != nil {
				return nil, fmt.Errorf("failed to build refund: %w", err)
			}
			result.InternalTransaction = tx
		}
	}

	result.GasConsumed = x.meter.Consumed()
	if result.Kind == ErrorKindOutOfGas {
		result.GasConsumed = inv.GasLimit
	}
	if mempoolFee > 0 {
		fees := settlement.ProcessFees(inv, result.GasConsumed, result.Kind == ErrorKindOutOfGas, mempoolFee)
		result.Fee = fees.Fee
		result.Refunds = fees.Refunds
	}

	log.Info("invocation executed",
		"contract", x.contract,
		"kind", result.Kind.String(),
		"revert", result.Revert,
		"gas_consumed", result.GasConsumed,
		"fee", result.Fee)
	return result, nil
}

func startTracking(root *state.Repository) (snapshot *state.Repository, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asError(r)
		}
	}()
	return root.StartTracking(), nil
}

func abandon(snapshot *state.Repository) {
	if !snapshot.Closed() {
		_ = snapshot.Rollback()
	}
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

// run performs pre-execute and dispatch. Panics raised by the meter, the
// dispatcher or contract code become failures on the result; only broken
// repository state is returned.
func (e *Engine) run(ctx context.Context, x *execution) (fault error) {
	defer func() {
		if r := recover(); r != nil {
			err := asError(r)
			if state.IsFault(err) {
				fault = err
				return
			}
			x.succeeded = nil
			x.fail(err)
		}
	}()

	x.meter.Spend(e.config.Prices.BaseCost)
	if x.inv.IsCreate() {
		return e.create(ctx, x)
	}
	return e.call(ctx, x)
}

func (x *execution) fail(err error) {
	x.result.Revert = true
	x.result.Exception = err
	if gas.IsOutOfGas(err) || x.meter.Exhausted() {
		x.result.Kind = ErrorKindOutOfGas
		return
	}
	x.result.Kind = ErrorKindExecutionFailed
}

func (e *Engine) create(ctx context.Context, x *execution) error {
	code := x.inv.ContractCode
	x.contract = core.NewContractAddress(x.inv.TxHash[:], 0)

	x.meter.Spend(e.config.Prices.Validation(code))
	verdict := e.validate(code)
	if !verdict.IsValid {
		slog.Debug("contract code rejected", "contract", x.contract, "diagnostics", verdict.Diagnostics)
		x.result.Kind = ErrorKindValidationFailed
		x.result.Diagnostics = verdict.Diagnostics
		return nil
	}

	x.snapshot.CreateAccount(x.contract)
	if err := e.dispatch(ctx, x, code, ConstructorEntry); err != nil || x.succeeded == nil {
		return err
	}
	if err := x.snapshot.SetCode(x.contract, code); err != nil {
		x.succeeded = nil
		x.fail(err)
		return nil
	}
	addr := x.contract
	x.result.NewContractAddress = &addr
	return nil
}

func (e *Engine) validate(code []byte) ValidationResult {
	if len(code) == 0 {
		return ValidationResult{Diagnostics: []string{core.ErrInvalidCode.Error()}}
	}
	if len(code) > e.config.MaxCodeSize {
		return ValidationResult{Diagnostics: []string{
			fmt.Sprintf("%v: %d bytes, limit %d", core.ErrCodeTooLarge, len(code), e.config.MaxCodeSize),
		}}
	}
	return e.validator.Validate(code)
}

func (e *Engine) call(ctx context.Context, x *execution) error {
	x.contract = x.inv.ContractAddress
	code := x.snapshot.GetCode(x.contract)
	if code == nil {
		x.result.Kind = ErrorKindContractDoesNotExist
		x.result.Exception = fmt.Errorf("%s: %w", x.contract, core.ErrContractDoesNotExist)
		x.result.Revert = true
		return nil
	}
	return e.dispatch(ctx, x, code, x.inv.MethodName)
}

// dispatch credits the carried value, runs entry and applies the reported
// transfers. x.succeeded is set only if all of that worked.
func (e *Engine) dispatch(ctx context.Context, x *execution, code []byte, entry string) error {
	x.meter.Spend(e.config.Prices.MethodCallCost)
	if x.inv.Value > 0 {
		if err := x.snapshot.AddBalance(x.contract, x.inv.Value); err != nil {
			x.fail(err)
			return nil
		}
	}

	ec := &ExecutionContext{
		Block: x.block,
		Message: Message{
			ContractAddress: x.contract,
			Sender:          x.inv.Sender,
			Value:           x.inv.Value,
			GasLimit:        x.inv.GasLimit,
		},
		Method:     entry,
		Parameters: x.inv.Parameters,
		State:      persistence.New(x.snapshot, x.contract, x.meter, e.config.Prices, e.config.KeyEncoding),
		Meter:      x.meter,
		Prices:     e.config.Prices,
	}
	slog.Debug("dispatching", "contract", x.contract, "entry", entry, "gas_remaining", x.meter.Remaining())

	res, err := e.dispatcher.Invoke(ctx, code, entry, ec)
	if err != nil {
		if state.IsFault(err) {
			return err
		}
		x.fail(err)
		return nil
	}
	if res == nil {
		res = &VMResult{}
	}
	if res.Revert {
		x.result.Revert = true
		x.result.Kind = ErrorKindReverted
		x.result.ReturnValue = res.ReturnValue
		return nil
	}

	applied, err := e.applyTransfers(x, res.InternalTransfers)
	if err != nil {
		x.fail(err)
		return nil
	}
	res.InternalTransfers = applied
	x.succeeded = res
	return nil
}

// applyTransfers moves balances for the transfers reported by the VM and
// returns the ones with a net effect. Transfers to addresses without code
// leave the contract entirely and are paid out by the condensing
// transaction.
func (e *Engine) applyTransfers(x *execution, transfers []core.Transfer) ([]core.Transfer, error) {
	var applied []core.Transfer
	for _, t := range transfers {
		if t.From != x.contract {
			return nil, fmt.Errorf("transfer from %s by %s: %w", t.From, x.contract, core.ErrInvalidArgument)
		}
		if t.Value == 0 || t.To == t.From {
			continue
		}
		if x.snapshot.GetCode(t.To) != nil {
			if err := x.snapshot.Transfer(t.From, t.To, t.Value); err != nil {
				return nil, err
			}
		} else if err := x.snapshot.SubBalance(t.From, t.Value); err != nil {
			return nil, err
		}
		applied = append(applied, t)
	}
	return applied, nil
}

// commit settles a successful invocation and merges its snapshot.
func (e *Engine) commit(x *execution) error {
	inv := x.inv
	transfers := x.succeeded.InternalTransfers

	switch {
	case len(transfers) > 0 || (inv.Value > 0 && !inv.IsCreate()):
		tx, err := e.builder.CreateCondensingTransaction(inv, x.contract, transfers, x.snapshot)
		if err != nil {
			return err
		}
		x.result.InternalTransaction = tx
	case inv.Value > 0:
		x.snapshot.SetUnspent(x.contract, store.Unspent{
			TxHash: inv.TxHash,
			Index:  inv.OutputIndex,
			Value:  inv.Value,
		})
	}

	x.result.ReturnValue = x.succeeded.ReturnValue
	x.result.Logs = x.succeeded.Logs
	x.result.Bloom = bloom.FromLogs(x.result.Logs)
	return x.snapshot.Commit()
}
