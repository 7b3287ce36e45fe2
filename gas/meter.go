// Package gas meters the computational and storage cost of one contract
// invocation against a pre-purchased budget.
package gas

import (
	"errors"
	"fmt"
)

// OutOfGasError is raised (as a panic value) when a charge would take the
// consumed amount over the limit.
type OutOfGasError struct {
	Limit    uint64
	Consumed uint64
	Need     uint64
}

func (e *OutOfGasError) Error() string {
	return fmt.Sprintf("out of gas: limit=%d, consumed=%d, need=%d", e.Limit, e.Consumed, e.Need)
}

// IsOutOfGas reports whether err is, or wraps, an *OutOfGasError.
func IsOutOfGas(err error) bool {
	var oog *OutOfGasError
	return errors.As(err, &oog)
}

// Meter is a monotonic budget counter owned by exactly one execution.
// consumed never exceeds limit.
type Meter struct {
	limit     uint64
	consumed  uint64
	exhausted bool
}

// NewMeter returns a meter with the given budget and nothing consumed.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Spend charges amount against the budget. If the charge does not fit, no gas
// is consumed and Spend panics with *OutOfGasError; the panic aborts the
// current execution and is recovered by the engine.
func (m *Meter) Spend(amount uint64) {
	if amount == 0 {
		return
	}
	if amount > m.limit-m.consumed {
		m.exhausted = true
		panic(&OutOfGasError{Limit: m.limit, Consumed: m.consumed, Need: amount})
	}
	m.consumed += amount
}

// Limit returns the total budget.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Consumed returns the gas spent so far.
func (m *Meter) Consumed() uint64 {
	return m.consumed
}

// Remaining returns the unspent budget.
func (m *Meter) Remaining() uint64 {
	return m.limit - m.consumed
}

// Exhausted reports whether a charge has ever been refused by this meter.
func (m *Meter) Exhausted() bool {
	return m.exhausted
}

// Try runs fn and converts an out-of-gas panic raised inside it into an
// error. Any other panic is propagated unchanged.
func Try(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if oog, ok := r.(*OutOfGasError); ok {
				err = oog
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}
