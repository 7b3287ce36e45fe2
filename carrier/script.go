// Package carrier encodes and decodes contract invocations carried inside
// transaction outputs.
package carrier

import (
	"fmt"

	"github.com/govm-net/scvm/core"
)

// OpCode is the single-byte discriminator that starts every contract marker
// script.
type OpCode byte

const (
	OpCreateContract   OpCode = 0xc0
	OpCallContract     OpCode = 0xc1
	OpSpend            OpCode = 0xc2
	OpInternalTransfer OpCode = 0xc3
)

func (op OpCode) String() string {
	switch op {
	case OpCreateContract:
		return "create"
	case OpCallContract:
		return "call"
	case OpSpend:
		return "spend"
	case OpInternalTransfer:
		return "internal-transfer"
	}
	return fmt.Sprintf("OpCode(%#x)", byte(op))
}

// IsCreate reports whether script is a create-contract marker.
func IsCreate(script []byte) bool {
	return len(script) > 0 && OpCode(script[0]) == OpCreateContract
}

// IsCall reports whether script is a call-contract marker.
func IsCall(script []byte) bool {
	return len(script) > 0 && OpCode(script[0]) == OpCallContract
}

// IsContractExec reports whether script carries an invocation the engine
// executes.
func IsContractExec(script []byte) bool {
	return IsCreate(script) || IsCall(script)
}

// IsSpend reports whether script is the marker used to spend a contract's
// unspent output.
func IsSpend(script []byte) bool {
	return len(script) == 1 && OpCode(script[0]) == OpSpend
}

// SpendScript is the signature script of an input spending a contract-owned
// output.
func SpendScript() []byte {
	return []byte{byte(OpSpend)}
}

// InternalTransferScript locks an output to a contract address.
func InternalTransferScript(addr core.Address) []byte {
	return append([]byte{byte(OpInternalTransfer)}, addr[:]...)
}

// InternalTransferAddress extracts the contract address from an internal
// transfer script.
func InternalTransferAddress(script []byte) (core.Address, bool) {
	if len(script) != 1+core.AddressLength || OpCode(script[0]) != OpInternalTransfer {
		return core.ZeroAddress, false
	}
	return core.AddressFromBytes(script[1:]), true
}
