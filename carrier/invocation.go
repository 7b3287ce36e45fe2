package carrier

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/govm-net/scvm/core"
)

// lengthPrefixSize is the width of the little-endian length that precedes
// every field.
const lengthPrefixSize = 4

var (
	// ErrGasBudgetOverflow is returned when gas price times gas limit does
	// not fit in 64 bits.
	ErrGasBudgetOverflow = errors.New("gas budget overflows")
	// ErrInvalidInvocation is returned by Encode for invocations Decode
	// would reject.
	ErrInvalidInvocation = errors.New("invalid invocation")
)

// DecodeError describes a malformed invocation payload.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	errTruncated     = errors.New("declared length overruns payload")
	errTrailing      = errors.New("trailing bytes after gas limit")
	errMissing       = errors.New("required field is empty")
	errFieldWidth    = errors.New("unexpected field width")
	errInvalidUTF8   = errors.New("not valid utf-8")
	errUnknownOpCode = errors.New("not a create or call marker")
)

// Invocation is a decoded CREATE or CALL request.
type Invocation struct {
	OpCode     OpCode
	VMVersion  uint32
	GasPrice   uint64
	GasLimit   uint64
	Parameters []Parameter

	// Create only
	ContractCode []byte

	// Call only
	ContractAddress core.Address
	MethodName      string

	// Derived from the enclosing transaction, not carried in the payload.
	Sender      core.Address
	TxHash      chainhash.Hash
	OutputIndex uint32
	Value       uint64
}

// IsCreate reports whether the invocation creates a new contract.
func (inv *Invocation) IsCreate() bool {
	return inv.OpCode == OpCreateContract
}

// GasCostBudget is the maximum fee the sender pays for gas.
func (inv *Invocation) GasCostBudget() uint64 {
	hi, lo := bits.Mul64(inv.GasPrice, inv.GasLimit)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

// Encode serializes inv into the payload of a contract marker script. Field
// order: opcode, version, (address, method name | code), parameters, gas
// price, gas limit. Every field after the opcode is length prefixed.
func Encode(inv *Invocation) ([]byte, error) {
	if err := inv.check(); err != nil {
		return nil, err
	}
	params, err := EncodeParameters(inv.Parameters)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(inv.OpCode))
	writeField(&buf, binary.LittleEndian.AppendUint32(nil, inv.VMVersion))
	if inv.IsCreate() {
		writeField(&buf, inv.ContractCode)
	} else {
		writeField(&buf, inv.ContractAddress[:])
		writeField(&buf, []byte(inv.MethodName))
	}
	writeField(&buf, params)
	writeField(&buf, binary.LittleEndian.AppendUint64(nil, inv.GasPrice))
	writeField(&buf, binary.LittleEndian.AppendUint64(nil, inv.GasLimit))
	return buf.Bytes(), nil
}

// check applies the field rules of Decode.
func (inv *Invocation) check() error {
	switch inv.OpCode {
	case OpCreateContract:
		if len(inv.ContractCode) == 0 {
			return fmt.Errorf("%w: contract code %v", ErrInvalidInvocation, errMissing)
		}
	case OpCallContract:
		if inv.MethodName == "" {
			return fmt.Errorf("%w: method name %v", ErrInvalidInvocation, errMissing)
		}
		if !utf8.ValidString(inv.MethodName) {
			return fmt.Errorf("%w: method name %v", ErrInvalidInvocation, errInvalidUTF8)
		}
	default:
		return fmt.Errorf("%w: %s %v", ErrInvalidInvocation, inv.OpCode, errUnknownOpCode)
	}
	if hi, _ := bits.Mul64(inv.GasPrice, inv.GasLimit); hi != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInvocation, ErrGasBudgetOverflow)
	}
	return nil
}

func writeField(buf *bytes.Buffer, data []byte) {
	var prefix [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	buf.Write(prefix[:])
	buf.Write(data)
}

// Decode parses a contract marker payload. Only the fields carried in the
// payload are filled; see DecodeTransaction for the derived ones.
func Decode(payload []byte) (*Invocation, error) {
	if !IsContractExec(payload) {
		return nil, &DecodeError{Field: "opcode", Err: errUnknownOpCode}
	}
	r := &fieldReader{data: payload[1:]}
	inv := &Invocation{OpCode: OpCode(payload[0])}

	version, err := r.fixed("vm version", 4)
	if err != nil {
		return nil, err
	}
	inv.VMVersion = binary.LittleEndian.Uint32(version)

	if inv.IsCreate() {
		code, err := r.next("contract code")
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			return nil, &DecodeError{Field: "contract code", Err: errMissing}
		}
		inv.ContractCode = code
	} else {
		addr, err := r.fixed("contract address", core.AddressLength)
		if err != nil {
			return nil, err
		}
		inv.ContractAddress = core.AddressFromBytes(addr)

		name, err := r.next("method name")
		if err != nil {
			return nil, err
		}
		if len(name) == 0 {
			return nil, &DecodeError{Field: "method name", Err: errMissing}
		}
		if !utf8.Valid(name) {
			return nil, &DecodeError{Field: "method name", Err: errInvalidUTF8}
		}
		inv.MethodName = string(name)
	}

	params, err := r.next("parameters")
	if err != nil {
		return nil, err
	}
	if inv.Parameters, err = DecodeParameters(params); err != nil {
		return nil, err
	}

	price, err := r.fixed("gas price", 8)
	if err != nil {
		return nil, err
	}
	inv.GasPrice = binary.LittleEndian.Uint64(price)

	limit, err := r.fixed("gas limit", 8)
	if err != nil {
		return nil, err
	}
	inv.GasLimit = binary.LittleEndian.Uint64(limit)

	if r.remaining() != 0 {
		return nil, &DecodeError{Field: "payload", Err: errTrailing}
	}
	if hi, _ := bits.Mul64(inv.GasPrice, inv.GasLimit); hi != 0 {
		return nil, &DecodeError{Field: "gas limit", Err: ErrGasBudgetOverflow}
	}
	return inv, nil
}

type fieldReader struct {
	data []byte
	pos  int
}

func (r *fieldReader) remaining() int {
	return len(r.data) - r.pos
}

// next reads one length-prefixed field. A zero length yields a nil slice.
func (r *fieldReader) next(field string) ([]byte, error) {
	if r.remaining() < lengthPrefixSize {
		return nil, &DecodeError{Field: field, Err: errTruncated}
	}
	n := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += lengthPrefixSize
	if uint64(n) > uint64(r.remaining()) {
		return nil, &DecodeError{Field: field, Err: errTruncated}
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *fieldReader) fixed(field string, width int) ([]byte, error) {
	data, err := r.next(field)
	if err != nil {
		return nil, err
	}
	if len(data) != width {
		return nil, &DecodeError{Field: field, Err: fmt.Errorf("%w: want %d, got %d", errFieldWidth, width, len(data))}
	}
	return data, nil
}
