package carrier

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/core"
)

var (
	ErrNoContractOutput = errors.New("transaction has no contract execution output")
	ErrUnknownSender    = errors.New("cannot determine invocation sender")
)

// SenderResolver returns the locking script of the output spent by an input.
// It is backed by the caller's coin view.
type SenderResolver interface {
	PrevOutputScript(outpoint wire.OutPoint) ([]byte, error)
}

// ScriptMap is a SenderResolver over an in-memory set of outputs.
type ScriptMap map[wire.OutPoint][]byte

func (m ScriptMap) PrevOutputScript(outpoint wire.OutPoint) ([]byte, error) {
	script, ok := m[outpoint]
	if !ok {
		return nil, fmt.Errorf("unknown output %v", outpoint)
	}
	return script, nil
}

// ContractExecOutput locates the output carrying a create or call marker.
func ContractExecOutput(tx *wire.MsgTx) (uint32, *wire.TxOut, bool) {
	for i, out := range tx.TxOut {
		if IsContractExec(out.PkScript) {
			return uint32(i), out, true
		}
	}
	return 0, nil, false
}

// DecodeTransaction decodes the invocation embedded in tx and fills in the
// fields derived from the enclosing transaction: sender, hash, output index
// and carried value.
func DecodeTransaction(tx *wire.MsgTx, resolver SenderResolver) (*Invocation, error) {
	index, out, ok := ContractExecOutput(tx)
	if !ok {
		return nil, ErrNoContractOutput
	}
	inv, err := Decode(out.PkScript)
	if err != nil {
		return nil, err
	}
	if out.Value < 0 {
		return nil, &DecodeError{Field: "value", Err: fmt.Errorf("negative output value %d", out.Value)}
	}
	if len(tx.TxIn) == 0 {
		return nil, ErrUnknownSender
	}
	script, err := resolver.PrevOutputScript(tx.TxIn[0].PreviousOutPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSender, err)
	}
	sender, err := SenderFromScript(script)
	if err != nil {
		return nil, err
	}

	inv.Sender = sender
	inv.TxHash = tx.TxHash()
	inv.OutputIndex = index
	inv.Value = uint64(out.Value)
	return inv, nil
}

// SenderFromScript extracts the public key hash from a pay-to-pubkey-hash or
// pay-to-witness-pubkey-hash locking script.
func SenderFromScript(script []byte) (core.Address, error) {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
		return core.AddressFromBytes(script[3:23]), nil
	case txscript.WitnessV0PubKeyHashTy:
		// OP_0 <20 bytes>
		return core.AddressFromBytes(script[2:22]), nil
	}
	return core.ZeroAddress, ErrUnknownSender
}
