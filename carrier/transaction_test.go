package carrier

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payToPubKeyHash(t *testing.T, addr core.Address) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(addr[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)
	return script
}

func TestDecodeTransaction(t *testing.T) {
	sender := core.AddressFromString("0xaaaa")
	prev := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 3}

	payload, err := Encode(testCall())
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(5000, payToPubKeyHash(t, sender)))
	tx.AddTxOut(wire.NewTxOut(700, payload))

	inv, err := DecodeTransaction(tx, ScriptMap{prev: payToPubKeyHash(t, sender)})
	require.NoError(t, err)
	assert.Equal(t, sender, inv.Sender)
	assert.Equal(t, uint32(1), inv.OutputIndex)
	assert.Equal(t, uint64(700), inv.Value)
	assert.Equal(t, tx.TxHash(), inv.TxHash)
	assert.Equal(t, "Transfer", inv.MethodName)
}

func TestDecodeTransactionErrors(t *testing.T) {
	prev := wire.OutPoint{Hash: chainhash.Hash{2}}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1, []byte{txscript.OP_TRUE}))

	_, err := DecodeTransaction(tx, ScriptMap{})
	assert.ErrorIs(t, err, ErrNoContractOutput)

	payload, err := Encode(testCreate())
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(0, payload))

	_, err = DecodeTransaction(tx, ScriptMap{})
	assert.ErrorIs(t, err, ErrUnknownSender)

	_, err = DecodeTransaction(tx, ScriptMap{prev: []byte{txscript.OP_TRUE}})
	assert.ErrorIs(t, err, ErrUnknownSender)
}

func TestSenderFromWitnessScript(t *testing.T) {
	addr := core.AddressFromString("0x1234")
	script := append([]byte{txscript.OP_0, txscript.OP_DATA_20}, addr[:]...)
	got, err := SenderFromScript(script)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestMarkerScripts(t *testing.T) {
	addr := core.AddressFromString("0x77")
	script := InternalTransferScript(addr)
	got, ok := InternalTransferAddress(script)
	assert.True(t, ok)
	assert.Equal(t, addr, got)
	assert.False(t, IsContractExec(script))

	_, ok = InternalTransferAddress([]byte{byte(OpInternalTransfer)})
	assert.False(t, ok)

	assert.True(t, IsSpend(SpendScript()))
	assert.True(t, IsCreate([]byte{byte(OpCreateContract)}))
	assert.True(t, IsCall([]byte{byte(OpCallContract)}))
	assert.False(t, IsContractExec(nil))
	assert.Equal(t, "call", OpCallContract.String())
}
