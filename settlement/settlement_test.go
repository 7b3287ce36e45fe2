package settlement

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/state"
	"github.com/govm-net/scvm/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender    = core.AddressFromString("0x1111111111111111111111111111111111111111")
	recipient = core.AddressFromString("0x2222222222222222222222222222222222222222")
	contractA = core.AddressFromString("0xaaaa000000000000000000000000000000000000")
	contractB = core.AddressFromString("0xbbbb000000000000000000000000000000000000")
	invTxHash = chainhash.Hash{0x01}
)

func callInvocation(value uint64) *carrier.Invocation {
	return &carrier.Invocation{
		OpCode:          carrier.OpCallContract,
		GasPrice:        1,
		GasLimit:        100_000,
		ContractAddress: contractA,
		MethodName:      "Pay",
		Sender:          sender,
		TxHash:          invTxHash,
		OutputIndex:     1,
		Value:           value,
	}
}

func TestProcessFeesRefundsUnusedBudget(t *testing.T) {
	inv := callInvocation(0)
	fees := ProcessFees(inv, 40_000, false, 150_000)

	assert.Equal(t, uint64(90_000), fees.Fee)
	require.Len(t, fees.Refunds, 1)
	assert.Equal(t, Refund{Address: sender, Amount: 60_000}, fees.Refunds[0])
}

func TestProcessFeesOutOfGasForfeitsBudget(t *testing.T) {
	inv := callInvocation(0)
	fees := ProcessFees(inv, 100_000, true, 150_000)
	assert.Equal(t, uint64(150_000), fees.Fee)
	assert.Empty(t, fees.Refunds)

	// no refund even if the meter stopped short of the limit
	fees = ProcessFees(inv, 10_000, true, 150_000)
	assert.Empty(t, fees.Refunds)
}

func TestProcessFeesWholeBudgetSpent(t *testing.T) {
	inv := callInvocation(0)
	fees := ProcessFees(inv, 100_000, false, 150_000)
	assert.Equal(t, uint64(150_000), fees.Fee)
	assert.Empty(t, fees.Refunds)
}

func TestProcessFeesWithGasPrice(t *testing.T) {
	inv := callInvocation(0)
	inv.GasPrice = 3
	fees := ProcessFees(inv, 10_000, false, 400_000)
	assert.Equal(t, uint64(270_000), fees.Refunds[0].Amount)
	assert.Equal(t, uint64(130_000), fees.Fee)
}

func TestRefundOutputs(t *testing.T) {
	outs, err := RefundOutputs([]Refund{{Address: sender, Amount: 7}}, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, int64(7), outs[0].Value)
	assert.Equal(t, txscript.PubKeyHashTy, txscript.GetScriptClass(outs[0].PkScript))

	got, err := carrier.SenderFromScript(outs[0].PkScript)
	require.NoError(t, err)
	assert.Equal(t, sender, got)
}

func TestCreateRefundTransaction(t *testing.T) {
	b := NewBuilder(&chaincfg.MainNetParams)

	_, err := b.CreateRefundTransaction(callInvocation(0))
	assert.ErrorIs(t, err, ErrNoValue)

	tx, err := b.CreateRefundTransaction(callInvocation(500))
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	assert.Equal(t, invTxHash, tx.TxIn[0].PreviousOutPoint.Hash)
	assert.Equal(t, uint32(1), tx.TxIn[0].PreviousOutPoint.Index)
	assert.True(t, carrier.IsSpend(tx.TxIn[0].SignatureScript))

	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, int64(500), tx.TxOut[0].Value)
	got, err := carrier.SenderFromScript(tx.TxOut[0].PkScript)
	require.NoError(t, err)
	assert.Equal(t, sender, got)
}

func newContractRepo(t *testing.T) *state.Repository {
	t.Helper()
	repo := state.NewRepository(nil).StartTracking()
	require.NoError(t, repo.SetCode(contractA, []byte{0x01}))
	require.NoError(t, repo.SetCode(contractB, []byte{0x02}))
	require.NoError(t, repo.AddBalance(contractA, 100))
	repo.SetUnspent(contractA, store.Unspent{TxHash: chainhash.Hash{0x0a}, Index: 0, Value: 100})
	return repo
}

func TestCondensingTransaction(t *testing.T) {
	repo := newContractRepo(t)
	inv := callInvocation(50)

	// what the engine does before building
	require.NoError(t, repo.AddBalance(contractA, 50))
	transfers := []core.Transfer{
		{From: contractA, To: recipient, Value: 30},
		{From: contractA, To: contractB, Value: 20},
		{From: contractA, To: recipient, Value: 5},
	}
	require.NoError(t, repo.SubBalance(contractA, 30))
	require.NoError(t, repo.Transfer(contractA, contractB, 20))
	require.NoError(t, repo.SubBalance(contractA, 5))

	tx, err := NewBuilder(&chaincfg.MainNetParams).CreateCondensingTransaction(inv, contractA, transfers, repo)
	require.NoError(t, err)

	require.Len(t, tx.TxIn, 2)
	assert.Equal(t, invTxHash, tx.TxIn[0].PreviousOutPoint.Hash)
	assert.Equal(t, chainhash.Hash{0x0a}, tx.TxIn[1].PreviousOutPoint.Hash)

	require.Len(t, tx.TxOut, 3)
	addr, ok := carrier.InternalTransferAddress(tx.TxOut[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, contractA, addr)
	assert.Equal(t, int64(95), tx.TxOut[0].Value)

	addr, ok = carrier.InternalTransferAddress(tx.TxOut[1].PkScript)
	require.True(t, ok)
	assert.Equal(t, contractB, addr)
	assert.Equal(t, int64(20), tx.TxOut[1].Value)

	got, err := carrier.SenderFromScript(tx.TxOut[2].PkScript)
	require.NoError(t, err)
	assert.Equal(t, recipient, got)
	assert.Equal(t, int64(35), tx.TxOut[2].Value)

	hash := tx.TxHash()
	ua := repo.GetUnspent(contractA)
	require.NotNil(t, ua)
	assert.Equal(t, store.Unspent{TxHash: hash, Index: 0, Value: 95}, *ua)
	ub := repo.GetUnspent(contractB)
	require.NotNil(t, ub)
	assert.Equal(t, store.Unspent{TxHash: hash, Index: 1, Value: 20}, *ub)
}

func TestCondensingValueOnly(t *testing.T) {
	repo := newContractRepo(t)
	inv := callInvocation(50)
	require.NoError(t, repo.AddBalance(contractA, 50))

	tx, err := NewBuilder(&chaincfg.MainNetParams).CreateCondensingTransaction(inv, contractA, nil, repo)
	require.NoError(t, err)
	assert.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, int64(150), tx.TxOut[0].Value)
}

func TestCondensingSkipsZeroValueTransfers(t *testing.T) {
	repo := newContractRepo(t)
	inv := callInvocation(50)
	require.NoError(t, repo.AddBalance(contractA, 50))
	transfers := []core.Transfer{{From: contractA, To: recipient, Value: 0}}

	tx, err := NewBuilder(&chaincfg.MainNetParams).CreateCondensingTransaction(inv, contractA, transfers, repo)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 1)
	addr, ok := carrier.InternalTransferAddress(tx.TxOut[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, contractA, addr)
	assert.Equal(t, int64(150), tx.TxOut[0].Value)
}

func TestCondensingDrainedContractLosesUnspent(t *testing.T) {
	repo := newContractRepo(t)
	inv := callInvocation(0)
	transfers := []core.Transfer{{From: contractA, To: recipient, Value: 100}}
	require.NoError(t, repo.SubBalance(contractA, 100))

	tx, err := NewBuilder(&chaincfg.MainNetParams).CreateCondensingTransaction(inv, contractA, transfers, repo)
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	assert.Nil(t, repo.GetUnspent(contractA))
}

func TestCondensingDetectsDivergedBalances(t *testing.T) {
	repo := newContractRepo(t)
	// balance credited without a backing output
	require.NoError(t, repo.AddBalance(contractA, 1))

	_, err := NewBuilder(&chaincfg.MainNetParams).CreateCondensingTransaction(callInvocation(0), contractA, nil, repo)
	assert.ErrorIs(t, err, ErrUnbalanced)
	assert.NotNil(t, repo.GetUnspent(contractA))
	assert.Equal(t, chainhash.Hash{0x0a}, repo.GetUnspent(contractA).TxHash)
}
