// Package settlement turns an execution outcome into the artifacts a block
// has to carry: the fee/refund split of the gas budget and at most one extra
// transaction, either condensing the value transfers of a successful call
// or refunding the value of a failed one.
package settlement

import (
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
)

// Refund is an amount of unspent gas budget paid back to an address.
type Refund struct {
	Address core.Address
	Amount  uint64
}

// Fees is the outcome of fee processing.
type Fees struct {
	Fee     uint64
	Refunds []Refund
}

// ProcessFees splits mempoolFee between the block and the sender. The
// unspent part of the gas budget is refunded, except after an out-of-gas
// failure where the whole budget is forfeit.
func ProcessFees(inv *carrier.Invocation, gasConsumed uint64, outOfGas bool, mempoolFee uint64) Fees {
	fees := Fees{Fee: mempoolFee}
	if outOfGas {
		return fees
	}

	spent := mulSaturating(gasConsumed, inv.GasPrice)
	budget := inv.GasCostBudget()
	if spent >= budget {
		return fees
	}
	refund := budget - spent
	if refund > fees.Fee {
		fees.Fee = 0
	} else {
		fees.Fee -= refund
	}
	fees.Refunds = append(fees.Refunds, Refund{Address: inv.Sender, Amount: refund})
	return fees
}

func mulSaturating(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

// PayToAddressScript returns the P2PKH script paying addr, treated as a
// public key hash.
func PayToAddressScript(addr core.Address, params *chaincfg.Params) ([]byte, error) {
	pkh, err := btcutil.NewAddressPubKeyHash(addr.Bytes(), params)
	if err != nil {
		return nil, fmt.Errorf("address %s: %w", addr, err)
	}
	return txscript.PayToAddrScript(pkh)
}

// RefundOutputs converts refunds into the outputs the block pipeline adds to
// the coinbase.
func RefundOutputs(refunds []Refund, params *chaincfg.Params) ([]*wire.TxOut, error) {
	outs := make([]*wire.TxOut, 0, len(refunds))
	for _, r := range refunds {
		script, err := PayToAddressScript(r.Address, params)
		if err != nil {
			return nil, err
		}
		outs = append(outs, wire.NewTxOut(int64(r.Amount), script))
	}
	return outs, nil
}
