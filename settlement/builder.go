package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/state"
	"github.com/govm-net/scvm/store"
)

var (
	// ErrNoValue is returned when a refund is requested for an invocation
	// that carried no value.
	ErrNoValue = errors.New("invocation carried no value")
	// ErrUnbalanced is returned when the inputs of a condensing transaction
	// do not cover its outputs, which means contract balances and unspent
	// outputs have diverged.
	ErrUnbalanced = errors.New("condensing transaction does not balance")
)

// Builder creates settlement transactions for one network.
type Builder struct {
	params *chaincfg.Params
}

// NewBuilder returns a Builder producing scripts for params.
func NewBuilder(params *chaincfg.Params) *Builder {
	return &Builder{params: params}
}

// CreateRefundTransaction returns the carried value of inv to its sender.
func (b *Builder) CreateRefundTransaction(inv *carrier.Invocation) (*wire.MsgTx, error) {
	if inv.Value == 0 {
		return nil, ErrNoValue
	}
	script, err := PayToAddressScript(inv.Sender, b.params)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	outpoint := wire.NewOutPoint(&inv.TxHash, inv.OutputIndex)
	tx.AddTxIn(wire.NewTxIn(outpoint, carrier.SpendScript(), nil))
	tx.AddTxOut(wire.NewTxOut(int64(inv.Value), script))

	slog.Debug("refund transaction built", "tx", tx.TxHash().String(), "sender", inv.Sender, "value", inv.Value)
	return tx, nil
}

// CreateCondensingTransaction settles the transfers made while executing
// contract. The transfers must already be applied to repo. Every contract
// touched is represented by one output carrying its new balance, and every
// external recipient by one P2PKH output. The contracts' recorded unspent
// outputs are moved to the new transaction.
func (b *Builder) CreateCondensingTransaction(inv *carrier.Invocation, contract core.Address, transfers []core.Transfer, repo *state.Repository) (*wire.MsgTx, error) {
	contracts := map[core.Address]struct{}{contract: {}}
	external := make(map[core.Address]uint64)
	var externalOrder []core.Address

	for _, t := range transfers {
		if t.Value == 0 {
			continue
		}
		for _, addr := range []core.Address{t.From, t.To} {
			if repo.GetCode(addr) != nil || addr == contract {
				contracts[addr] = struct{}{}
			}
		}
		if _, ok := contracts[t.To]; ok {
			continue
		}
		if _, seen := external[t.To]; !seen {
			externalOrder = append(externalOrder, t.To)
		}
		if external[t.To] > math.MaxUint64-t.Value {
			return nil, fmt.Errorf("transfers to %s: %w", t.To, state.ErrBalanceOverflow)
		}
		external[t.To] += t.Value
	}

	sorted := make([]core.Address, 0, len(contracts))
	for addr := range contracts {
		sorted = append(sorted, addr)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	tx := wire.NewMsgTx(wire.TxVersion)
	var in, out uint64

	if inv.Value > 0 {
		outpoint := wire.NewOutPoint(&inv.TxHash, inv.OutputIndex)
		tx.AddTxIn(wire.NewTxIn(outpoint, carrier.SpendScript(), nil))
		in += inv.Value
	}
	for _, addr := range sorted {
		u := repo.GetUnspent(addr)
		if u == nil {
			continue
		}
		// the invocation output is already an input when value was carried
		if u.TxHash == inv.TxHash && u.Index == inv.OutputIndex {
			continue
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&u.TxHash, u.Index), carrier.SpendScript(), nil))
		in += u.Value
	}

	type contractOutput struct {
		addr  core.Address
		index uint32
		value uint64
	}
	var balances []contractOutput
	for _, addr := range sorted {
		balance := repo.GetBalance(addr)
		if balance == 0 {
			continue
		}
		balances = append(balances, contractOutput{addr: addr, index: uint32(len(tx.TxOut)), value: balance})
		tx.AddTxOut(wire.NewTxOut(int64(balance), carrier.InternalTransferScript(addr)))
		out += balance
	}
	for _, addr := range externalOrder {
		script, err := PayToAddressScript(addr, b.params)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(external[addr]), script))
		out += external[addr]
	}

	if in != out {
		return nil, fmt.Errorf("inputs %d, outputs %d: %w", in, out, ErrUnbalanced)
	}

	hash := tx.TxHash()
	for _, addr := range sorted {
		repo.ClearUnspent(addr)
	}
	for _, c := range balances {
		repo.SetUnspent(c.addr, store.Unspent{TxHash: hash, Index: c.index, Value: c.value})
	}

	slog.Debug("condensing transaction built",
		"tx", hash.String(),
		"inputs", len(tx.TxIn),
		"outputs", len(tx.TxOut),
		"transfers", len(transfers))
	return tx, nil
}
