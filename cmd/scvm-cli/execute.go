package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/settlement"
	"github.com/govm-net/scvm/state"
	"github.com/govm-net/scvm/store"
	_ "github.com/govm-net/scvm/store/db"
	"github.com/govm-net/scvm/vm"
	"github.com/govm-net/scvm/wasi"
	"github.com/spf13/cobra"
)

// txFlags describe the transaction a create or call is wrapped in and the
// block it is executed in.
type txFlags struct {
	sender     string
	value      uint64
	nonce      uint32
	height     uint64
	coinbase   string
	mempoolFee uint64
}

func (f *txFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.sender, "sender", "s", "", "Sender address, base58 P2PKH or 20 byte hex (required)")
	flags.Uint64VarP(&f.value, "value", "v", 0, "Value carried by the invocation output")
	flags.Uint32Var(&f.nonce, "nonce", 0, "Index of the spent sender output, varies the transaction hash")
	flags.Uint64Var(&f.height, "height", 1, "Block height")
	flags.StringVar(&f.coinbase, "coinbase", "", "Block coinbase address")
	flags.Uint64Var(&f.mempoolFee, "mempool-fee", 0, "Fee paid by the transaction, enables fee processing")
	cmd.MarkFlagRequired("sender")
}

var (
	createFlags   invocationFlags
	createTxFlags txFlags
	callFlags     invocationFlags
	callTxFlags   txFlags
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a smart contract",
	Long: `Create a contract from WebAssembly code and run its constructor.
Example: scvm-cli create -f token.wasm -s 1BoatSLRHtKNngkdXEeobR76b53LETtpyT --gas-limit 500000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, carrier.OpCreateContract, &createFlags, &createTxFlags)
	},
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a smart contract method",
	Long: `Call a method of a deployed contract.
Example: scvm-cli call -a 0x1f...e2 -m transfer -p "3#10" -s 1BoatSLRHtKNngkdXEeobR76b53LETtpyT`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, carrier.OpCallContract, &callFlags, &callTxFlags)
	},
}

func init() {
	createFlags.bind(createCmd, carrier.OpCreateContract)
	createTxFlags.bind(createCmd)
	callFlags.bind(callCmd, carrier.OpCallContract)
	callTxFlags.bind(callCmd)
}

func runCommand(cmd *cobra.Command, op carrier.OpCode, f *invocationFlags, tf *txFlags) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	fields, err := f.invocation(op)
	if err != nil {
		return err
	}
	inv, err := tf.wrap(fields, cfg.Engine.Network)
	if err != nil {
		return err
	}
	block := vm.Block{Height: tf.height}
	if tf.coinbase != "" {
		if block.Coinbase, err = parseAddress(tf.coinbase, cfg.Engine.Network); err != nil {
			return err
		}
	}

	result, err := runInvocation(cmd.Context(), cfg, dbPath, inv, block, tf.mempoolFee)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), inv, result)
}

// wrap encodes fields into the marker output of a transaction spending a
// sender output and decodes it back, filling the derived invocation fields
// the same way a node does.
func (f *txFlags) wrap(fields *carrier.Invocation, params *chaincfg.Params) (*carrier.Invocation, error) {
	sender, err := parseAddress(f.sender, params)
	if err != nil {
		return nil, err
	}
	senderScript, err := settlement.PayToAddressScript(sender, params)
	if err != nil {
		return nil, err
	}
	payload, err := carrier.Encode(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}
	if f.value > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("value %d exceeds the maximum amount", f.value)
	}

	prev := wire.OutPoint{Hash: chainhash.HashH(sender[:]), Index: f.nonce}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(f.value), payload))

	return carrier.DecodeTransaction(tx, carrier.ScriptMap{prev: senderScript})
}

// parseAddress accepts a base58 pay-to-pubkey-hash address of the network
// or a raw 20 byte hex address.
func parseAddress(s string, params *chaincfg.Params) (core.Address, error) {
	if addr, err := btcutil.DecodeAddress(s, params); err == nil {
		if pkh, ok := addr.(*btcutil.AddressPubKeyHash); ok {
			return core.AddressFromBytes(pkh.ScriptAddress()), nil
		}
		return core.ZeroAddress, fmt.Errorf("address %s is not pay-to-pubkey-hash", s)
	}
	return parseHexAddress(s)
}

// runInvocation executes inv against the sqlite state at path and flushes
// the outcome.
func runInvocation(ctx context.Context, cfg *settings, path string, inv *carrier.Invocation, block vm.Block, mempoolFee uint64) (*vm.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	source, err := store.Get(store.DBSourceType, map[string]any{
		"db_path":    path,
		"cache_size": cfg.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	defer source.Close()

	runtime, err := wasi.NewWazeroVM(ctx, cfg.WASM)
	if err != nil {
		return nil, err
	}
	defer runtime.Close(ctx)

	engine, err := vm.NewEngine(cfg.Engine, runtime, runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM engine: %w", err)
	}

	root := state.NewRepository(source)
	result, err := engine.Execute(ctx, root, inv, block, mempoolFee)
	if err != nil {
		return nil, fmt.Errorf("failed to execute invocation: %w", err)
	}
	if err := root.Commit(); err != nil {
		return nil, fmt.Errorf("failed to flush state: %w", err)
	}
	slog.Debug("state flushed", "db", path, "tx", inv.TxHash.String())
	return result, nil
}

type logView struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type refundView struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type resultView struct {
	TxHash              string       `json:"tx_hash"`
	Kind                string       `json:"kind"`
	Exception           string       `json:"exception,omitempty"`
	Diagnostics         []string     `json:"diagnostics,omitempty"`
	Revert              bool         `json:"revert"`
	GasConsumed         uint64       `json:"gas_consumed"`
	NewContractAddress  string       `json:"new_contract_address,omitempty"`
	ReturnValue         string       `json:"return_value,omitempty"`
	Logs                []logView    `json:"logs,omitempty"`
	Bloom               string       `json:"bloom,omitempty"`
	InternalTransaction string       `json:"internal_transaction,omitempty"`
	Fee                 uint64       `json:"fee"`
	Refunds             []refundView `json:"refunds,omitempty"`
}

func newResultView(inv *carrier.Invocation, r *vm.Result) resultView {
	view := resultView{
		TxHash:      inv.TxHash.String(),
		Kind:        r.Kind.String(),
		Diagnostics: r.Diagnostics,
		Revert:      r.Revert,
		GasConsumed: r.GasConsumed,
		ReturnValue: hex.EncodeToString(r.ReturnValue),
		Fee:         r.Fee,
	}
	if r.Exception != nil {
		view.Exception = r.Exception.Error()
	}
	if r.NewContractAddress != nil {
		view.NewContractAddress = r.NewContractAddress.String()
	}
	for _, l := range r.Logs {
		lv := logView{Address: l.Address.String(), Data: hex.EncodeToString(l.Data)}
		for _, t := range l.Topics {
			lv.Topics = append(lv.Topics, hex.EncodeToString(t))
		}
		view.Logs = append(view.Logs, lv)
	}
	if len(r.Logs) > 0 {
		view.Bloom = hex.EncodeToString(r.Bloom.Bytes())
	}
	if r.InternalTransaction != nil {
		view.InternalTransaction = r.InternalTransaction.TxHash().String()
	}
	for _, rf := range r.Refunds {
		view.Refunds = append(view.Refunds, refundView{Address: rf.Address.String(), Amount: rf.Amount})
	}
	return view
}

func printResult(w io.Writer, inv *carrier.Invocation, r *vm.Result) error {
	data, err := json.MarshalIndent(newResultView(inv, r), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Fprintf(w, "Execution result:\n%s\n", data)
	return nil
}
