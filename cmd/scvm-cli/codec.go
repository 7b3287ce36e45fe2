package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/govm-net/scvm/carrier"
	"github.com/govm-net/scvm/core"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// invocationFlags are the payload fields shared by encode, create and call.
type invocationFlags struct {
	codeFile  string
	contract  string
	method    string
	params    string
	gasPrice  uint64
	gasLimit  uint64
	vmVersion uint32
}

func (f *invocationFlags) bind(cmd *cobra.Command, op carrier.OpCode) {
	flags := cmd.Flags()
	switch op {
	case carrier.OpCreateContract:
		flags.StringVarP(&f.codeFile, "file", "f", "", "Contract code file (required)")
		cmd.MarkFlagRequired("file")
	case carrier.OpCallContract:
		flags.StringVarP(&f.contract, "contract", "a", "", "Contract address (required)")
		flags.StringVarP(&f.method, "method", "m", "", "Method name (required)")
		cmd.MarkFlagRequired("contract")
		cmd.MarkFlagRequired("method")
	default:
		flags.StringVarP(&f.codeFile, "file", "f", "", "Contract code file, encodes a create")
		flags.StringVarP(&f.contract, "contract", "a", "", "Contract address, encodes a call")
		flags.StringVarP(&f.method, "method", "m", "", "Method name of a call")
	}
	flags.StringVarP(&f.params, "params", "p", "", "Method parameters as kind#value|kind#value")
	flags.Uint64Var(&f.gasPrice, "gas-price", 1, "Gas price")
	flags.Uint64Var(&f.gasLimit, "gas-limit", 100_000, "Gas limit")
	flags.Uint32Var(&f.vmVersion, "vm-version", 0, "VM version")
}

// invocation builds the payload fields. With op zero the kind is inferred
// from which of code file and contract address is set.
func (f *invocationFlags) invocation(op carrier.OpCode) (*carrier.Invocation, error) {
	if op == 0 {
		switch {
		case f.codeFile != "" && f.contract != "":
			return nil, fmt.Errorf("--file and --contract are mutually exclusive")
		case f.codeFile != "":
			op = carrier.OpCreateContract
		case f.contract != "":
			op = carrier.OpCallContract
		default:
			return nil, fmt.Errorf("either --file or --contract is required")
		}
	}

	params, err := carrier.ParseParameters(f.params)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	inv := &carrier.Invocation{
		OpCode:     op,
		VMVersion:  f.vmVersion,
		GasPrice:   f.gasPrice,
		GasLimit:   f.gasLimit,
		Parameters: params,
	}

	if op == carrier.OpCreateContract {
		code, err := os.ReadFile(f.codeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read code file: %w", err)
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("code file %s is empty", f.codeFile)
		}
		inv.ContractCode = code
		return inv, nil
	}

	if f.method == "" {
		return nil, fmt.Errorf("method name is required")
	}
	addr, err := parseHexAddress(f.contract)
	if err != nil {
		return nil, err
	}
	inv.ContractAddress = addr
	inv.MethodName = f.method
	return inv, nil
}

func parseHexAddress(s string) (core.Address, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	data, err := hex.DecodeString(raw)
	if err != nil || len(data) != core.AddressLength {
		return core.ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return core.AddressFromBytes(data), nil
}

var encodeFlags invocationFlags

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a create or call payload",
	Long: `Encode a contract invocation into the hex payload of a marker output.
Example: scvm-cli encode -a 0x1f...e2 -m transfer -p "3#10|1#true"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := encodeFlags.invocation(0)
		if err != nil {
			return err
		}
		payload, err := carrier.Encode(inv)
		if err != nil {
			return fmt.Errorf("failed to encode invocation: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(payload))
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <payload>",
	Short: "Decode a create or call payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
		if err != nil {
			return fmt.Errorf("payload is not hex: %w", err)
		}
		inv, err := carrier.Decode(payload)
		if err != nil {
			return err
		}
		return describeInvocation(cmd.OutOrStdout(), inv)
	},
}

func init() {
	encodeFlags.bind(encodeCmd, 0)
}

func describeInvocation(w io.Writer, inv *carrier.Invocation) error {
	params, err := carrier.FormatParameters(inv.Parameters)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Kind:       %s\n", cases.Title(language.English).String(inv.OpCode.String()))
	fmt.Fprintf(w, "VM version: %d\n", inv.VMVersion)
	if inv.IsCreate() {
		fmt.Fprintf(w, "Code:       %d bytes\n", len(inv.ContractCode))
	} else {
		fmt.Fprintf(w, "Contract:   %s\n", inv.ContractAddress)
		fmt.Fprintf(w, "Method:     %s\n", inv.MethodName)
	}
	fmt.Fprintf(w, "Parameters: %s\n", params)
	fmt.Fprintf(w, "Gas price:  %d\n", inv.GasPrice)
	fmt.Fprintf(w, "Gas limit:  %d\n", inv.GasLimit)
	return nil
}
