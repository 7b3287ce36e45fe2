package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/govm-net/scvm/wasi"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <wasm file>",
	Short: "List the exports and imports of contract code and validate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		cfg, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), cmd.OutOrStdout(), code, cfg.WASM)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspect(ctx context.Context, w io.Writer, code []byte, config wasi.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}

	fmt.Fprintln(w, "Exported functions:")
	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  - %s%s\n", name, signature(exports[name]))
	}
	for name := range compiled.ExportedMemories() {
		fmt.Fprintf(w, "  - %s: memory\n", name)
	}

	fmt.Fprintln(w, "Imported functions:")
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		fmt.Fprintf(w, "  - %s.%s%s\n", module, name, signature(def))
	}

	checker, err := wasi.NewWazeroVM(ctx, config)
	if err != nil {
		return err
	}
	defer checker.Close(ctx)

	verdict := checker.Validate(code)
	if verdict.IsValid {
		fmt.Fprintln(w, "Valid: yes")
		return nil
	}
	fmt.Fprintln(w, "Valid: no")
	for _, d := range verdict.Diagnostics {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	return nil
}

func signature(def api.FunctionDefinition) string {
	return fmt.Sprintf("(%s) -> (%s)", valueTypes(def.ParamTypes()), valueTypes(def.ResultTypes()))
}

func valueTypes(types []api.ValueType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s
}
