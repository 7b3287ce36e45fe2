// Package wasi runs contract code as WebAssembly modules on wazero. Contract
// modules import their host interface from the "env" module and export one
// function per entry point, each taking no arguments and returning nothing.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/vm"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import module contracts link against.
const HostModule = "env"

const (
	defaultCacheSize        = 128
	defaultMemoryLimitPages = 256
)

var (
	errNoInvocation = errors.New("host function called outside of an invocation")
	errMemoryAccess = errors.New("memory access out of bounds")
	errEntrySig     = errors.New("entry point must take no arguments and return nothing")
)

// Config configures a WazeroVM
type Config struct {
	// CacheSize bounds the number of compiled modules kept
	CacheSize int
	// MemoryLimitPages bounds the linear memory of each instance
	MemoryLimitPages uint32
}

// WazeroVM implements vm.Dispatcher and vm.Validator on wazero
type WazeroVM struct {
	runtime  wazero.Runtime
	host     api.Module
	compiled *lru.Cache[string, wazero.CompiledModule]
}

// NewWazeroVM creates a runtime and instantiates the host module in it
func NewWazeroVM(ctx context.Context, config Config) (*WazeroVM, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = defaultMemoryLimitPages
	}

	runtime := wazero.NewRuntimeWithConfig(ctx,
		wazero.NewRuntimeConfig().WithMemoryLimitPages(config.MemoryLimitPages))

	host, err := buildHostModule(runtime.NewHostModuleBuilder(HostModule)).Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	compiled, err := lru.NewWithEvict[string, wazero.CompiledModule](config.CacheSize,
		func(_ string, m wazero.CompiledModule) {
			m.Close(context.Background())
		})
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to create module cache: %w", err)
	}

	return &WazeroVM{runtime: runtime, host: host, compiled: compiled}, nil
}

func (w *WazeroVM) compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	key := string(core.Keccak256(code))
	if m, ok := w.compiled.Get(key); ok {
		return m, nil
	}
	m, err := w.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WebAssembly module: %w", err)
	}
	w.compiled.Add(key, m)
	return m, nil
}

// Invoke runs entry of code. A module without a constructor export is
// created without running anything; any other missing entry is an error.
func (w *WazeroVM) Invoke(ctx context.Context, code []byte, entry string, ec *vm.ExecutionContext) (*vm.VMResult, error) {
	compiled, err := w.compile(ctx, code)
	if err != nil {
		return nil, err
	}

	def, ok := compiled.ExportedFunctions()[entry]
	if !ok {
		if entry == vm.ConstructorEntry {
			return &vm.VMResult{}, nil
		}
		return nil, fmt.Errorf("%s: %w", entry, core.ErrMethodNotFound)
	}
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
		return nil, fmt.Errorf("%s: %w", entry, errEntrySig)
	}

	inv := &invocation{ec: ec}
	ctx = withInvocation(ctx, inv)

	// anonymous, without start functions, so nothing runs before entry
	module, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer module.Close(ctx)

	if _, err := module.ExportedFunction(entry).Call(ctx); err != nil {
		slog.Debug("contract call failed", "contract", ec.Message.ContractAddress, "entry", entry, "error", err)
		return nil, fmt.Errorf("failed to execute %s: %w", entry, err)
	}
	return &inv.result, nil
}

// Validate checks that code is a well formed module that only imports the
// host functions.
func (w *WazeroVM) Validate(code []byte) vm.ValidationResult {
	ctx := context.Background()
	compiled, err := w.runtime.CompileModule(ctx, code)
	if err != nil {
		return vm.ValidationResult{Diagnostics: []string{err.Error()}}
	}
	defer compiled.Close(ctx)

	var diagnostics []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != HostModule {
			diagnostics = append(diagnostics, fmt.Sprintf("import from module %q is not allowed", module))
			continue
		}
		if _, ok := hostFunctions[name]; !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("unknown host function %q", name))
		}
	}
	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		diagnostics = append(diagnostics, fmt.Sprintf("imported memory %s.%s is not allowed", module, name))
	}
	if len(compiled.ExportedFunctions()) == 0 {
		diagnostics = append(diagnostics, "module exports no entry points")
	}
	return vm.ValidationResult{IsValid: len(diagnostics) == 0, Diagnostics: diagnostics}
}

// Close closes the virtual machine
func (w *WazeroVM) Close(ctx context.Context) error {
	w.compiled.Purge()
	if err := w.host.Close(ctx); err != nil {
		return fmt.Errorf("failed to close host module: %w", err)
	}
	return w.runtime.Close(ctx)
}
