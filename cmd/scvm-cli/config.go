package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/persistence"
	"github.com/govm-net/scvm/vm"
	"github.com/govm-net/scvm/wasi"
	"gopkg.in/yaml.v3"
)

// fileConfig is the layout of the YAML configuration file. Absent keys keep
// their defaults.
type fileConfig struct {
	Network     string      `yaml:"network"`
	KeyEncoding string      `yaml:"key_encoding"`
	MaxCodeSize int         `yaml:"max_code_size"`
	CacheSize   int         `yaml:"cache_size"`
	Prices      priceConfig `yaml:"prices"`
	WASM        wasmConfig  `yaml:"wasm"`
}

type priceConfig struct {
	BaseCost            uint64 `yaml:"base_cost"`
	StorageWritePerByte uint64 `yaml:"storage_write_per_byte"`
	StorageReadPerByte  uint64 `yaml:"storage_read_per_byte"`
	InstructionCost     uint64 `yaml:"instruction_cost"`
	MethodCallCost      uint64 `yaml:"method_call_cost"`
	LogCost             uint64 `yaml:"log_cost"`
	LogBytePerByte      uint64 `yaml:"log_byte_per_byte"`
	TransferCost        uint64 `yaml:"transfer_cost"`
	ReturnBytePerByte   uint64 `yaml:"return_byte_per_byte"`
	ValidationPerByte   uint64 `yaml:"validation_per_byte"`
}

type wasmConfig struct {
	CacheSize        int    `yaml:"cache_size"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// settings is a loaded configuration ready to build the engine from.
type settings struct {
	Engine    *vm.Config
	WASM      wasi.Config
	CacheSize int
}

var networks = map[string]*chaincfg.Params{
	chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
	chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
	chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
	chaincfg.SimNetParams.Name:        &chaincfg.SimNetParams,
	chaincfg.SigNetParams.Name:        &chaincfg.SigNetParams,
}

func defaultFileConfig() fileConfig {
	defaults := vm.DefaultConfig()
	p := defaults.Prices
	return fileConfig{
		Network:     defaults.Network.Name,
		KeyEncoding: persistence.KeyEncodingName(defaults.KeyEncoding),
		MaxCodeSize: defaults.MaxCodeSize,
		CacheSize:   4096,
		Prices: priceConfig{
			BaseCost:            p.BaseCost,
			StorageWritePerByte: p.StorageWritePerByte,
			StorageReadPerByte:  p.StorageReadPerByte,
			InstructionCost:     p.InstructionCost,
			MethodCallCost:      p.MethodCallCost,
			LogCost:             p.LogCost,
			LogBytePerByte:      p.LogBytePerByte,
			TransferCost:        p.TransferCost,
			ReturnBytePerByte:   p.ReturnBytePerByte,
			ValidationPerByte:   p.ValidationPerByte,
		},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (*settings, error) {
	fc := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return fc.resolve()
}

func (fc fileConfig) resolve() (*settings, error) {
	network, ok := networks[fc.Network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", fc.Network)
	}
	keys, err := persistence.KeyEncodingByName(fc.KeyEncoding)
	if err != nil {
		return nil, err
	}
	p := fc.Prices
	return &settings{
		Engine: &vm.Config{
			Prices: gas.PriceList{
				BaseCost:            p.BaseCost,
				StorageWritePerByte: p.StorageWritePerByte,
				StorageReadPerByte:  p.StorageReadPerByte,
				InstructionCost:     p.InstructionCost,
				MethodCallCost:      p.MethodCallCost,
				LogCost:             p.LogCost,
				LogBytePerByte:      p.LogBytePerByte,
				TransferCost:        p.TransferCost,
				ReturnBytePerByte:   p.ReturnBytePerByte,
				ValidationPerByte:   p.ValidationPerByte,
			},
			KeyEncoding: keys,
			MaxCodeSize: fc.MaxCodeSize,
			Network:     network,
		},
		WASM: wasi.Config{
			CacheSize:        fc.WASM.CacheSize,
			MemoryLimitPages: fc.WASM.MemoryLimitPages,
		},
		CacheSize: fc.CacheSize,
	}, nil
}
