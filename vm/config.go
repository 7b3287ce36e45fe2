package vm

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/govm-net/scvm/gas"
	"github.com/govm-net/scvm/persistence"
)

// Config represents engine configuration
type Config struct {
	// Prices is the gas cost model
	Prices gas.PriceList
	// KeyEncoding maps contract storage keys to repository keys
	KeyEncoding persistence.KeyEncodingStrategy
	// MaxCodeSize is the largest contract accepted by create
	MaxCodeSize int
	// Network selects the address format of settlement outputs
	Network *chaincfg.Params
}

// DefaultConfig returns the mainnet configuration
func DefaultConfig() *Config {
	return &Config{
		Prices:      gas.DefaultPriceList(),
		KeyEncoding: persistence.BasicKeyEncoding{},
		MaxCodeSize: 1024 * 1024,
		Network:     &chaincfg.MainNetParams,
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.MaxCodeSize <= 0 {
		return fmt.Errorf("invalid max code size: %d", config.MaxCodeSize)
	}

	if config.KeyEncoding == nil {
		return fmt.Errorf("key encoding is nil")
	}

	if config.Network == nil {
		return fmt.Errorf("network parameters are nil")
	}

	return nil
}
