// Package db provides a sqlite backed state source built on GORM.
package db

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath    = "./state.db"
	defaultCacheSize = 4096
)

// DBAccount is the persisted account row
type DBAccount struct {
	Address       string `gorm:"column:address;primaryKey;size:40"`
	Balance       uint64 `gorm:"column:balance;not null;default:0"`
	Code          []byte `gorm:"column:code;type:blob"`
	HasUnspent    bool   `gorm:"column:has_unspent;not null;default:false"`
	UnspentTxHash string `gorm:"column:unspent_tx_hash;size:64"`
	UnspentIndex  uint32 `gorm:"column:unspent_index"`
	UnspentValue  uint64 `gorm:"column:unspent_value"`
}

// TableName specifies the table name for DBAccount
func (DBAccount) TableName() string {
	return "accounts"
}

// DBStorageValue is one contract storage slot
type DBStorageValue struct {
	Address string `gorm:"column:address;primaryKey;size:40"`
	Key     string `gorm:"column:storage_key;primaryKey"`
	Value   []byte `gorm:"column:storage_value;type:blob;not null"`
}

// TableName specifies the table name for DBStorageValue
func (DBStorageValue) TableName() string {
	return "storage_values"
}

// Source implements store.Source using SQLite with GORM. Account and
// storage reads go through an LRU cache that is refreshed on Apply.
type Source struct {
	db       *gorm.DB
	accounts *lru.Cache[core.Address, *store.Account]
	slots    *lru.Cache[string, []byte]
}

func init() {
	store.Register(store.DBSourceType, func(params map[string]any) (store.Source, error) {
		return NewSource(params)
	})
}

// NewSource opens (creating if needed) the sqlite database named by the
// "db_path" parameter. "cache_size" bounds each read cache.
func NewSource(params map[string]any) (*Source, error) {
	if params == nil {
		params = make(map[string]any)
	}
	dbPath := defaultDBPath
	if path, ok := params["db_path"].(string); ok && path != "" {
		dbPath = path
	}
	cacheSize := defaultCacheSize
	if size, ok := params["cache_size"].(int); ok && size > 0 {
		cacheSize = size
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&DBAccount{}, &DBStorageValue{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	accounts, err := lru.New[core.Address, *store.Account](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create account cache: %w", err)
	}
	slots, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage cache: %w", err)
	}

	slog.Debug("opened state database", "path", dbPath, "cache_size", cacheSize)
	return &Source{db: db, accounts: accounts, slots: slots}, nil
}

func slotKey(addr core.Address, key []byte) string {
	return addr.String() + ":" + hex.EncodeToString(key)
}

func (s *Source) GetAccount(addr core.Address) (*store.Account, error) {
	if account, ok := s.accounts.Get(addr); ok {
		return account.Copy(), nil
	}

	var row DBAccount
	result := s.db.Where("address = ?", addr.String()).Take(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		s.accounts.Add(addr, nil)
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", addr, result.Error)
	}

	account, err := row.toAccount()
	if err != nil {
		return nil, err
	}
	s.accounts.Add(addr, account)
	return account.Copy(), nil
}

func (s *Source) GetStorage(addr core.Address, key []byte) ([]byte, error) {
	k := slotKey(addr, key)
	if value, ok := s.slots.Get(k); ok {
		return bytes.Clone(value), nil
	}

	var row DBStorageValue
	result := s.db.Where("address = ? AND storage_key = ?", addr.String(), hex.EncodeToString(key)).Take(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		s.slots.Add(k, nil)
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get storage %s: %w", k, result.Error)
	}
	s.slots.Add(k, row.Value)
	return bytes.Clone(row.Value), nil
}

// Apply writes cs in a single database transaction. The caches are only
// updated once the transaction has committed.
func (s *Source) Apply(cs *store.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for addr, account := range cs.Accounts {
			row := fromAccount(addr, account)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save account %s: %w", addr, err)
			}
		}
		for addr, values := range cs.Storage {
			for key, value := range values {
				hexKey := hex.EncodeToString([]byte(key))
				if value == nil {
					err := tx.Where("address = ? AND storage_key = ?", addr.String(), hexKey).
						Delete(&DBStorageValue{}).Error
					if err != nil {
						return fmt.Errorf("failed to delete storage: %w", err)
					}
					continue
				}
				row := DBStorageValue{Address: addr.String(), Key: hexKey, Value: value}
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
					return fmt.Errorf("failed to save storage: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to apply state changes", "error", err)
		return err
	}

	for addr, account := range cs.Accounts {
		s.accounts.Add(addr, account.Copy())
	}
	for addr, values := range cs.Storage {
		for key, value := range values {
			s.slots.Add(slotKey(addr, []byte(key)), bytes.Clone(value))
		}
	}
	return nil
}

func (s *Source) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromAccount(addr core.Address, account *store.Account) DBAccount {
	row := DBAccount{
		Address: addr.String(),
		Balance: account.Balance,
		Code:    account.Code,
	}
	if account.Unspent != nil {
		row.HasUnspent = true
		row.UnspentTxHash = account.Unspent.TxHash.String()
		row.UnspentIndex = account.Unspent.Index
		row.UnspentValue = account.Unspent.Value
	}
	return row
}

func (row DBAccount) toAccount() (*store.Account, error) {
	account := &store.Account{
		Balance: row.Balance,
		Code:    row.Code,
	}
	if row.HasUnspent {
		hash, err := chainhash.NewHashFromStr(row.UnspentTxHash)
		if err != nil {
			return nil, fmt.Errorf("invalid unspent hash for %s: %w", row.Address, err)
		}
		account.Unspent = &store.Unspent{
			TxHash: *hash,
			Index:  row.UnspentIndex,
			Value:  row.UnspentValue,
		}
	}
	return account, nil
}
