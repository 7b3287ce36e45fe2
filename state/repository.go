// Package state implements the nested state repository. A Repository is
// either the root, backed by a store.Source, or a snapshot opened on
// another Repository with StartTracking. Snapshots nest strictly: a child
// is committed or rolled back before its parent is written again.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/store"
)

var (
	// ErrSnapshotClosed is raised when a committed or rolled back snapshot is used
	ErrSnapshotClosed = errors.New("snapshot is closed")
	// ErrActiveChild is raised when a snapshot is written while a child is open
	ErrActiveChild = errors.New("snapshot has an open child")
	// ErrNoParent is returned by Commit on a root without a source
	ErrNoParent = errors.New("nothing to commit into")
	// ErrBalanceOverflow is returned when a credit would overflow a balance
	ErrBalanceOverflow = errors.New("balance overflow")
)

// SourceError wraps a failure of the backing source. Reads cannot fail at
// the repository API, so a source failure surfaces as a panic carrying a
// *SourceError.
type SourceError struct {
	Op      string
	Address core.Address
	Err     error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("state source %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsFault reports whether err describes a broken repository rather than a
// failure of the code running against it.
func IsFault(err error) bool {
	var se *SourceError
	return errors.As(err, &se) || errors.Is(err, ErrSnapshotClosed) || errors.Is(err, ErrActiveChild)
}

// Repository is one layer of the snapshot chain.
type Repository struct {
	parent *Repository
	source store.Source
	child  *Repository
	closed bool
	depth  int

	// written accounts, owned by this layer
	accounts map[core.Address]*store.Account
	// written slots; a nil value is a deletion
	storage map[core.Address]map[string][]byte
}

// NewRepository returns a root repository reading from source. A nil source
// gives an empty in-memory root that cannot be committed.
func NewRepository(source store.Source) *Repository {
	return &Repository{
		source:   source,
		accounts: make(map[core.Address]*store.Account),
		storage:  make(map[core.Address]map[string][]byte),
	}
}

// StartTracking opens a child snapshot.
func (r *Repository) StartTracking() *Repository {
	r.mustBeWritable()
	child := &Repository{
		parent:   r,
		depth:    r.depth + 1,
		accounts: make(map[core.Address]*store.Account),
		storage:  make(map[core.Address]map[string][]byte),
	}
	r.child = child
	return child
}

// Depth is 0 for the root and grows by one per nested snapshot.
func (r *Repository) Depth() int {
	return r.depth
}

// Closed reports whether Commit or Rollback has ended this snapshot.
func (r *Repository) Closed() bool {
	return r.closed
}

func (r *Repository) mustBeOpen() {
	if r.closed {
		panic(fmt.Errorf("depth %d: %w", r.depth, ErrSnapshotClosed))
	}
}

func (r *Repository) mustBeWritable() {
	r.mustBeOpen()
	if r.child != nil {
		panic(fmt.Errorf("depth %d: %w", r.depth, ErrActiveChild))
	}
}

// account returns the visible record for addr. The result is shared and
// must not be modified.
func (r *Repository) account(addr core.Address) *store.Account {
	for layer := r; layer != nil; layer = layer.parent {
		if account, ok := layer.accounts[addr]; ok {
			return account
		}
		if layer.parent == nil && layer.source != nil {
			account, err := layer.source.GetAccount(addr)
			if err != nil {
				panic(&SourceError{Op: "get account", Address: addr, Err: err})
			}
			return account
		}
	}
	return nil
}

// mutableAccount returns this layer's own copy of addr, creating an empty
// account when none is visible.
func (r *Repository) mutableAccount(addr core.Address) *store.Account {
	if account, ok := r.accounts[addr]; ok {
		return account
	}
	account := r.account(addr).Copy()
	if account == nil {
		account = &store.Account{}
	}
	r.accounts[addr] = account
	return account
}

// CreateAccount makes addr exist with zero balance and no code. Existing
// accounts are left untouched.
func (r *Repository) CreateAccount(addr core.Address) {
	r.mustBeWritable()
	if r.account(addr) != nil {
		return
	}
	r.accounts[addr] = &store.Account{}
}

// AccountExists reports whether addr has ever been created or funded.
func (r *Repository) AccountExists(addr core.Address) bool {
	r.mustBeOpen()
	return r.account(addr) != nil
}

func (r *Repository) GetBalance(addr core.Address) uint64 {
	r.mustBeOpen()
	if account := r.account(addr); account != nil {
		return account.Balance
	}
	return 0
}

// AddBalance credits amount to addr.
func (r *Repository) AddBalance(addr core.Address, amount uint64) error {
	r.mustBeWritable()
	if r.GetBalance(addr) > math.MaxUint64-amount {
		return fmt.Errorf("credit %d to %s: %w", amount, addr, ErrBalanceOverflow)
	}
	r.mutableAccount(addr).Balance += amount
	return nil
}

// SubBalance debits amount from addr.
func (r *Repository) SubBalance(addr core.Address, amount uint64) error {
	r.mustBeWritable()
	balance := r.GetBalance(addr)
	if balance < amount {
		return fmt.Errorf("debit %d from %s (balance %d): %w", amount, addr, balance, core.ErrInsufficientFunds)
	}
	if amount == 0 {
		return nil
	}
	r.mutableAccount(addr).Balance -= amount
	return nil
}

// Transfer moves amount from one balance to another within this snapshot.
// Either both balances change or neither does.
func (r *Repository) Transfer(from, to core.Address, amount uint64) error {
	r.mustBeWritable()
	fromBalance := r.GetBalance(from)
	if fromBalance < amount {
		return fmt.Errorf("transfer %d from %s (balance %d): %w", amount, from, fromBalance, core.ErrInsufficientFunds)
	}
	if from == to || amount == 0 {
		return nil
	}
	if r.GetBalance(to) > math.MaxUint64-amount {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, ErrBalanceOverflow)
	}
	r.mutableAccount(from).Balance -= amount
	r.mutableAccount(to).Balance += amount
	return nil
}

// GetCode returns a copy of the code installed at addr, or nil.
func (r *Repository) GetCode(addr core.Address) []byte {
	r.mustBeOpen()
	if account := r.account(addr); account != nil && len(account.Code) > 0 {
		return bytes.Clone(account.Code)
	}
	return nil
}

// SetCode installs code at addr. Code is assigned at most once.
func (r *Repository) SetCode(addr core.Address, code []byte) error {
	r.mustBeWritable()
	if len(code) == 0 {
		return fmt.Errorf("empty code for %s: %w", addr, core.ErrInvalidArgument)
	}
	if existing := r.account(addr); existing != nil && len(existing.Code) > 0 {
		return fmt.Errorf("%s: %w", addr, core.ErrCodeAlreadySet)
	}
	r.mutableAccount(addr).Code = bytes.Clone(code)
	return nil
}

// GetUnspent returns the output currently holding addr's balance, or nil.
func (r *Repository) GetUnspent(addr core.Address) *store.Unspent {
	r.mustBeOpen()
	account := r.account(addr)
	if account == nil || account.Unspent == nil {
		return nil
	}
	u := *account.Unspent
	return &u
}

func (r *Repository) SetUnspent(addr core.Address, unspent store.Unspent) {
	r.mustBeWritable()
	r.mutableAccount(addr).Unspent = &unspent
}

func (r *Repository) ClearUnspent(addr core.Address) {
	r.mustBeWritable()
	if r.GetUnspent(addr) == nil {
		return
	}
	r.mutableAccount(addr).Unspent = nil
}

// GetStorageValue returns a copy of the value under key, or nil.
func (r *Repository) GetStorageValue(addr core.Address, key []byte) []byte {
	r.mustBeOpen()
	k := string(key)
	for layer := r; layer != nil; layer = layer.parent {
		if value, ok := layer.storage[addr][k]; ok {
			return bytes.Clone(value)
		}
		if layer.parent == nil && layer.source != nil {
			value, err := layer.source.GetStorage(addr, key)
			if err != nil {
				panic(&SourceError{Op: "get storage", Address: addr, Err: err})
			}
			if len(value) == 0 {
				return nil
			}
			return value
		}
	}
	return nil
}

// SetStorageValue writes value under key without charging gas. An empty
// value deletes the key.
func (r *Repository) SetStorageValue(addr core.Address, key, value []byte) {
	r.mustBeWritable()
	slots, ok := r.storage[addr]
	if !ok {
		slots = make(map[string][]byte)
		r.storage[addr] = slots
	}
	if len(value) == 0 {
		slots[string(key)] = nil
		return
	}
	slots[string(key)] = bytes.Clone(value)
}

// Commit merges this snapshot's writes into its parent and closes it. On the
// root, pending writes are flushed to the source and the root stays open.
func (r *Repository) Commit() error {
	if r.closed {
		return ErrSnapshotClosed
	}
	if r.child != nil {
		return ErrActiveChild
	}
	if r.parent == nil {
		return r.flush()
	}

	parent := r.parent
	for addr, account := range r.accounts {
		parent.accounts[addr] = account
	}
	for addr, values := range r.storage {
		slots, ok := parent.storage[addr]
		if !ok {
			parent.storage[addr] = values
			continue
		}
		for key, value := range values {
			slots[key] = value
		}
	}
	r.close()
	return nil
}

func (r *Repository) flush() error {
	if r.source == nil {
		return ErrNoParent
	}
	cs := &store.ChangeSet{Accounts: r.accounts, Storage: r.storage}
	if cs.Empty() {
		return nil
	}
	if err := r.source.Apply(cs); err != nil {
		return fmt.Errorf("failed to flush state: %w", err)
	}
	slog.Debug("state flushed", "accounts", len(r.accounts), "storage_accounts", len(r.storage))
	r.accounts = make(map[core.Address]*store.Account)
	r.storage = make(map[core.Address]map[string][]byte)
	return nil
}

// Rollback discards this snapshot's writes and closes it. On the root,
// pending writes are dropped and the root stays open.
func (r *Repository) Rollback() error {
	if r.closed {
		return ErrSnapshotClosed
	}
	if r.child != nil {
		return ErrActiveChild
	}
	if r.parent == nil {
		r.accounts = make(map[core.Address]*store.Account)
		r.storage = make(map[core.Address]map[string][]byte)
		return nil
	}
	r.close()
	return nil
}

func (r *Repository) close() {
	r.closed = true
	r.accounts = nil
	r.storage = nil
	if r.parent != nil && r.parent.child == r {
		r.parent.child = nil
	}
}
