// Package account holds the accounts the development server authenticates.
package account

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrInvalidAccount = errors.New("invalid account")
)

// Directory is an in-memory account table.
type Directory struct {
	mu    sync.RWMutex
	table map[string]*Account
}

func NewDirectory() *Directory {
	return &Directory{table: make(map[string]*Account)}
}

func (d *Directory) Create(na NewAccount) (Account, error) {
	if err := na.Validate(); err != nil {
		return Account{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, acc := range d.table {
		if acc.Username == na.Username {
			return Account{}, ErrUsernameExists
		}
	}
	acc, err := na.build()
	if err != nil {
		return Account{}, errors.Wrap(err, "building account")
	}
	d.table[acc.ID] = &acc
	return acc, nil
}

func (d *Directory) GetByID(id string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if acc, ok := d.table[id]; ok {
		return *acc, nil
	}
	return Account{}, ErrNotFound
}

func (d *Directory) GetByUsername(username string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, acc := range d.table {
		if acc.Username == username {
			return *acc, nil
		}
	}
	return Account{}, ErrNotFound
}

// SetActive (de)activates an account; deactivated accounts can neither log in nor refresh.
func (d *Directory) SetActive(id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	acc, ok := d.table[id]
	if !ok {
		return ErrNotFound
	}
	acc.IsActive = active
	return nil
}

// All returns the accounts ordered by username.
func (d *Directory) All() []Account {
	d.mu.RLock()
	defer d.mu.RUnlock()

	accounts := make([]Account, 0, len(d.table))
	for _, acc := range d.table {
		accounts = append(accounts, *acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts
}
