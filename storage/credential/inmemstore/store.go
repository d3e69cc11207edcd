// Package inmemstore is a process-local credential.Store, used in tests and headless runs.
package inmemstore

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-portal/core/credential"
)

type Store struct {
	mutex sync.RWMutex
	table map[string]string
}

var _ credential.Store = (*Store)(nil)

func New() *Store {
	return &Store{table: make(map[string]string)}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	val, ok := s.table[key]
	if !ok {
		return "", credential.ErrNotFound
	}
	return val, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.table[key] = value
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.table, key)
	return nil
}
