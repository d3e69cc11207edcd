// Package credential defines the durable key/value contract the session layer persists into.
package credential

import (
	"context"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

var (
	// errors
	ErrNotFound           = errors.New("credential not found")
	ErrStorageUnavailable = errors.New("credential storage unavailable")
)

// Store is a durable key/value storage backend.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove succeeds when the key is already absent.
	Remove(ctx context.Context, key string) error
}

type memEntry struct {
	value   string
	removed bool // tombstone: the durable value could not be removed
}

// FallbackStore degrades to memory whenever its primary backend fails.
//
// Reads never return anything but ErrNotFound; failed writes and removes are applied to memory
// and reported as ErrStorageUnavailable. A failed Remove leaves a tombstone so the stale durable
// value is not read back until the next successful Set.
type FallbackStore struct {
	primary Store
	log     core.Logger

	mu  sync.RWMutex
	mem map[string]memEntry
}

var _ Store = (*FallbackStore)(nil)

func NewFallbackStore(primary Store, logger core.Logger) *FallbackStore {
	vala.BeginValidation().Validate(
		core.IsSet(primary, "primary"),
		core.IsSet(logger, "logger"),
	).CheckAndPanic()

	return &FallbackStore{
		primary: primary,
		log:     logger,
		mem:     make(map[string]memEntry),
	}
}

func (s *FallbackStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, inMem := s.mem[key]
	s.mu.RUnlock()

	// memory only holds values the primary failed to take, so it is always the freshest
	if inMem {
		if entry.removed {
			return "", ErrNotFound
		}
		return entry.value, nil
	}

	val, err := s.primary.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("credential store read failed, treating as empty", errors.Wrapf(err, "get %q", key))
		}
		return "", ErrNotFound
	}
	return val, nil
}

func (s *FallbackStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.primary.Set(ctx, key, value); err != nil {
		s.mem[key] = memEntry{value: value}
		s.log.Warn("credential store write failed, value kept in memory", errors.Wrapf(err, "set %q", key))
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	delete(s.mem, key)
	return nil
}

func (s *FallbackStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.primary.Remove(ctx, key); err != nil {
		s.mem[key] = memEntry{removed: true}
		s.log.Warn("credential store remove failed, value masked in memory", errors.Wrapf(err, "remove %q", key))
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	delete(s.mem, key)
	return nil
}
