// Package filestore keeps each credential in its own file under a directory.
package filestore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/credential"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

type Store struct {
	dir string
}

var _ credential.Store = (*Store)(nil)

// New does not touch the disk; the directory is created on the first Set.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// keys are hex-encoded so any key maps to a safe file name
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+".json")
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", credential.ErrNotFound
		}
		return "", errors.Wrap(err, "reading credential file")
	}
	return string(b), nil
}

// Set replaces the file atomically: readers see the old or the new value, never a partial one.
func (s *Store) Set(_ context.Context, key, value string) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return errors.Wrap(err, "creating credential dir")
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating credential file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if _, err = tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing credential file")
	}
	if err = tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing credential file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "writing credential file")
	}
	if err = os.Rename(tmpName, s.path(key)); err != nil {
		return errors.Wrap(err, "replacing credential file")
	}
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing credential file")
	}
	return nil
}
