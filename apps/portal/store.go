package main

import (
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/storage/credential/filestore"
	"github.com/trezcool/masomo-portal/storage/credential/inmemstore"
	"github.com/trezcool/masomo-portal/storage/credential/redisstore"
	"github.com/trezcool/masomo-portal/storage/credential/sqlxstore"
	"github.com/trezcool/masomo-portal/storage/database"
)

var errUnknownBackend = errors.New("unknown session backend")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the configured session backend, falling back to memory when it is unavailable.
func openStore(conf *core.Config, logger core.Logger) (credential.Store, io.Closer, error) {
	var primary credential.Store
	var closer io.Closer = nopCloser{}

	switch conf.Session.Backend {
	case core.BackendMemory:
		primary = inmemstore.New()
	case core.BackendFile:
		primary = filestore.New(conf.Session.FileDir)
	case core.BackendRedis:
		store := redisstore.Open(conf)
		primary, closer = store, store
	case core.BackendPostgres:
		db, err := openDBFunc(conf)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening session database")
		}
		primary, closer = sqlxstore.New(db), db
	default:
		return nil, nil, errors.Wrapf(errUnknownBackend, "%q", conf.Session.Backend)
	}
	return credential.NewFallbackStore(primary, logger), closer, nil
}

var openDBFunc = database.Open // mockable
