// Package database opens and prepares the Postgres database backing the "postgres" session
// backend.
package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"

	"github.com/trezcool/masomo-portal/core"
	appfs "github.com/trezcool/masomo-portal/fs"
)

var gooseRunFunc = runGoose // mockable

func dsn(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func open(dbName string, admin bool, conf *core.Config) (*sqlx.DB, error) {
	return sqlx.Open(conf.Database.Engine, dsn(dbName, admin, conf))
}

// Open connects to the portal database and waits for it to answer.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := open(conf.Database.Name, false, conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func exists(db *sqlx.DB, query, name string) (bool, error) {
	var found bool
	err := db.Get(&found, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return found, err
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		if _, err = db.Exec(createUserQuery(conf)); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

// DDL takes no bind parameters, so names and the password are quoted instead.
func createUserQuery(conf *core.Config) string {
	return fmt.Sprintf("CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s",
		pq.QuoteIdentifier(conf.Database.User), pq.QuoteLiteral(conf.Database.Password))
}

func createDBQuery(conf *core.Config) string {
	return "CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec(createDBQuery(conf)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app user (as admin) and the portal database (as the app user).
func CreateIfNotExist(conf *core.Config) error {
	adminDB, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = adminDB.Close() }()

	if err = ping(adminDB.DB); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(adminDB, conf); err != nil {
		return errors.Wrap(err, "creating app user")
	}

	db, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	return createDB(db, conf)
}

// Migrate runs the embedded goose migrations; cmd is one of MigrateCommands followed by its
// arguments, up by default.
func Migrate(db *sql.DB, cmd ...string) error {
	command, args := "up", []string(nil)
	if len(cmd) > 0 {
		command, args = cmd[0], cmd[1:]
	}
	if err := gooseRunFunc(command, db, appfs.FS, "migrations", args...); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// gooseCommands are the goose commands taking no argument.
var gooseCommands = map[string]func(db *sql.DB, fsys fs.FS, dir string) error{
	"up":        goose.Up,
	"up-by-one": goose.UpByOne,
	"down":      goose.Down,
	"redo":      goose.Redo,
	"status":    goose.Status,
	"version":   func(db *sql.DB, _ fs.FS, dir string) error { return goose.Version(db, dir) },
}

// MigrateCommands lists what Migrate understands, sorted.
var MigrateCommands = func() []string {
	cmds := []string{"up-to", "down-to"}
	for cmd := range gooseCommands {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	return cmds
}()

func runGoose(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
	if run, ok := gooseCommands[command]; ok {
		return run(db, fsys, dir)
	}
	switch command {
	case "up-to", "down-to":
		if len(args) == 0 {
			return fmt.Errorf("%s must be of form: migrate %s VERSION", command, command)
		}
		version, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version must be a number (got '%s')", args[0])
		}
		if command == "up-to" {
			return goose.UpTo(db, fsys, dir, version)
		}
		return goose.DownTo(db, fsys, dir, version)
	default:
		return fmt.Errorf("%q: no such command", command)
	}
}
