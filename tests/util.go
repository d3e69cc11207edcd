package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/storage/credential/inmemstore"
	"github.com/trezcool/masomo-portal/storage/database"
)

// Entry is one captured log call.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger captures log calls for assertions.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Count returns how many entries were logged at level.
func (l *Logger) Count(level string) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// NewRecord builds a valid session record.
func NewRecord(token, id string, role session.RoleType, perms ...string) session.Record {
	codes := make([]permission.Code, 0, len(perms))
	for _, p := range perms {
		code, err := permission.Parse(p)
		if err != nil {
			panic(fmt.Sprintf("NewRecord(%q): %v", p, err))
		}
		codes = append(codes, code)
	}
	return session.Record{
		AccessToken: token,
		User: &session.UserProfile{
			ID:          id,
			DisplayName: "User " + id,
			RoleType:    role,
			Permissions: codes,
		},
	}
}

// NewManager returns a session manager over an in-memory store, optionally logged in with rec.
func NewManager(t *testing.T, rec ...session.Record) *session.Manager {
	t.Helper()
	mgr := session.NewManager(inmemstore.New(), "masomo.session", NewLogger())
	if len(rec) > 0 {
		if err := mgr.SetSession(context.Background(), rec[0]); err != nil {
			t.Fatalf("NewManager() failed: %v", err)
		}
	}
	return mgr
}

// OpenDB connects to the test database described by TEST_DATABASE_* variables, migrates it and
// skips the test when TEST_DATABASE_HOST is not set.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TEST_DATABASE_HOST not set")
	}

	conf := core.NewConfig()
	conf.Database.Host = host
	if port := os.Getenv("TEST_DATABASE_PORT"); port != "" {
		conf.Database.Port = port
	}
	if name := os.Getenv("TEST_DATABASE_NAME"); name != "" {
		conf.Database.Name = name
	}
	conf.Database.User = os.Getenv("TEST_DATABASE_USER")
	conf.Database.Password = os.Getenv("TEST_DATABASE_PASSWORD")

	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	if err := database.Migrate(db.DB); err != nil {
		t.Fatalf("OpenDB() migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
