package main

import (
	"bytes"
	"context"
	"database/sql"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	echoapi "github.com/trezcool/masomo-portal/apps/devserver/echo"
	"github.com/trezcool/masomo-portal/apps/devserver/school"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/api"
	"github.com/trezcool/masomo-portal/storage/credential/inmemstore"
	"github.com/trezcool/masomo-portal/storage/database"
	"github.com/trezcool/masomo-portal/tests"
)

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    []string
}

type testCLI struct {
	*commandLine
	buf    *bytes.Buffer
	logger *testutil.Logger
	store  *inmemstore.Store
}

func newTestConfig() *core.Config {
	conf := &core.Config{TestMode: true, AppName: "Masomo"}
	conf.Session.StorageKey = "masomo.session"
	conf.Server.SecretKey = "test-secret"
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = time.Hour
	return conf
}

func setup(t *testing.T, conf ...*core.Config) *testCLI {
	c := newTestConfig()
	if len(conf) > 0 {
		c = conf[0]
	}

	accounts := account.NewDirectory()
	require.NoError(t, account.Seed(accounts))
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:           c,
		Logger:         testutil.NewLogger(),
		Accounts:       accounts,
		Catalog:        school.Demo(),
		DisableReqLogs: true,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	logger := testutil.NewLogger()
	store := inmemstore.New()
	mgr := session.NewManager(store, c.Session.StorageKey, logger)
	client := api.NewClient(ts.URL+"/v1", mgr, logger)
	buf := new(bytes.Buffer)

	t.Cleanup(func() {
		readPasswordFunc = term.ReadPassword
		migrateFunc = database.Migrate
		openDBFunc = database.Open
	})
	return &testCLI{
		commandLine: &commandLine{
			conf:   c,
			logger: logger,
			store:  store,
			mgr:    mgr,
			client: client,
			source: newFilterSource(c, client, mgr),
			out:    buf,
		},
		buf:    buf,
		logger: logger,
		store:  store,
	}
}

func (cli *testCLI) exec(args ...string) (string, error) {
	cli.buf.Reset()
	err := cli.run(append([]string{"portal"}, args...))
	return cli.buf.String(), err
}

func (cli *testCLI) login(t *testing.T, username string) {
	readPasswordFunc = func(int) ([]byte, error) { return []byte(account.DemoPassword), nil }
	_, err := cli.exec("login", "-u", username)
	require.NoError(t, err)
}

func runCLITests(t *testing.T, cli *testCLI, tests []cliTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := cli.exec(tt.args...)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrStr)
			default:
				assert.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	runCLITests(t, setup(t), []cliTest{
		{name: "no command", wantErr: errHelp, wantOut: []string{"Available Commands:"}},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol"`},
		{name: "login without username", args: []string{"login"}, wantErr: errHelp},
		{name: "open without screen", args: []string{"open"}, wantErrStr: "accepts 1 arg(s)"},
		{name: "migrate without command", args: []string{"migrate"}, wantErr: errHelp},
	})
}

func Test_commandLine_login(t *testing.T) {
	cli := setup(t)

	readPasswordFunc = func(int) ([]byte, error) { return []byte("nope"), nil }
	_, err := cli.exec("login", "-u", "teacher")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
	assert.False(t, cli.mgr.IsAuthenticated())

	readPasswordFunc = func(int) ([]byte, error) { return nil, nil }
	_, err = cli.exec("login", "-u", "teacher")
	assert.ErrorIs(t, err, errHelp)

	readPasswordFunc = func(int) ([]byte, error) { return []byte(account.DemoPassword), nil }
	out, err := cli.exec("login", "-u", "teacher")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Mwalimu Amani (TEACHER)")

	// the session survives the process
	other := session.NewManager(cli.store, cli.conf.Session.StorageKey, testutil.NewLogger())
	_, ok := other.Load(context.Background())
	assert.True(t, ok)

	runCLITests(t, cli, []cliTest{
		{name: "whoami", args: []string{"whoami"}, wantOut: []string{"name:        Mwalimu Amani", "role:        TEACHER", "STUDENT:add"}},
		{name: "whoami remote", args: []string{"whoami", "--remote"}, wantOut: []string{"role:        TEACHER"}},
		{name: "refresh", args: []string{"refresh"}, wantOut: []string{"Session refreshed"}},
		{name: "logout", args: []string{"logout"}, wantOut: []string{"Logged out"}},
		{name: "whoami after logout", args: []string{"whoami"}, wantOut: []string{"Not logged in"}},
		{name: "refresh after logout", args: []string{"refresh"}, wantErr: errSessionExpired},
	})
}

func Test_commandLine_sessionExpired(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	require.NoError(t, cli.mgr.SetSession(ctx, testutil.NewRecord("forged", "x", session.RoleTeacher)))

	_, err := cli.exec("whoami", "--remote")
	assert.ErrorIs(t, err, errSessionExpired)
	assert.False(t, cli.mgr.IsAuthenticated())

	_, err = cli.store.Get(ctx, cli.conf.Session.StorageKey)
	assert.ErrorIs(t, err, credential.ErrNotFound, "the next process starts logged out")
}

func Test_commandLine_open(t *testing.T) {
	t.Run("logged out", func(t *testing.T) {
		runCLITests(t, setup(t), []cliTest{
			{name: "open screen", args: []string{"open", "students"}, wantOut: []string{"You are not logged in"}},
			{name: "open public screen", args: []string{"open", "dashboard"}, wantOut: []string{"You are not logged in"}},
		})
	})

	t.Run("teacher", func(t *testing.T) {
		cli := setup(t)
		cli.login(t, "teacher")
		runCLITests(t, cli, []cliTest{
			{name: "dashboard", args: []string{"open", "dashboard"}, wantOut: []string{"Welcome Mwalimu Amani! (TEACHER)"}},
			{name: "allowed", args: []string{"open", "students.add"}, wantOut: []string{"Add a student"}},
			{name: "denied", args: []string{"open", "fees"}, wantOut: []string{"Permission denied"}},
			{name: "schools", args: []string{"open", "schools"}, wantOut: []string{"wima\tLycée Wima", "maele\tInstitut Maele"}},
			{name: "typo", args: []string{"open", "studnets"}, wantErrStr: "did you mean students"},
			{name: "unknown", args: []string{"open", "xyz"}, wantErrStr: `unknown screen`},
			{name: "screens", args: []string{"screens"}, wantOut: []string{"fees", "FEES:view", "denied", "students.add"}},
		})
	})

	t.Run("admin", func(t *testing.T) {
		cli := setup(t)
		cli.login(t, "admin")

		out, err := cli.exec("open", "settings")
		require.NoError(t, err)
		assert.Contains(t, out, "Permission denied", "the admin role grants nothing by itself")
	})

	t.Run("admin override", func(t *testing.T) {
		conf := newTestConfig()
		conf.Guard.AdminImpliesAll = true
		cli := setup(t, conf)
		cli.login(t, "admin")

		out, err := cli.exec("open", "settings")
		require.NoError(t, err)
		assert.Contains(t, out, "Settings")
	})

	t.Run("student without override", func(t *testing.T) {
		cli := setup(t)
		cli.login(t, "student")

		out, err := cli.exec("open", "students")
		require.NoError(t, err)
		assert.Contains(t, out, "Permission denied")
	})
}

func Test_commandLine_policies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("screens:\n  fees: \"\"\n  dashboard: FEES:view\n"), 0o600))

	conf := newTestConfig()
	conf.Guard.PoliciesFile = path
	cli := setup(t, conf)
	cli.login(t, "teacher")

	runCLITests(t, cli, []cliTest{
		{name: "requirement lifted", args: []string{"open", "fees"}, wantOut: []string{"Fees"}},
		{name: "requirement added", args: []string{"open", "dashboard"}, wantOut: []string{"Permission denied"}},
		{name: "untouched", args: []string{"open", "students.add"}, wantOut: []string{"Add a student"}},
	})

	require.NoError(t, os.WriteFile(path, []byte("screens:\n  fees: FEES\n"), 0o600))
	_, err := cli.exec("open", "fees")
	assert.Error(t, err)
}

func Test_commandLine_filter(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)
	cli.login(t, "admin")
	key := cli.conf.Session.StorageKey + ".filter"

	saved := func() string {
		raw, err := cli.store.Get(ctx, key)
		if err != nil {
			return ""
		}
		return raw
	}

	out, err := cli.exec("filter")
	require.NoError(t, err)
	assert.Contains(t, out, "    wima\tLycée Wima")
	assert.NotContains(t, out, "Class:")
	assert.Empty(t, saved())

	out, err = cli.exec("filter", "--school", "wima")
	require.NoError(t, err)
	assert.Contains(t, out, "  * wima\tLycée Wima")
	assert.Contains(t, out, "Class:")

	out, err = cli.exec("filter", "--class", "wima-6", "--division", "wima-6-b")
	require.NoError(t, err)
	assert.Contains(t, out, "  * wima-6\t6eme")
	assert.Contains(t, out, "  * wima-6-b\tB")
	assert.Equal(t, "schoolId: wima\nclassId: wima-6\ndivisionId: wima-6-b\n", saved())

	// a new school drops the class and division
	out, err = cli.exec("filter", "--school", "maele")
	require.NoError(t, err)
	assert.Contains(t, out, "  * maele\tInstitut Maele")
	assert.NotContains(t, out, "Division:")
	assert.Equal(t, "schoolId: maele\n", saved())

	_, err = cli.exec("filter", "--clear")
	require.NoError(t, err)
	assert.Empty(t, saved())
	assert.Zero(t, cli.logger.Count("WARN"))
}

// countingSource counts the school lists it serves.
type countingSource struct {
	filter.Source
	schools int
}

func (s *countingSource) Schools(ctx context.Context) ([]filter.Option, error) {
	s.schools++
	return s.Source.Schools(ctx)
}

func Test_newFilterSource_purgesOnSessionChange(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)
	src := &countingSource{Source: school.Demo()}
	cached := newFilterSource(cli.conf, src, cli.mgr)

	fetch := func() {
		t.Helper()
		opts, err := cached.Schools(ctx)
		require.NoError(t, err)
		require.Len(t, opts, 2)
	}

	fetch()
	fetch()
	assert.Equal(t, 1, src.schools, "lists are cached")

	cli.login(t, "teacher")
	fetch()
	assert.Equal(t, 2, src.schools, "login drops the lists of the previous user")

	_, err := cli.exec("logout")
	require.NoError(t, err)
	fetch()
	fetch()
	assert.Equal(t, 3, src.schools, "logout drops them too")
}

func Test_commandLine_filterRepairsSavedSelection(t *testing.T) {
	ctx := context.Background()
	cli := setup(t)
	cli.login(t, "admin")
	key := cli.conf.Session.StorageKey + ".filter"

	require.NoError(t, cli.store.Set(ctx, key, "classId: wima-6\ndivisionId: wima-6-a\n"))
	out, err := cli.exec("filter", "--class", "wima-5")
	require.NoError(t, err)
	assert.NotContains(t, out, "Class:", "a class needs a school")
	assert.Equal(t, 2, cli.logger.Count("WARN"), "the saved orphan and the new orphan are both corrected")

	require.NoError(t, cli.store.Set(ctx, key, "{not yaml"))
	_, err = cli.exec("filter")
	require.NoError(t, err)
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotArgs []string
	migrateFunc = func(db *sql.DB, cmd ...string) error {
		gotArgs = cmd
		return nil
	}
	openDBFunc = func(*core.Config) (*sqlx.DB, error) {
		return sqlx.Open("postgres", "postgres://localhost/masomo_portal?sslmode=disable")
	}

	_, err := cli.exec("migrate", "up-to", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"up-to", "1"}, gotArgs)

	// the help lists exactly what the database package runs
	out, err := cli.exec()
	require.ErrorIs(t, err, errHelp)
	assert.Contains(t, out, "down, down-to, redo, status, up, up-by-one, up-to, version")
}

func Test_openStore(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr error
	}{
		{name: "memory", backend: core.BackendMemory},
		{name: "file", backend: core.BackendFile},
		{name: "unknown", backend: "floppy", wantErr: errUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := newTestConfig()
			conf.Session.Backend = tt.backend
			conf.Session.FileDir = t.TempDir()

			store, closer, err := openStore(conf, testutil.NewLogger())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer closer.Close()

			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "k", "v"))
			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", got)
		})
	}
}
