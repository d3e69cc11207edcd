package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/permission"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/api"
	"github.com/trezcool/masomo-portal/tests"
)

const loginPayload = `{
	"accessToken": "fresh-token",
	"data": {
		"id": 7,
		"name": "Mwalimu Amani",
		"roleName": "Teacher",
		"role": {"name": "teacher:main", "permissions": [{"resource": "STUDENT", "action": "add"}]}
	}
}`

// fakeBackend mimics the Masomo API.
func fakeBackend(t *testing.T, unauthorized *int32) *httptest.Server {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if atomic.LoadInt32(unauthorized) == 1 || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"user not authenticated"}`))
				return
			}
			h(w, r)
		}
	}
	writeJSON := func(w http.ResponseWriter, v string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(v))
	}

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in api.LoginInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Username != "amani" || in.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"authentication failed"}`))
			return
		}
		writeJSON(w, loginPayload)
	})
	mux.HandleFunc("/v1/auth/refresh", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"accessToken":"refreshed-token"}`)
	}))
	mux.HandleFunc("/v1/me", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"id":"7","name":"Mwalimu Amani","type":"TEACHER"}`)
	}))
	mux.HandleFunc("/v1/schools", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `[{"id":"S1","name":"Lycée Wima"}]`)
	}))
	mux.HandleFunc("/v1/schools/S1/classes", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `[{"id":"C1","name":"6eme"}]`)
	}))
	mux.HandleFunc("/v1/classes/C1/divisions", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `[{"id":"D1","name":"A"},{"id":"D2","name":"B"}]`)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setup(t *testing.T, rec ...session.Record) (*api.Client, *session.Manager, *int32) {
	unauthorized := new(int32)
	srv := fakeBackend(t, unauthorized)
	mgr := testutil.NewManager(t, rec...)
	return api.NewClient(srv.URL+"/v1", mgr, testutil.NewLogger()), mgr, unauthorized
}

func TestClient_Login(t *testing.T) {
	ctx := context.Background()
	client, mgr, _ := setup(t)

	rec, err := client.Login(ctx, "amani", "secret")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", rec.AccessToken)
	assert.True(t, mgr.IsAuthenticated())
	assert.Equal(t, session.RoleTeacher, mgr.UserType(), "roleName is normalized once at login")

	usr, _ := mgr.CurrentUser()
	assert.Equal(t, "7", usr.ID)
	assert.Equal(t, "Mwalimu Amani", usr.DisplayName)
	assert.True(t, permission.HasPermission(mgr.CurrentPermissions(), "STUDENT", "add"))
}

func TestClient_LoginFailures(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		password   string
		wantErr    error
		wantStatus int
	}{
		{name: "blank username", username: " ", password: "secret", wantErr: api.ErrInvalidCredentials},
		{name: "no password", username: "amani", wantErr: api.ErrInvalidCredentials},
		{name: "wrong password", username: "amani", password: "nope", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mgr, _ := setup(t)

			_, err := client.Login(context.Background(), tt.username, tt.password)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var vErr *core.ValidationError
				assert.True(t, errors.As(err, &vErr))
			}
			if tt.wantStatus != 0 {
				var rErr *api.ResponseError
				require.True(t, errors.As(err, &rErr))
				assert.Equal(t, tt.wantStatus, rErr.StatusCode)
				assert.Equal(t, "authentication failed", rErr.Message)
			}
			assert.False(t, mgr.IsAuthenticated())
		})
	}
}

func TestClient_unauthorizedClearsSession(t *testing.T) {
	ctx := context.Background()
	client, mgr, unauthorized := setup(t, testutil.NewRecord("stale-token", "7", session.RoleTeacher))
	require.True(t, mgr.IsAuthenticated())

	atomic.StoreInt32(unauthorized, 1)
	_, err := client.Schools(ctx)

	require.Error(t, err, "the caller still observes the failure")
	assert.True(t, api.IsAuthorizationFailure(err))
	assert.False(t, mgr.IsAuthenticated(), "the session is cleared before the error is delivered")
	_, ok := mgr.Load(ctx)
	assert.False(t, ok, "the stored session is gone too")
}

func TestClient_networkErrorKeepsSession(t *testing.T) {
	mgr := testutil.NewManager(t, testutil.NewRecord("tok", "7", session.RoleTeacher))
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listens anymore

	client := api.NewClient(srv.URL+"/v1", mgr, testutil.NewLogger())
	_, err := client.Schools(context.Background())

	require.Error(t, err)
	assert.False(t, api.IsAuthorizationFailure(err))
	assert.True(t, mgr.IsAuthenticated())
}

func TestClient_Refresh(t *testing.T) {
	ctx := context.Background()
	client, mgr, _ := setup(t)

	_, err := client.Refresh(ctx)
	assert.True(t, api.IsAuthorizationFailure(err), "refresh needs a session")

	_, err = client.Login(ctx, "amani", "secret")
	require.NoError(t, err)
	rec, err := client.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, "refreshed-token", rec.AccessToken)
	tok, _ := mgr.Token()
	assert.Equal(t, "refreshed-token", tok)
	assert.Equal(t, session.RoleTeacher, mgr.UserType(), "the user is kept")
}

func TestClient_Logout(t *testing.T) {
	ctx := context.Background()
	client, mgr, _ := setup(t, testutil.NewRecord("tok", "7", session.RoleTeacher))

	require.NoError(t, client.Logout(ctx))
	require.NoError(t, client.Logout(ctx))
	assert.False(t, mgr.IsAuthenticated())

	_, err := client.Me(ctx)
	assert.True(t, api.IsAuthorizationFailure(err), "anonymous requests carry no token")
}

func TestClient_Me(t *testing.T) {
	client, _, _ := setup(t, testutil.NewRecord("tok", "7", session.RoleTeacher))

	usr, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "7", usr.ID)
	assert.Equal(t, session.RoleTeacher, usr.RoleType)
}

func TestClient_filterSource(t *testing.T) {
	client, _, _ := setup(t, testutil.NewRecord("tok", "7", session.RoleTeacher))

	lists, err := filter.Options(context.Background(), client, filter.Selection{SchoolID: "S1", ClassID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, []filter.Option{{ID: "S1", Name: "Lycée Wima"}}, lists.Schools)
	assert.Equal(t, []filter.Option{{ID: "C1", Name: "6eme"}}, lists.Classes)
	assert.Len(t, lists.Divisions, 2)
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name string
		err  *api.ResponseError
		want string
	}{
		{name: "message", err: &api.ResponseError{StatusCode: 400, Message: "authentication failed"}, want: "api: 400 authentication failed"},
		{name: "fields", err: &api.ResponseError{StatusCode: 400, Fields: map[string]string{"username": "required", "password": "required"}}, want: "api: 400 password: required, username: required"},
		{name: "empty", err: &api.ResponseError{StatusCode: 401}, want: "api: 401 Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewClient_args(t *testing.T) {
	srv := fakeBackend(t, new(int32))
	mgr := testutil.NewManager(t)

	var client *api.Client
	require.NotPanics(t, func() { client = api.NewClient(srv.URL+"/v1", mgr, core.NopLogger{}) })
	_, err := client.Login(context.Background(), "amani", "secret")
	require.NoError(t, err)
	assert.True(t, mgr.IsAuthenticated())

	assert.Panics(t, func() { api.NewClient("", mgr, core.NopLogger{}) })
	assert.Panics(t, func() { api.NewClient(srv.URL, nil, core.NopLogger{}) })
	assert.Panics(t, func() { api.NewClient(srv.URL, mgr, nil) })
}
