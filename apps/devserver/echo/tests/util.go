package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	. "github.com/trezcool/masomo-portal/apps/devserver/echo"
	"github.com/trezcool/masomo-portal/apps/devserver/school"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

func newConfig() *core.Config {
	conf := &core.Config{TestMode: true, AppName: "Masomo"}
	conf.Server.SecretKey = "test-secret"
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = time.Hour
	return conf
}

func setup(t *testing.T, conf ...*core.Config) (Server, *account.Directory) {
	c := newConfig()
	if len(conf) > 0 {
		c = conf[0]
	}

	accounts := account.NewDirectory()
	require.NoError(t, account.Seed(accounts))

	srv := NewServer(ServerDeps{
		Conf:           c,
		Logger:         testutil.NewLogger(),
		Accounts:       accounts,
		Catalog:        school.Demo(),
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = srv.Close() })
	return srv, accounts
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// getToken logs username in with the demo password.
func getToken(t *testing.T, srv Server, username string) string {
	req, rec := newRequest(http.MethodPost, "/v1/auth/login", marshallObj(t, LoginRequest{Username: username, Password: account.DemoPassword}))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

func runHTTPTests(t *testing.T, srv Server, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func decodeJSON(rec *httptest.ResponseRecorder, v interface{}) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
