package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/session"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Client talks to the Masomo backend on behalf of the current session.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Manager
	log     core.Logger
}

var _ filter.Source = (*Client)(nil)

type Option func(*Client)

// WithBaseTransport sets the transport under the session Transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport.(*Transport).Base = rt
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

func NewClient(baseURL string, mgr *session.Manager, logger core.Logger, opts ...Option) *Client {
	vala.BeginValidation().Validate(
		vala.StringNotEmpty(baseURL, "baseURL"),
		core.IsSet(mgr, "mgr"),
		core.IsSet(logger, "logger"),
	).CheckAndPanic()

	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: NewTransport(nil, mgr, logger),
		},
		session: mgr,
		log:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a Client from the api.* settings.
func NewClientFromConfig(conf *core.Config, mgr *session.Manager, logger core.Logger) *Client {
	return NewClient(conf.API.BaseURL, mgr, logger, WithTimeout(conf.API.Timeout))
}

func (c *Client) do(ctx context.Context, method, path string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newResponseError(resp)
	}

	switch t := target.(type) {
	case nil:
		return nil
	case *[]byte:
		*t, err = io.ReadAll(resp.Body)
		return errors.Wrap(err, "reading response")
	default:
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(target), "decoding response")
	}
}

type LoginInput struct {
	Username string `json:"username" validate:"notblank"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates against the backend and makes the returned session current.
//
// When the session could not be persisted, the session is returned along with an error matching
// credential.ErrStorageUnavailable: the user is logged in for this process only.
func (c *Client) Login(ctx context.Context, username, password string) (session.Record, error) {
	in := LoginInput{Username: username, Password: password}
	if err := core.Validate.Struct(in); err != nil {
		return session.Record{}, core.NewValidationError(ErrInvalidCredentials, core.FieldErrors(err)...)
	}

	var raw []byte
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &raw); err != nil {
		return session.Record{}, err
	}
	rec, err := session.Decode(raw)
	if err != nil {
		return session.Record{}, errors.Wrap(err, "decoding login response")
	}
	if err = c.session.SetSession(ctx, rec); err != nil && !isStorageWarning(err) {
		return session.Record{}, err
	}
	return rec, err
}

// Refresh exchanges the current token for a fresh one, keeping the user.
func (c *Client) Refresh(ctx context.Context) (session.Record, error) {
	cur, ok := c.session.Current()
	if !ok {
		return session.Record{}, &ResponseError{StatusCode: http.StatusUnauthorized, Message: "not logged in"}
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &resp); err != nil {
		return session.Record{}, err
	}
	cur.AccessToken = resp.AccessToken
	err := c.session.SetSession(ctx, cur)
	if err != nil && !isStorageWarning(err) {
		return session.Record{}, err
	}
	return cur, err
}

// Logout forgets the session locally; tokens are stateless on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.session.ClearSession(ctx)
}

// Me fetches the profile of the current user as the backend sees it.
func (c *Client) Me(ctx context.Context) (session.UserProfile, error) {
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/me", nil, &raw); err != nil {
		return session.UserProfile{}, err
	}
	return session.DecodeProfile(raw)
}

func (c *Client) Schools(ctx context.Context) ([]filter.Option, error) {
	var opts []filter.Option
	err := c.do(ctx, http.MethodGet, "/schools", nil, &opts)
	return opts, err
}

func (c *Client) Classes(ctx context.Context, schoolID string) ([]filter.Option, error) {
	var opts []filter.Option
	err := c.do(ctx, http.MethodGet, "/schools/"+url.PathEscape(schoolID)+"/classes", nil, &opts)
	return opts, err
}

func (c *Client) Divisions(ctx context.Context, classID string) ([]filter.Option, error) {
	var opts []filter.Option
	err := c.do(ctx, http.MethodGet, "/classes/"+url.PathEscape(classID)+"/divisions", nil, &opts)
	return opts, err
}

// the session is active but could not be persisted
func isStorageWarning(err error) bool {
	return errors.Is(err, credential.ErrStorageUnavailable)
}
