// Package api is the portal's HTTP access to the Masomo backend: a session-aware
// http.RoundTripper and the client built on it.
package api

import (
	"context"
	"net/http"

	"github.com/kat-co/vala"

	"github.com/trezcool/masomo-portal/core"
)

// SessionSource is what the Transport needs from the session manager.
type SessionSource interface {
	Token() (string, bool)
	ClearSession(ctx context.Context) error
}

// Transport stamps outbound requests with the session's bearer token and logs the session out
// when the backend answers 401.
//
// A body sent without a Content-Type is JSON. Multipart and binary uploads keep the content type
// (and boundary) set by their writer.
//
// Network errors are returned unchanged and never touch the session. A 401 response is still
// returned to the caller, after the session has been cleared.
type Transport struct {
	Base    http.RoundTripper // http.DefaultTransport when nil
	Session SessionSource
	Logger  core.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

func NewTransport(base http.RoundTripper, src SessionSource, logger core.Logger) *Transport {
	vala.BeginValidation().Validate(
		core.IsSet(src, "src"),
		core.IsSet(logger, "logger"),
	).CheckAndPanic()
	return &Transport{Base: base, Session: src, Logger: logger}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())

	if hasBody(out) && out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}
	if token, ok := t.Session.Token(); ok && token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// the caller may already be gone; the logout must happen regardless
		ctx := context.WithoutCancel(req.Context())
		if cErr := t.Session.ClearSession(ctx); cErr != nil {
			t.Logger.Warn("clearing session after 401", cErr, map[string]interface{}{"url": req.URL.String()})
		}
	}
	return resp, nil
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}
