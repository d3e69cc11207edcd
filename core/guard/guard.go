// Package guard decides, on every render, whether a screen may be shown to the current session.
package guard

import (
	"context"
	"fmt"
	"io"

	"github.com/kat-co/vala"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
	"github.com/trezcool/masomo-portal/core/session"
)

// State of one navigation attempt.
type State int

const (
	Checking State = iota
	Allowed
	Denied
	Redirected
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Redirected:
		return "redirected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Screen is anything the portal can render.
type Screen interface {
	Render(ctx context.Context, w io.Writer) error
}

// ScreenFunc adapts a function to a Screen.
type ScreenFunc func(ctx context.Context, w io.Writer) error

func (f ScreenFunc) Render(ctx context.Context, w io.Writer) error {
	return f(ctx, w)
}

// TextScreen renders a fixed line.
func TextScreen(text string) Screen {
	return ScreenFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintln(w, text)
		return err
	})
}

var (
	DefaultLoginScreen  = TextScreen("You are not logged in. Run `portal login` first.")
	DefaultDeniedScreen = TextScreen("Permission denied: your account cannot open this screen.")
)

// SessionSource yields a consistent snapshot of the current session.
type SessionSource interface {
	Current() (session.Record, bool)
}

// Spec attaches an optional required permission to a target screen.
type Spec struct {
	Required *permission.Code
	Target   Screen
}

// Require is a helper for Spec.Required.
func Require(resource, action string) *permission.Code {
	code := permission.New(resource, action)
	return &code
}

type options struct {
	login         Screen
	denied        Screen
	adminOverride bool
	observers     []func(State)
}

type Option func(*options)

func WithLoginScreen(s Screen) Option {
	return func(o *options) { o.login = s }
}

func WithDeniedScreen(s Screen) Option {
	return func(o *options) { o.denied = s }
}

// WithAdminOverride lets ADMIN sessions pass every permission check. Off by default: admins
// are granted access by the permission codes issued to them, like everybody else.
func WithAdminOverride(enabled bool) Option {
	return func(o *options) { o.adminOverride = enabled }
}

// WithObserver calls fn with every state a navigation attempt goes through.
func WithObserver(fn func(State)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// Guarded is a Screen that re-evaluates access each time it renders. It keeps no verdict between
// renders, so a session change is seen by the very next one.
type Guarded struct {
	src  SessionSource
	spec Spec
	opts options
}

var _ Screen = (*Guarded)(nil)

// Wrap guards spec.Target. The result can stand in for the target anywhere a Screen is expected.
func Wrap(src SessionSource, spec Spec, opts ...Option) *Guarded {
	vala.BeginValidation().Validate(
		core.IsSet(src, "src"),
		core.IsSet(spec.Target, "spec.Target"),
	).CheckAndPanic()

	o := options{login: DefaultLoginScreen, denied: DefaultDeniedScreen}
	for _, opt := range opts {
		opt(&o)
	}
	if spec.Required != nil {
		req := *spec.Required
		spec.Required = &req
	}
	return &Guarded{src: src, spec: spec, opts: o}
}

// Required returns the permission the screen needs, if any.
func (g *Guarded) Required() (permission.Code, bool) {
	if g.spec.Required == nil {
		return permission.Code{}, false
	}
	return *g.spec.Required, true
}

// Check resolves the current navigation attempt without rendering anything.
func (g *Guarded) Check() State {
	g.observe(Checking)
	state := g.decide()
	g.observe(state)
	return state
}

func (g *Guarded) decide() State {
	rec, ok := g.src.Current()
	if !ok || rec.User == nil {
		return Redirected
	}
	req := g.spec.Required
	if req == nil {
		return Allowed
	}
	if g.opts.adminOverride && rec.User.RoleType == session.RoleAdmin {
		return Allowed
	}
	if permission.HasPermission(rec.User.PermissionSet(), req.Resource, req.Action) {
		return Allowed
	}
	return Denied
}

func (g *Guarded) observe(s State) {
	for _, fn := range g.opts.observers {
		fn(s)
	}
}

// Render shows the target, the login view or the denial view. Denial does not navigate away.
func (g *Guarded) Render(ctx context.Context, w io.Writer) error {
	_, err := g.RenderState(ctx, w)
	return err
}

// RenderState is Render reporting the state it resolved to.
func (g *Guarded) RenderState(ctx context.Context, w io.Writer) (State, error) {
	state := g.Check()
	switch state {
	case Allowed:
		return state, g.spec.Target.Render(ctx, w)
	case Redirected:
		return state, g.opts.login.Render(ctx, w)
	default:
		return state, g.opts.denied.Render(ctx, w)
	}
}
