package guard

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/permission"
)

var (
	ErrUnknownScreen   = errors.New("unknown screen")
	ErrDuplicateScreen = errors.New("screen already registered")
	ErrInvalidPolicy   = errors.New("invalid screen policy")
)

const (
	suggestMinRatio = 0.6
	suggestMax      = 3
)

// Registry maps screen names to guarded screens. Registrations are final.
type Registry struct {
	src  SessionSource
	opts []Option

	mu      sync.RWMutex
	screens map[string]*Guarded
}

// NewRegistry guards every registered screen against src with opts.
func NewRegistry(src SessionSource, opts ...Option) *Registry {
	vala.BeginValidation().Validate(
		core.IsSet(src, "src"),
	).CheckAndPanic()
	return &Registry{src: src, opts: opts, screens: make(map[string]*Guarded)}
}

// Register guards screen under name; required may be nil for screens open to any session.
func (r *Registry) Register(name string, screen Screen, required *permission.Code) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.Wrap(ErrUnknownScreen, "empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.screens[name]; ok {
		return errors.Wrapf(ErrDuplicateScreen, "%q", name)
	}
	r.screens[name] = Wrap(r.src, Spec{Required: required, Target: screen}, r.opts...)
	return nil
}

func (r *Registry) Lookup(name string) (*Guarded, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.screens[name]
	return g, ok
}

// Open renders the screen registered under name for the current session.
func (r *Registry) Open(ctx context.Context, name string, w io.Writer) (State, error) {
	g, ok := r.Lookup(name)
	if !ok {
		return Checking, errors.Wrapf(ErrUnknownScreen, "%q", name)
	}
	return g.RenderState(ctx, w)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.screens))
	for name := range r.screens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Suggest returns the registered names closest to name, best first.
func (r *Registry) Suggest(name string) []string {
	type match struct {
		name  string
		ratio float64
	}
	var matches []match
	for _, candidate := range r.Names() {
		ratio := difflib.NewMatcher(strings.Split(name, ""), strings.Split(candidate, "")).QuickRatio()
		if ratio >= suggestMinRatio {
			matches = append(matches, match{candidate, ratio})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ratio > matches[j].ratio })

	if len(matches) > suggestMax {
		matches = matches[:suggestMax]
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.name)
	}
	return names
}

// Policies maps screen names to their required permission. A nil entry means "any session".
type Policies map[string]*permission.Code

// Lookup returns the requirement of name, nil when it has none or is not listed.
func (p Policies) Lookup(name string) *permission.Code {
	return p[name]
}

// LoadPolicies reads a YAML document of the form
//
//	screens:
//	  students.add: STUDENT:add
//	  dashboard: ""
func LoadPolicies(rd io.Reader) (Policies, error) {
	var doc struct {
		Screens map[string]string `yaml:"screens" validate:"dive,keys,notblank,endkeys,omitempty,permcode"`
	}
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding screen policies")
	}
	if err := core.Validate.Struct(doc); err != nil {
		return nil, core.NewValidationError(ErrInvalidPolicy, core.FieldErrors(err)...)
	}

	policies := make(Policies, len(doc.Screens))
	for name, raw := range doc.Screens {
		if raw == "" {
			policies[name] = nil
			continue
		}
		code, _ := permission.Parse(raw) // validated above
		policies[name] = &code
	}
	return policies, nil
}
