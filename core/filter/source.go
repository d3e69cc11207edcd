package filter

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Option is one selectable entry of a filter level.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source serves the option lists of each level; classes depend on the school and divisions on
// the class.
type Source interface {
	Schools(ctx context.Context) ([]Option, error)
	Classes(ctx context.Context, schoolID string) ([]Option, error)
	Divisions(ctx context.Context, classID string) ([]Option, error)
}

// OptionLists holds what a filter view offers for a given Selection.
// A level whose parent is unset has no options.
type OptionLists struct {
	Schools   []Option
	Classes   []Option
	Divisions []Option
}

// Options fetches the lists matching sel, concurrently.
func Options(ctx context.Context, src Source, sel Selection) (OptionLists, error) {
	var lists OptionLists
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		lists.Schools, err = src.Schools(ctx)
		return errors.Wrap(err, "fetching schools")
	})
	if sel.SchoolID != "" {
		g.Go(func() (err error) {
			lists.Classes, err = src.Classes(ctx, sel.SchoolID)
			return errors.Wrapf(err, "fetching classes of school %s", sel.SchoolID)
		})
	}
	if sel.SchoolID != "" && sel.ClassID != "" {
		g.Go(func() (err error) {
			lists.Divisions, err = src.Divisions(ctx, sel.ClassID)
			return errors.Wrapf(err, "fetching divisions of class %s", sel.ClassID)
		})
	}

	if err := g.Wait(); err != nil {
		return OptionLists{}, err
	}
	return lists, nil
}

// CachedSource memoizes the lists of another Source for a while. Failures are not cached.
type CachedSource struct {
	src   Source
	cache *expirable.LRU[string, []Option]
}

var _ Source = (*CachedSource)(nil)

// NewCachedSource keeps at most size lists (0 = unbounded), each for ttl.
func NewCachedSource(src Source, size int, ttl time.Duration) *CachedSource {
	return &CachedSource{
		src:   src,
		cache: expirable.NewLRU[string, []Option](size, nil, ttl),
	}
}

func (cs *CachedSource) get(key string, fetch func() ([]Option, error)) ([]Option, error) {
	if opts, ok := cs.cache.Get(key); ok {
		return opts, nil
	}
	opts, err := fetch()
	if err != nil {
		return nil, err
	}
	cs.cache.Add(key, opts)
	return opts, nil
}

func (cs *CachedSource) Schools(ctx context.Context) ([]Option, error) {
	return cs.get("schools", func() ([]Option, error) { return cs.src.Schools(ctx) })
}

func (cs *CachedSource) Classes(ctx context.Context, schoolID string) ([]Option, error) {
	return cs.get("classes:"+schoolID, func() ([]Option, error) { return cs.src.Classes(ctx, schoolID) })
}

func (cs *CachedSource) Divisions(ctx context.Context, classID string) ([]Option, error) {
	return cs.get("divisions:"+classID, func() ([]Option, error) { return cs.src.Divisions(ctx, classID) })
}

// Purge drops every cached list, e.g. when the user changes.
func (cs *CachedSource) Purge() {
	cs.cache.Purge()
}
