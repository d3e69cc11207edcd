// Package filter implements the cascading School -> Class -> Division selection shared by every
// filter-bearing view of the portal.
package filter

import (
	"sync"

	"github.com/kat-co/vala"

	"github.com/trezcool/masomo-portal/core"
)

// Selection is a partial School -> Class -> Division choice. An empty ID means "unset".
//
// A valid Selection never has a class without a school, nor a division without a class.
type Selection struct {
	SchoolID   string `json:"schoolId,omitempty" yaml:"schoolId,omitempty"`
	ClassID    string `json:"classId,omitempty" yaml:"classId,omitempty"`
	DivisionID string `json:"divisionId,omitempty" yaml:"divisionId,omitempty"`
}

func (s Selection) Valid() bool {
	return (s.ClassID == "" || s.SchoolID != "") && (s.DivisionID == "" || s.ClassID != "")
}

// Corrected drops the levels whose parent is unset.
func (s Selection) Corrected() Selection {
	if s.SchoolID == "" {
		s.ClassID = ""
	}
	if s.ClassID == "" {
		s.DivisionID = ""
	}
	return s
}

// Listener receives the full selection after each change.
type Listener func(Selection)

// Controller owns one Selection. Every mutating call emits exactly one notification carrying the
// resulting Selection, and a Selection breaking the hierarchy is never observable.
type Controller struct {
	log core.Logger

	mu sync.Mutex // serializes mutations and their notifications

	smu sync.RWMutex
	sel Selection

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewController(logger core.Logger, initial ...Selection) *Controller {
	vala.BeginValidation().Validate(
		core.IsSet(logger, "logger"),
	).CheckAndPanic()

	c := &Controller{log: logger, listeners: make(map[int]Listener)}
	if len(initial) > 0 {
		c.sel = c.correct("initial", initial[0])
	}
	return c
}

func (c *Controller) Selection() Selection {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.sel
}

// SelectSchool sets the school and always clears the class and the division.
func (c *Controller) SelectSchool(id string) {
	c.update(func(Selection) Selection {
		return Selection{SchoolID: id}
	})
}

// SelectClass sets the class and clears the division.
func (c *Controller) SelectClass(id string) {
	c.update(func(cur Selection) Selection {
		next := Selection{SchoolID: cur.SchoolID, ClassID: id}
		return c.correct("selectClass", next)
	})
}

func (c *Controller) SelectDivision(id string) {
	c.update(func(cur Selection) Selection {
		cur.DivisionID = id
		return c.correct("selectDivision", cur)
	})
}

func (c *Controller) ClearAll() {
	c.update(func(Selection) Selection {
		return Selection{}
	})
}

// SyncFromExternal adopts a selection supplied by the owning view as is, without cascading.
// An inconsistent selection is corrected first.
func (c *Controller) SyncFromExternal(sel Selection) {
	c.update(func(Selection) Selection {
		return c.correct("syncFromExternal", sel)
	})
}

func (c *Controller) correct(op string, sel Selection) Selection {
	if sel.Valid() {
		return sel
	}
	fixed := sel.Corrected()
	c.log.Warn("filter invariant violation corrected", map[string]interface{}{
		"op":        op,
		"received":  sel,
		"corrected": fixed,
	})
	return fixed
}

func (c *Controller) update(fn func(Selection) Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.smu.Lock()
	c.sel = fn(c.sel)
	sel := c.sel
	c.smu.Unlock()

	c.notify(sel)
}

// Subscribe registers l and returns a function removing it.
// Listeners may read the Controller but must not mutate it.
func (c *Controller) Subscribe(l Listener) (unsubscribe func()) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Controller) notify(sel Selection) {
	c.lmu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.lmu.Unlock()

	for _, l := range ls {
		l(sel)
	}
}
