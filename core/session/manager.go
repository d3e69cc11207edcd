// Package session owns the authenticated session of the portal: the record persisted in the
// credential store and the projections every other component reads from it.
package session

import (
	"context"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/core/permission"
)

// Listener is notified with the new record after every session change.
// ok is false once the session is gone.
type Listener func(rec Record, ok bool)

// Manager holds the current session in memory and keeps it in sync with a credential.Store.
//
// Persistence operations (Load, SetSession, ClearSession) run one at a time; a second call waits
// for the first. Projections are safe for concurrent use and always reflect the last completed
// persistence operation.
type Manager struct {
	store credential.Store
	key   string
	log   core.Logger

	persistMu sync.Mutex // serializes store access

	mu     sync.RWMutex // guards the fields below
	rec    Record
	active bool
	perms  permission.Set

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewManager(store credential.Store, key string, logger core.Logger) *Manager {
	vala.BeginValidation().Validate(
		core.IsSet(store, "store"),
		vala.StringNotEmpty(key, "key"),
		core.IsSet(logger, "logger"),
	).CheckAndPanic()

	return &Manager{
		store:     store,
		key:       key,
		log:       logger,
		listeners: make(map[int]Listener),
	}
}

// Load reads the persisted session. A missing, unreadable or corrupt value means "no session":
// no error is returned and the stored value is left untouched.
func (m *Manager) Load(ctx context.Context) (Record, bool) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	rec, ok := m.read(ctx)
	m.swap(rec, ok)
	return rec, ok
}

func (m *Manager) read(ctx context.Context) (Record, bool) {
	raw, err := m.store.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			m.log.Warn("could not read session", err)
		}
		return Record{}, false
	}

	rec, err := Decode([]byte(raw))
	if err != nil {
		m.log.Warn("ignoring unreadable session", err)
		return Record{}, false
	}
	if err := validateRecord(rec); err != nil {
		m.log.Warn("ignoring invalid session", err)
		return Record{}, false
	}
	return rec, true
}

// SetSession validates and persists rec, then makes it the current session.
//
// Validation is a policy stricter than "a token implies a user": rec must carry a non-blank
// AccessToken and a User with a non-blank ID and a known role type. A record missing any of them
// is malformed, even if it would be consistent otherwise; ClearSession is the only way to drop
// a session.
//
// An invalid record returns a *core.ValidationError wrapping ErrMalformedSession; nothing is
// persisted and the current session is kept. When the store cannot take the value, the session
// is still active for this process and an error matching credential.ErrStorageUnavailable is
// returned as a warning.
func (m *Manager) SetSession(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	rec = clone(rec)

	raw, err := Encode(rec)
	if err != nil {
		return err
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	err = m.store.Set(ctx, m.key, string(raw))
	if err != nil && !errors.Is(err, credential.ErrStorageUnavailable) {
		return errors.Wrap(err, "persist session")
	}
	m.swap(rec, true)
	return err
}

// ClearSession removes the stored session. Clearing an empty session succeeds.
// The in-memory session is always cleared, even when the store fails.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	err := m.store.Remove(ctx, m.key)
	m.swap(Record{}, false)
	if err != nil && !errors.Is(err, credential.ErrStorageUnavailable) {
		return errors.Wrap(err, "remove session")
	}
	return err
}

func (m *Manager) swap(rec Record, ok bool) {
	m.mu.Lock()
	changed := ok != m.active || !rec.Equal(m.rec)
	m.rec, m.active = rec, ok
	if ok {
		m.perms = rec.User.PermissionSet()
	} else {
		m.perms = permission.Set{}
	}
	m.mu.Unlock()

	if changed {
		m.notify(rec, ok)
	}
}

// Current returns a copy of the current session record.
func (m *Manager) Current() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return Record{}, false
	}
	return clone(m.rec), true
}

func (m *Manager) CurrentUser() (UserProfile, bool) {
	rec, ok := m.Current()
	if !ok {
		return UserProfile{}, false
	}
	return *rec.User, true
}

// CurrentPermissions is empty when logged out.
func (m *Manager) CurrentPermissions() permission.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perms
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Token returns the access token of the current session.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return "", false
	}
	return m.rec.AccessToken, true
}

// UserType is GUEST when logged out.
func (m *Manager) UserType() RoleType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active || m.rec.User.RoleType == "" {
		return RoleGuest
	}
	return m.rec.User.RoleType
}

// Subscribe registers l for session changes and returns a function removing it.
// Listeners run while the change is being persisted: they may read the Manager but must not
// call Load, SetSession or ClearSession.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.listeners, id)
	}
}

// notify runs with persistMu held, so listeners see changes in order.
func (m *Manager) notify(rec Record, ok bool) {
	m.lmu.Lock()
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	m.lmu.Unlock()

	for _, l := range ls {
		l(clone(rec), ok)
	}
}

func clone(rec Record) Record {
	if rec.User == nil {
		return rec
	}
	usr := *rec.User
	usr.Permissions = append([]permission.Code(nil), usr.Permissions...)
	rec.User = &usr
	return rec
}
