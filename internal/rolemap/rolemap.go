// Package rolemap implements role-based access control over capabilities.
//
// A RoleMap governs one managed object, identified by its target key. It maps role names to
// permission sets, keeps the allowlist of capability identifiers that are currently issued and
// decides whether a presented capability grants a permission. One role, the initial admin
// role, is created together with the map and always holds the five administrative
// permissions; the capabilities of that role can only be retired through dedicated
// operations. Once every initial admin capability is gone the map is sealed: it keeps
// answering checks but no further administration is possible.
//
// Every public operation is a single atomic transition guarded by the map's lock. A failing
// operation leaves the map untouched.
package rolemap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// RoleMap is safe for concurrent use.
type RoleMap[P comparable] struct {
	mu sync.RWMutex

	targetKey        string
	initialAdminRole string
	roles            map[string]Set[P]
	issued           map[string]struct{}
	initialAdmin     map[string]struct{}
	roleAdmin        RoleAdminPermissions[P]
	capabilityAdmin  CapabilityAdminPermissions[P]

	observer Observer
	clock    capability.Clock
}

type settings struct {
	observer Observer
	clock    capability.Clock
}

// Option configures a RoleMap.
type Option func(*settings)

// WithObserver registers the observer notified about committed transitions.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock sets the clock used to timestamp events of operations that take no clock
// argument, i.e. construction and destruction.
func WithClock(c capability.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{observer: nopObserver{}, clock: capability.SystemClock{}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New creates the role map of the object identified by targetKey, together with its first
// initial admin capability. The capability is unrestricted and is returned to the creator.
// initialAdminPerms must contain every permission named by roleAdmin and capabilityAdmin.
func New[P comparable](
	ctx context.Context,
	targetKey string,
	initialAdminRole string,
	initialAdminPerms []P,
	roleAdmin RoleAdminPermissions[P],
	capabilityAdmin CapabilityAdminPermissions[P],
	opts ...Option,
) (*RoleMap[P], *capability.Capability, error) {
	if strings.TrimSpace(targetKey) == "" {
		return nil, nil, fmt.Errorf("%w: target key is required", ErrInvalidInput)
	}
	if strings.TrimSpace(initialAdminRole) == "" {
		return nil, nil, fmt.Errorf("%w: initial admin role name is required", ErrInvalidInput)
	}
	perms := NewSet(initialAdminPerms...)
	if !perms.ContainsAll(adminPermissions(roleAdmin, capabilityAdmin)...) {
		return nil, nil, fmt.Errorf("%w: role %q must hold every role and capability admin permission",
			ErrInitialAdminPermissionsInconsistent, initialAdminRole)
	}

	adminCap, err := capability.New(initialAdminRole, targetKey, nil, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	s := newSettings(opts)
	m := &RoleMap[P]{
		targetKey:        targetKey,
		initialAdminRole: initialAdminRole,
		roles:            map[string]Set[P]{initialAdminRole: perms},
		issued:           map[string]struct{}{adminCap.ID(): {}},
		initialAdmin:     map[string]struct{}{adminCap.ID(): {}},
		roleAdmin:        roleAdmin,
		capabilityAdmin:  capabilityAdmin,
		observer:         s.observer,
		clock:            s.clock,
	}

	now := m.clock.NowMillis()
	m.notify(ctx, []Event{
		{
			Kind:        EventRoleCreated,
			TargetKey:   targetKey,
			Role:        initialAdminRole,
			Permissions: formatPermissions(perms),
			Timestamp:   now,
		},
		issuedEvent(adminCap, "", now),
	})
	return m, adminCap, nil
}

// apply runs fn under the write lock and delivers its events once the lock is released.
func (m *RoleMap[P]) apply(ctx context.Context, fn func() ([]Event, error)) error {
	events, err := func() ([]Event, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return fn()
	}()
	if err != nil {
		return err
	}
	m.notify(ctx, events)
	return nil
}

func (m *RoleMap[P]) notify(ctx context.Context, events []Event) {
	for _, evt := range events {
		m.observer.Observe(ctx, evt)
	}
}

// Size returns the number of roles.
func (m *RoleMap[P]) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.roles)
}

func (m *RoleMap[P]) TargetKey() string { return m.targetKey }

func (m *RoleMap[P]) InitialAdminRoleName() string { return m.initialAdminRole }

func (m *RoleMap[P]) RoleAdminPermissions() RoleAdminPermissions[P] { return m.roleAdmin }

func (m *RoleMap[P]) CapabilityAdminPermissions() CapabilityAdminPermissions[P] {
	return m.capabilityAdmin
}

// HasRole reports whether a role with the given name exists.
func (m *RoleMap[P]) HasRole(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[name]
	return ok
}

// RolePermissions returns a copy of the permission set of the named role.
func (m *RoleMap[P]) RolePermissions(name string) (Set[P], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perms, ok := m.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
	}
	return perms.Clone(), nil
}

// Roles returns the role names in lexical order.
func (m *RoleMap[P]) Roles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.roles))
	for name := range m.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IssuedCapabilities returns the identifiers of all currently issued capabilities, sorted.
func (m *RoleMap[P]) IssuedCapabilities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.issued)
}

// InitialAdminCapabilities returns the identifiers of the live initial admin capabilities.
func (m *RoleMap[P]) InitialAdminCapabilities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.initialAdmin)
}

func (m *RoleMap[P]) IsIssued(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.issued[id]
	return ok
}

// IsSealed reports whether no initial admin capability remains.
func (m *RoleMap[P]) IsSealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.initialAdmin) == 0
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatPermissions[P comparable](perms Set[P]) []string {
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, fmt.Sprint(p))
	}
	sort.Strings(out)
	return out
}

func issuedEvent(c *capability.Capability, caller capability.Address, now uint64) Event {
	evt := Event{
		Kind:         EventCapabilityIssued,
		TargetKey:    c.TargetKey(),
		Role:         c.Role(),
		CapabilityID: c.ID(),
		Caller:       string(caller),
		Timestamp:    now,
	}
	if addr, ok := c.IssuedTo(); ok {
		evt.IssuedTo = string(addr)
	}
	if from, ok := c.ValidFrom(); ok {
		evt.ValidFrom = capability.Ptr(from)
	}
	if until, ok := c.ValidUntil(); ok {
		evt.ValidUntil = capability.Ptr(until)
	}
	return evt
}
