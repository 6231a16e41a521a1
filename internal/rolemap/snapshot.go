package rolemap

import (
	"fmt"
	"strings"
)

// Snapshot is a self-contained copy of a role map's state, suitable for JSON encoding when
// the owning object is persisted. Capability values themselves are not part of it: holders
// keep those.
type Snapshot[P comparable] struct {
	TargetKey                  string                        `json:"target_key"`
	InitialAdminRole           string                        `json:"initial_admin_role"`
	Roles                      map[string][]P                `json:"roles"`
	IssuedCapabilities         []string                      `json:"issued_capabilities"`
	InitialAdminCapabilities   []string                      `json:"initial_admin_capabilities"`
	RoleAdminPermissions       RoleAdminPermissions[P]       `json:"role_admin_permissions"`
	CapabilityAdminPermissions CapabilityAdminPermissions[P] `json:"capability_admin_permissions"`
}

// Snapshot captures the current state under the read lock.
func (m *RoleMap[P]) Snapshot() Snapshot[P] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make(map[string][]P, len(m.roles))
	for name, perms := range m.roles {
		roles[name] = perms.Sorted()
	}
	return Snapshot[P]{
		TargetKey:                  m.targetKey,
		InitialAdminRole:           m.initialAdminRole,
		Roles:                      roles,
		IssuedCapabilities:         sortedKeys(m.issued),
		InitialAdminCapabilities:   sortedKeys(m.initialAdmin),
		RoleAdminPermissions:       m.roleAdmin,
		CapabilityAdminPermissions: m.capabilityAdmin,
	}
}

// FromSnapshot rebuilds a role map. It refuses snapshots that break the initial admin
// invariants: the admin role must exist and hold all five admin permissions, and every
// initial admin capability must also be issued. No events are emitted.
func FromSnapshot[P comparable](s Snapshot[P], opts ...Option) (*RoleMap[P], error) {
	if strings.TrimSpace(s.TargetKey) == "" {
		return nil, fmt.Errorf("%w: target key is required", ErrInvalidSnapshot)
	}
	adminPerms, ok := s.Roles[s.InitialAdminRole]
	if !ok {
		return nil, fmt.Errorf("%w: initial admin role %q is missing", ErrInvalidSnapshot, s.InitialAdminRole)
	}
	if !NewSet(adminPerms...).ContainsAll(adminPermissions(s.RoleAdminPermissions, s.CapabilityAdminPermissions)...) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, ErrInitialAdminPermissionsInconsistent)
	}

	issued := make(map[string]struct{}, len(s.IssuedCapabilities))
	for _, id := range s.IssuedCapabilities {
		issued[id] = struct{}{}
	}
	initialAdmin := make(map[string]struct{}, len(s.InitialAdminCapabilities))
	for _, id := range s.InitialAdminCapabilities {
		if _, ok := issued[id]; !ok {
			return nil, fmt.Errorf("%w: initial admin capability %s is not issued", ErrInvalidSnapshot, id)
		}
		initialAdmin[id] = struct{}{}
	}
	roles := make(map[string]Set[P], len(s.Roles))
	for name, perms := range s.Roles {
		roles[name] = NewSet(perms...)
	}

	st := newSettings(opts)
	return &RoleMap[P]{
		targetKey:        s.TargetKey,
		initialAdminRole: s.InitialAdminRole,
		roles:            roles,
		issued:           issued,
		initialAdmin:     initialAdmin,
		roleAdmin:        s.RoleAdminPermissions,
		capabilityAdmin:  s.CapabilityAdminPermissions,
		observer:         st.observer,
		clock:            st.clock,
	}, nil
}
