package rolemap

import (
	"context"
	"fmt"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// CreateRole adds a role. It requires the role-add permission and rejects names that are
// already taken with ErrRoleAlreadyExists; use UpdateRolePermissions to change a role.
func (m *RoleMap[P]) CreateRole(
	ctx context.Context,
	c *capability.Capability,
	name string,
	perms []P,
	clock capability.Clock,
	caller capability.Address,
) error {
	return m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.roleAdmin.Add, clock, caller); err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if _, ok := m.roles[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrRoleAlreadyExists, name)
		}
		set := NewSet(perms...)
		m.roles[name] = set
		return []Event{{
			Kind:        EventRoleCreated,
			TargetKey:   m.targetKey,
			Role:        name,
			Permissions: formatPermissions(set),
			Caller:      string(caller),
			Timestamp:   nowMillis(clock, m.clock),
		}}, nil
	})
}

// DeleteRole removes a role. The initial admin role can never be deleted. Capabilities that
// were issued for the deleted role stop passing checks with ErrRoleNotFound.
func (m *RoleMap[P]) DeleteRole(
	ctx context.Context,
	c *capability.Capability,
	name string,
	clock capability.Clock,
	caller capability.Address,
) error {
	return m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.roleAdmin.Delete, clock, caller); err != nil {
			return nil, err
		}
		if name == m.initialAdminRole {
			return nil, fmt.Errorf("%w: %q", ErrInitialAdminRoleCannotBeDeleted, name)
		}
		if _, ok := m.roles[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
		}
		delete(m.roles, name)
		return []Event{{
			Kind:      EventRoleDeleted,
			TargetKey: m.targetKey,
			Role:      name,
			Caller:    string(caller),
			Timestamp: nowMillis(clock, m.clock),
		}}, nil
	})
}

// UpdateRolePermissions replaces the permission set of an existing role. For the initial
// admin role the new set must still contain all five admin permissions.
func (m *RoleMap[P]) UpdateRolePermissions(
	ctx context.Context,
	c *capability.Capability,
	name string,
	perms []P,
	clock capability.Clock,
	caller capability.Address,
) error {
	return m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.roleAdmin.Update, clock, caller); err != nil {
			return nil, err
		}
		if _, ok := m.roles[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
		}
		set := NewSet(perms...)
		if name == m.initialAdminRole && !set.ContainsAll(adminPermissions(m.roleAdmin, m.capabilityAdmin)...) {
			return nil, fmt.Errorf("%w: role %q must keep every admin permission", ErrInitialAdminPermissionsInconsistent, name)
		}
		m.roles[name] = set
		return []Event{{
			Kind:        EventRolePermissionsUpdated,
			TargetKey:   m.targetKey,
			Role:        name,
			Permissions: formatPermissions(set),
			Caller:      string(caller),
			Timestamp:   nowMillis(clock, m.clock),
		}}, nil
	})
}
