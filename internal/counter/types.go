package counter

import (
	"errors"
	"fmt"
	"time"

	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// Permission is an atomic right on a counter.
type Permission string

const (
	PermissionAddRole          Permission = "role.add"
	PermissionDeleteRole       Permission = "role.delete"
	PermissionUpdateRole       Permission = "role.update"
	PermissionAddCapability    Permission = "capability.add"
	PermissionRevokeCapability Permission = "capability.revoke"
	PermissionIncrement        Permission = "counter.increment"
	PermissionReset            Permission = "counter.reset"
	PermissionReadEvents       Permission = "events.read"
)

// AdminRole is the initial admin role of every counter.
const AdminRole = "Admin"

var (
	RoleAdmin = rolemap.RoleAdminPermissions[Permission]{
		Add:    PermissionAddRole,
		Delete: PermissionDeleteRole,
		Update: PermissionUpdateRole,
	}
	CapabilityAdmin = rolemap.CapabilityAdminPermissions[Permission]{
		Add:    PermissionAddCapability,
		Revoke: PermissionRevokeCapability,
	}
)

// AllPermissions lists every permission, in declaration order.
func AllPermissions() []Permission {
	return []Permission{
		PermissionAddRole,
		PermissionDeleteRole,
		PermissionUpdateRole,
		PermissionAddCapability,
		PermissionRevokeCapability,
		PermissionIncrement,
		PermissionReset,
		PermissionReadEvents,
	}
}

// ParsePermission validates a permission name coming from a client.
func ParsePermission(s string) (Permission, error) {
	for _, p := range AllPermissions() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
}

// ParsePermissions validates a list of permission names.
func ParsePermissions(names []string) ([]Permission, error) {
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Record is the persisted form of a counter.
type Record struct {
	ID        string                       `json:"id"`
	Value     uint64                       `json:"value"`
	Access    rolemap.Snapshot[Permission] `json:"access"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

var (
	ErrNotFound          = errors.New("counter: not found")
	ErrUnknownPermission = errors.New("counter: unknown permission")
	ErrInvalidRecord     = errors.New("counter: invalid record")
	// ErrStale is returned by stores that already hold a newer record for the counter.
	ErrStale = errors.New("counter: stale record")
)
