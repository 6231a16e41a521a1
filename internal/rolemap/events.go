package rolemap

import "context"

// EventKind names a committed state transition of a role map.
type EventKind string

const (
	EventRoleCreated                     EventKind = "role.created"
	EventRoleDeleted                     EventKind = "role.deleted"
	EventRolePermissionsUpdated          EventKind = "role.permissions_updated"
	EventCapabilityIssued                EventKind = "capability.issued"
	EventCapabilityDestroyed             EventKind = "capability.destroyed"
	EventCapabilityRevoked               EventKind = "capability.revoked"
	EventInitialAdminCapabilityDestroyed EventKind = "capability.initial_admin_destroyed"
	EventInitialAdminCapabilityRevoked   EventKind = "capability.initial_admin_revoked"
	EventSealed                          EventKind = "rolemap.sealed"
)

// Event is the record handed to observers. Permissions are rendered with fmt so that the
// record does not depend on the permission type.
type Event struct {
	Kind         EventKind `json:"kind"`
	TargetKey    string    `json:"target_key"`
	Role         string    `json:"role,omitempty"`
	Permissions  []string  `json:"permissions,omitempty"`
	CapabilityID string    `json:"capability_id,omitempty"`
	IssuedTo     string    `json:"issued_to,omitempty"`
	ValidFrom    *uint64   `json:"valid_from,omitempty"`
	ValidUntil   *uint64   `json:"valid_until,omitempty"`
	Caller       string    `json:"caller,omitempty"`
	Timestamp    uint64    `json:"timestamp"`
}

// Observer receives events after the transition they describe has been applied.
// Observe is called outside the role map's lock and must not block for long.
type Observer interface {
	Observe(ctx context.Context, evt Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, evt Event)

func (f ObserverFunc) Observe(ctx context.Context, evt Event) { f(ctx, evt) }

// MultiObserver delivers each event to every observer in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(ctx context.Context, evt Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ctx, evt)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, Event) {}
