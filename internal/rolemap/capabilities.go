package rolemap

import (
	"context"
	"fmt"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// NewCapability issues a capability for role, optionally bound to issuedTo and limited to
// the inclusive window [validFrom, validUntil]. It requires the capability-add permission.
// Capabilities of the initial admin role are tracked as initial admin capabilities.
func (m *RoleMap[P]) NewCapability(
	ctx context.Context,
	c *capability.Capability,
	role string,
	issuedTo *capability.Address,
	validFrom, validUntil *uint64,
	clock capability.Clock,
	caller capability.Address,
) (*capability.Capability, error) {
	var issued *capability.Capability
	err := m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.capabilityAdmin.Add, clock, caller); err != nil {
			return nil, err
		}
		if _, ok := m.roles[role]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, role)
		}
		nc, err := capability.New(role, m.targetKey, issuedTo, validFrom, validUntil)
		if err != nil {
			return nil, err
		}
		m.issued[nc.ID()] = struct{}{}
		if role == m.initialAdminRole {
			m.initialAdmin[nc.ID()] = struct{}{}
		}
		issued = nc
		return []Event{issuedEvent(nc, caller, nowMillis(clock, m.clock))}, nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// DestroyCapability lets a holder give up a capability. No permission is needed. Initial
// admin capabilities are refused with ErrInitialAdminCapabilityMustBeExplicitlyDestroyed;
// they go through DestroyInitialAdminCapability. Destroying a capability that was already
// revoked succeeds.
func (m *RoleMap[P]) DestroyCapability(ctx context.Context, c *capability.Capability) error {
	return m.apply(ctx, func() ([]Event, error) {
		if c == nil {
			return nil, fmt.Errorf("%w: capability is required", ErrInvalidInput)
		}
		if c.TargetKey() != m.targetKey {
			return nil, fmt.Errorf("%w: capability targets %q, not %q", ErrTargetMismatch, c.TargetKey(), m.targetKey)
		}
		if _, ok := m.initialAdmin[c.ID()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrInitialAdminCapabilityMustBeExplicitlyDestroyed, c.ID())
		}
		delete(m.issued, c.ID())
		c.Destroy()
		return []Event{{
			Kind:         EventCapabilityDestroyed,
			TargetKey:    m.targetKey,
			Role:         c.Role(),
			CapabilityID: c.ID(),
			Timestamp:    m.clock.NowMillis(),
		}}, nil
	})
}

// RevokeCapability withdraws an issued capability by id. It requires the capability-revoke
// permission and refuses initial admin capabilities.
func (m *RoleMap[P]) RevokeCapability(
	ctx context.Context,
	c *capability.Capability,
	id string,
	clock capability.Clock,
	caller capability.Address,
) error {
	return m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.capabilityAdmin.Revoke, clock, caller); err != nil {
			return nil, err
		}
		if _, ok := m.issued[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityNotIssued, id)
		}
		if _, ok := m.initialAdmin[id]; ok {
			return nil, fmt.Errorf("%w: %s", ErrInitialAdminCapabilityMustBeExplicitlyDestroyed, id)
		}
		delete(m.issued, id)
		return []Event{{
			Kind:         EventCapabilityRevoked,
			TargetKey:    m.targetKey,
			CapabilityID: id,
			Caller:       string(caller),
			Timestamp:    nowMillis(clock, m.clock),
		}}, nil
	})
}

// DestroyInitialAdminCapability is the only way to destroy an initial admin capability.
// Destroying the last one seals the map; that is allowed.
func (m *RoleMap[P]) DestroyInitialAdminCapability(ctx context.Context, c *capability.Capability) error {
	return m.apply(ctx, func() ([]Event, error) {
		if c == nil {
			return nil, fmt.Errorf("%w: capability is required", ErrInvalidInput)
		}
		if c.TargetKey() != m.targetKey {
			return nil, fmt.Errorf("%w: capability targets %q, not %q", ErrTargetMismatch, c.TargetKey(), m.targetKey)
		}
		if _, ok := m.initialAdmin[c.ID()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityIsNotInitialAdmin, c.ID())
		}
		delete(m.initialAdmin, c.ID())
		delete(m.issued, c.ID())
		c.Destroy()
		now := m.clock.NowMillis()
		return m.withSealEvent([]Event{{
			Kind:         EventInitialAdminCapabilityDestroyed,
			TargetKey:    m.targetKey,
			Role:         c.Role(),
			CapabilityID: c.ID(),
			Timestamp:    now,
		}}, "", now), nil
	})
}

// RevokeInitialAdminCapability withdraws an initial admin capability by id. It requires the
// capability-revoke permission. Revoking the last one seals the map; that is allowed.
func (m *RoleMap[P]) RevokeInitialAdminCapability(
	ctx context.Context,
	c *capability.Capability,
	id string,
	clock capability.Clock,
	caller capability.Address,
) error {
	return m.apply(ctx, func() ([]Event, error) {
		if err := m.checkLocked(c, m.capabilityAdmin.Revoke, clock, caller); err != nil {
			return nil, err
		}
		if _, ok := m.issued[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityNotIssued, id)
		}
		if _, ok := m.initialAdmin[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityIsNotInitialAdmin, id)
		}
		delete(m.initialAdmin, id)
		delete(m.issued, id)
		now := nowMillis(clock, m.clock)
		return m.withSealEvent([]Event{{
			Kind:         EventInitialAdminCapabilityRevoked,
			TargetKey:    m.targetKey,
			Role:         m.initialAdminRole,
			CapabilityID: id,
			Caller:       string(caller),
			Timestamp:    now,
		}}, caller, now), nil
	})
}

func (m *RoleMap[P]) withSealEvent(events []Event, caller capability.Address, now uint64) []Event {
	if len(m.initialAdmin) > 0 {
		return events
	}
	return append(events, Event{
		Kind:      EventSealed,
		TargetKey: m.targetKey,
		Role:      m.initialAdminRole,
		Caller:    string(caller),
		Timestamp: now,
	})
}
