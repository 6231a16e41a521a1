package rolemap

import (
	"fmt"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

// CheckCapability decides whether c currently grants perm to caller. It returns nil when it
// does. Otherwise it returns an *AuthorizationError wrapping the first failing condition,
// evaluated in this order:
//
//  1. ErrTargetMismatch: c was issued for another object.
//  2. ErrRoleNotFound: c's role does not exist (anymore).
//  3. ErrPermissionDenied: the role does not hold perm.
//  4. ErrCapabilityRevoked: c is not in the issued set or has been destroyed.
//  5. ErrTimeConstraintNotMet: clock is outside c's validity window.
//  6. ErrCallerMismatch: c is bound to an address other than caller.
//
// A nil clock falls back to the system clock.
func (m *RoleMap[P]) CheckCapability(c *capability.Capability, perm P, clock capability.Clock, caller capability.Address) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkLocked(c, perm, clock, caller)
}

// IsCapabilityValid is the boolean form of CheckCapability.
func (m *RoleMap[P]) IsCapabilityValid(c *capability.Capability, perm P, clock capability.Clock, caller capability.Address) bool {
	return m.CheckCapability(c, perm, clock, caller) == nil
}

func (m *RoleMap[P]) checkLocked(c *capability.Capability, perm P, clock capability.Clock, caller capability.Address) error {
	if c == nil {
		return fmt.Errorf("%w: capability is required", ErrInvalidInput)
	}
	if c.TargetKey() != m.targetKey {
		return deny(fmt.Errorf("%w: capability targets %q, not %q", ErrTargetMismatch, c.TargetKey(), m.targetKey))
	}
	perms, ok := m.roles[c.Role()]
	if !ok {
		return deny(fmt.Errorf("%w: %q", ErrRoleNotFound, c.Role()))
	}
	if !perms.Contains(perm) {
		return deny(fmt.Errorf("%w: role %q does not hold %v", ErrPermissionDenied, c.Role(), perm))
	}
	if _, ok := m.issued[c.ID()]; !ok || c.Destroyed() {
		return deny(fmt.Errorf("%w: %s", ErrCapabilityRevoked, c.ID()))
	}
	if c.HasTimeConstraint() {
		if clock == nil {
			clock = capability.SystemClock{}
		}
		if !c.IsCurrentlyValid(clock) {
			return deny(fmt.Errorf("%w: %s at %d", ErrTimeConstraintNotMet, c.ID(), clock.NowMillis()))
		}
	}
	if addr, ok := c.IssuedTo(); ok && addr != caller {
		return deny(fmt.Errorf("%w: capability is bound to %s", ErrCallerMismatch, addr))
	}
	return nil
}

func deny(err error) error {
	return &AuthorizationError{Err: err}
}

func nowMillis(clock capability.Clock, fallback capability.Clock) uint64 {
	if clock == nil {
		return fallback.NowMillis()
	}
	return clock.NowMillis()
}
