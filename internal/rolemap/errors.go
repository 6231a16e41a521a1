package rolemap

import (
	"errors"

	"github.com/iotaledger/product-core-sub000/internal/capability"
)

var (
	ErrInvalidValidityPeriod                           = capability.ErrInvalidValidityPeriod
	ErrTargetMismatch                                  = errors.New("rolemap: capability target does not match")
	ErrRoleNotFound                                    = errors.New("rolemap: role not found")
	ErrRoleAlreadyExists                               = errors.New("rolemap: role already exists")
	ErrPermissionDenied                                = errors.New("rolemap: permission denied")
	ErrCapabilityRevoked                               = errors.New("rolemap: capability revoked")
	ErrTimeConstraintNotMet                            = errors.New("rolemap: time constraint not met")
	ErrCallerMismatch                                  = errors.New("rolemap: caller mismatch")
	ErrInitialAdminRoleCannotBeDeleted                 = errors.New("rolemap: initial admin role cannot be deleted")
	ErrInitialAdminPermissionsInconsistent             = errors.New("rolemap: initial admin permissions inconsistent")
	ErrInitialAdminCapabilityMustBeExplicitlyDestroyed = errors.New("rolemap: initial admin capability must be explicitly destroyed")
	ErrCapabilityIsNotInitialAdmin                     = errors.New("rolemap: capability is not an initial admin capability")
	ErrCapabilityNotIssued                             = errors.New("rolemap: capability not issued")
	ErrInvalidInput                                    = errors.New("rolemap: invalid input")
	ErrInvalidSnapshot                                 = errors.New("rolemap: invalid snapshot")
)

// AuthorizationError is returned when a presented capability does not authorize an
// operation. The wrapped error is one of the check sentinels, so errors.Is keeps working.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return "unauthorized: " + e.Err.Error()
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err came out of a capability check.
func IsUnauthorized(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidValidityPeriod, "invalid_validity_period"},
	{ErrTargetMismatch, "target_mismatch"},
	{ErrRoleNotFound, "role_not_found"},
	{ErrRoleAlreadyExists, "role_already_exists"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrCapabilityRevoked, "capability_revoked"},
	{ErrTimeConstraintNotMet, "time_constraint_not_met"},
	{ErrCallerMismatch, "caller_mismatch"},
	{ErrInitialAdminRoleCannotBeDeleted, "initial_admin_role_cannot_be_deleted"},
	{ErrInitialAdminPermissionsInconsistent, "initial_admin_permissions_inconsistent"},
	{ErrInitialAdminCapabilityMustBeExplicitlyDestroyed, "initial_admin_capability_must_be_explicitly_destroyed"},
	{ErrCapabilityIsNotInitialAdmin, "capability_is_not_initial_admin"},
	{ErrCapabilityNotIssued, "capability_not_issued"},
	{ErrInvalidSnapshot, "invalid_snapshot"},
	{ErrInvalidInput, "invalid_input"},
}

// Reason returns a stable snake_case label for err: "ok" for nil, "unknown" for errors
// outside this package.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "unknown"
}
