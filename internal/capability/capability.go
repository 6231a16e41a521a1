// Package capability implements bearer capabilities: tokens that grant the permissions of a
// single named role in one access-control domain, optionally bound to a caller address and
// a validity window.
//
// A Capability never holds a reference to the role map that issued it. It records the
// domain's target key instead, and the owning role map is resolved at check time.
package capability

import (
	"fmt"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/ids"
)

// Address identifies a principal that may invoke operations on a managed object.
type Address string

// Capability is immutable once issued. Its only mutable bit is the destroyed marker set by
// Destroy, after which no role map accepts it.
type Capability struct {
	id         string
	targetKey  string
	role       string
	issuedTo   *Address
	validFrom  *uint64
	validUntil *uint64
	destroyed  bool
}

// New mints a capability with a fresh identifier. Both bounds of the validity window are
// inclusive; when both are given validFrom must not be later than validUntil.
func New(role, targetKey string, issuedTo *Address, validFrom, validUntil *uint64) (*Capability, error) {
	return build(ids.New(), role, targetKey, issuedTo, validFrom, validUntil)
}

// Restore rebuilds a capability that was previously issued, e.g. from a verified bearer
// token. It applies the same validation as New but keeps the given identifier.
func Restore(id, role, targetKey string, issuedTo *Address, validFrom, validUntil *uint64) (*Capability, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: capability id is required", ErrInvalidInput)
	}
	return build(id, role, targetKey, issuedTo, validFrom, validUntil)
}

func build(id, role, targetKey string, issuedTo *Address, validFrom, validUntil *uint64) (*Capability, error) {
	if strings.TrimSpace(role) == "" {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	if strings.TrimSpace(targetKey) == "" {
		return nil, fmt.Errorf("%w: target key is required", ErrInvalidInput)
	}
	if validFrom != nil && validUntil != nil && *validFrom > *validUntil {
		return nil, fmt.Errorf("%w: valid_from %d is after valid_until %d", ErrInvalidValidityPeriod, *validFrom, *validUntil)
	}
	return &Capability{
		id:         id,
		targetKey:  targetKey,
		role:       role,
		issuedTo:   clonePtr(issuedTo),
		validFrom:  clonePtr(validFrom),
		validUntil: clonePtr(validUntil),
	}, nil
}

func (c *Capability) ID() string        { return c.id }
func (c *Capability) Role() string      { return c.role }
func (c *Capability) TargetKey() string { return c.targetKey }

// HasRole reports whether the capability grants the named role.
func (c *Capability) HasRole(role string) bool { return c.role == role }

// IssuedTo returns the address the capability is restricted to, if any.
func (c *Capability) IssuedTo() (Address, bool) {
	if c.issuedTo == nil {
		return "", false
	}
	return *c.issuedTo, true
}

func (c *Capability) ValidFrom() (uint64, bool) {
	if c.validFrom == nil {
		return 0, false
	}
	return *c.validFrom, true
}

func (c *Capability) ValidUntil() (uint64, bool) {
	if c.validUntil == nil {
		return 0, false
	}
	return *c.validUntil, true
}

// HasTimeConstraint reports whether either bound of the validity window is set.
func (c *Capability) HasTimeConstraint() bool {
	return c.validFrom != nil || c.validUntil != nil
}

// IsValidForTimestamp reports whether ts (milliseconds) lies inside the validity window.
func (c *Capability) IsValidForTimestamp(ts uint64) bool {
	if c.validFrom != nil && ts < *c.validFrom {
		return false
	}
	if c.validUntil != nil && ts > *c.validUntil {
		return false
	}
	return true
}

// IsCurrentlyValid evaluates the validity window against clock.
func (c *Capability) IsCurrentlyValid(clock Clock) bool {
	return c.IsValidForTimestamp(clock.NowMillis())
}

// Destroy consumes the capability. It is the holder's unilateral right and does not depend on
// whether the capability is still valid. Role maps should be told through their own destroy
// operations so their bookkeeping shrinks as well.
func (c *Capability) Destroy() {
	c.destroyed = true
}

func (c *Capability) Destroyed() bool { return c.destroyed }

func (c *Capability) String() string {
	return fmt.Sprintf("capability(%s role=%s target=%s)", c.id, c.role, c.targetKey)
}

// Ptr returns a pointer to v, handy for the optional arguments of New.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
