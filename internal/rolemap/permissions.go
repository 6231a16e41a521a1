package rolemap

import (
	"fmt"
	"sort"
)

// Set is an unordered set of permissions.
type Set[P comparable] map[P]struct{}

// NewSet builds a set from perms, dropping duplicates.
func NewSet[P comparable](perms ...P) Set[P] {
	s := make(Set[P], len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set[P]) Contains(p P) bool {
	_, ok := s[p]
	return ok
}

// ContainsAll reports whether every element of perms is in s.
func (s Set[P]) ContainsAll(perms ...P) bool {
	for _, p := range perms {
		if !s.Contains(p) {
			return false
		}
	}
	return true
}

func (s Set[P]) Clone() Set[P] {
	out := make(Set[P], len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the elements in unspecified order.
func (s Set[P]) Slice() []P {
	out := make([]P, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Sorted returns the elements ordered by their fmt rendering.
func (s Set[P]) Sorted() []P {
	out := s.Slice()
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out
}

// RoleAdminPermissions names the permissions gating role administration.
type RoleAdminPermissions[P comparable] struct {
	Add    P `json:"add"`
	Delete P `json:"delete"`
	Update P `json:"update"`
}

// CapabilityAdminPermissions names the permissions gating capability administration.
type CapabilityAdminPermissions[P comparable] struct {
	Add    P `json:"add"`
	Revoke P `json:"revoke"`
}

// adminPermissions lists the five permissions the initial admin role must always hold.
func adminPermissions[P comparable](roleAdmin RoleAdminPermissions[P], capAdmin CapabilityAdminPermissions[P]) []P {
	return []P{roleAdmin.Add, roleAdmin.Delete, roleAdmin.Update, capAdmin.Add, capAdmin.Revoke}
}
