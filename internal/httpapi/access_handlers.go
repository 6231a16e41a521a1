package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type roleView struct {
	Name        string               `json:"name"`
	Permissions []counter.Permission `json:"permissions"`
}

type capabilityRequest struct {
	Role       string  `json:"role"`
	IssuedTo   *string `json:"issued_to,omitempty"`
	ValidFrom  *uint64 `json:"valid_from,omitempty"`
	ValidUntil *uint64 `json:"valid_until,omitempty"`
}

// mutate runs op against a draft of the counter with the presented capability. The counter
// and its events change only if op succeeds and the result is persisted.
func (a *API) mutate(w http.ResponseWriter, r *http.Request, op func(c *counter.Counter, presented *capability.Capability) error) (*counter.Counter, bool) {
	if _, ok := a.loadCounter(w, r); !ok {
		return nil, false
	}
	presented, err := a.presented(r)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	c, err := a.counters.Update(r.Context(), chi.URLParam(r, "id"), func(c *counter.Counter) error {
		return op(c, presented)
	})
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	return c, true
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	c, ok := a.loadCounter(w, r)
	if !ok {
		return
	}
	access := c.Access()
	names := access.Roles()
	items := make([]roleView, 0, len(names))
	for _, name := range names {
		set, err := access.RolePermissions(name)
		if err != nil {
			continue
		}
		items = append(items, roleView{Name: name, Permissions: sortedPermissions(set.Slice())})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initial_admin_role": access.InitialAdminRoleName(),
		"items":              items,
	})
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	c, ok := a.loadCounter(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	set, err := c.Access().RolePermissions(name)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roleView{Name: name, Permissions: sortedPermissions(set.Slice())})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	perms, err := counter.ParsePermissions(req.Permissions)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		return c.Access().CreateRole(r.Context(), presented, req.Name, perms, a.clock, callerOf(r))
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, roleView{Name: req.Name, Permissions: sortedPermissions(rolemap.NewSet(perms...).Slice())})
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	if req.Name != "" && req.Name != name {
		writeErrorReason(w, r, http.StatusBadRequest, "role name does not match path", "invalid_input")
		return
	}
	perms, err := counter.ParsePermissions(req.Permissions)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		return c.Access().UpdateRolePermissions(r.Context(), presented, name, perms, a.clock, callerOf(r))
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, roleView{Name: name, Permissions: sortedPermissions(rolemap.NewSet(perms...).Slice())})
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		return c.Access().DeleteRole(r.Context(), presented, name, a.clock, callerOf(r))
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) issueCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	var issuedTo *capability.Address
	if req.IssuedTo != nil {
		issuedTo = capability.Ptr(capability.Address(*req.IssuedTo))
	}
	var issued *capability.Capability
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		nc, err := c.Access().NewCapability(r.Context(), presented, req.Role, issuedTo, req.ValidFrom, req.ValidUntil, a.clock, callerOf(r))
		issued = nc
		return err
	})
	if !ok {
		return
	}
	resp, err := a.issue(issued)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// revokeCapability revokes {capID}. With ?initial_admin=true it takes the initial admin path.
func (a *API) revokeCapability(w http.ResponseWriter, r *http.Request) {
	initialAdmin, err := parseBool(r.URL.Query().Get("initial_admin"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	id := chi.URLParam(r, "capID")
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		if initialAdmin {
			return c.Access().RevokeInitialAdminCapability(r.Context(), presented, id, a.clock, callerOf(r))
		}
		return c.Access().RevokeCapability(r.Context(), presented, id, a.clock, callerOf(r))
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// destroyCapability gives up the capability presented as bearer token.
func (a *API) destroyCapability(w http.ResponseWriter, r *http.Request) {
	initialAdmin, err := parseBool(r.URL.Query().Get("initial_admin"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	_, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		if initialAdmin {
			return c.Access().DestroyInitialAdminCapability(r.Context(), presented)
		}
		return c.Access().DestroyCapability(r.Context(), presented)
	})
	if !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
