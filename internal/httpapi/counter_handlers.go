package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/obs"
)

type counterView struct {
	ID                       string                          `json:"id"`
	Value                    uint64                          `json:"value"`
	InitialAdminRole         string                          `json:"initial_admin_role"`
	Roles                    map[string][]counter.Permission `json:"roles"`
	IssuedCapabilities       []string                        `json:"issued_capabilities"`
	InitialAdminCapabilities []string                        `json:"initial_admin_capabilities"`
	Sealed                   bool                            `json:"sealed"`
	CreatedAt                string                          `json:"created_at"`
	UpdatedAt                string                          `json:"updated_at"`
}

type capabilityView struct {
	ID         string  `json:"id"`
	Role       string  `json:"role"`
	TargetKey  string  `json:"target_key"`
	IssuedTo   *string `json:"issued_to,omitempty"`
	ValidFrom  *uint64 `json:"valid_from,omitempty"`
	ValidUntil *uint64 `json:"valid_until,omitempty"`
}

type issuedResponse struct {
	Token      string         `json:"token"`
	Capability capabilityView `json:"capability"`
}

func viewCounter(rec counter.Record) counterView {
	roles := make(map[string][]counter.Permission, len(rec.Access.Roles))
	for name, perms := range rec.Access.Roles {
		roles[name] = sortedPermissions(perms)
	}
	return counterView{
		ID:                       rec.ID,
		Value:                    rec.Value,
		InitialAdminRole:         rec.Access.InitialAdminRole,
		Roles:                    roles,
		IssuedCapabilities:       rec.Access.IssuedCapabilities,
		InitialAdminCapabilities: rec.Access.InitialAdminCapabilities,
		Sealed:                   len(rec.Access.InitialAdminCapabilities) == 0,
		CreatedAt:                rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:                rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func viewCapability(c *capability.Capability) capabilityView {
	v := capabilityView{ID: c.ID(), Role: c.Role(), TargetKey: c.TargetKey()}
	if addr, ok := c.IssuedTo(); ok {
		v.IssuedTo = capability.Ptr(string(addr))
	}
	if from, ok := c.ValidFrom(); ok {
		v.ValidFrom = capability.Ptr(from)
	}
	if until, ok := c.ValidUntil(); ok {
		v.ValidUntil = capability.Ptr(until)
	}
	return v
}

func sortedPermissions(perms []counter.Permission) []counter.Permission {
	out := append([]counter.Permission(nil), perms...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (a *API) issue(c *capability.Capability) (issuedResponse, error) {
	token, err := a.signer.Sign(c)
	if err != nil {
		return issuedResponse{}, err
	}
	return issuedResponse{Token: token, Capability: viewCapability(c)}, nil
}

// loadCounter resolves {id}; it writes the error response itself.
func (a *API) loadCounter(w http.ResponseWriter, r *http.Request) (*counter.Counter, bool) {
	c, err := a.counters.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	return c, true
}

func (a *API) createCounter(w http.ResponseWriter, r *http.Request) {
	c, admin, err := a.counters.Create(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	issued, err := a.issue(admin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"counter":    viewCounter(c.Record()),
		"token":      issued.Token,
		"capability": issued.Capability,
	})
}

func (a *API) listCounters(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	recs, err := a.counters.List(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	items := make([]counterView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, viewCounter(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getCounter(w http.ResponseWriter, r *http.Request) {
	c, ok := a.loadCounter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewCounter(c.Record()))
}

func (a *API) increment(w http.ResponseWriter, r *http.Request) {
	c, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		_, err := c.Increment(r.Context(), presented, a.clock, callerOf(r))
		obs.RecordAccessCheck(string(counter.PermissionIncrement), err)
		return err
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": c.ID(), "value": c.Value()})
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	c, ok := a.mutate(w, r, func(c *counter.Counter, presented *capability.Capability) error {
		err := c.Reset(r.Context(), presented, a.clock, callerOf(r))
		obs.RecordAccessCheck(string(counter.PermissionReset), err)
		return err
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": c.ID(), "value": c.Value()})
}

// authorizeEvents resolves the counter id and checks that the presented capability may
// read its events.
func (a *API) authorizeEvents(w http.ResponseWriter, r *http.Request, id string) (*counter.Counter, *capability.Capability, bool) {
	c, err := a.counters.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, nil, false
	}
	presented, err := a.presented(r)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, nil, false
	}
	err = c.Access().CheckCapability(presented, counter.PermissionReadEvents, a.clock, callerOf(r))
	obs.RecordAccessCheck(string(counter.PermissionReadEvents), err)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, nil, false
	}
	return c, presented, true
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event log disabled")
		return
	}
	c, _, ok := a.authorizeEvents(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	events, err := a.events.ListEvents(r.Context(), c.ID(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
