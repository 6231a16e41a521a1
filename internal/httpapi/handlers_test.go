package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
	"github.com/iotaledger/product-core-sub000/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	signer  *auth.Signer
	store   *flakyStore
	events  *eventCount
}

// flakyStore persists counter records in memory and fails every save while fail is set.
type flakyStore struct {
	mu   sync.Mutex
	recs map[string]counter.Record
	fail bool
}

func (f *flakyStore) SaveCounter(_ context.Context, rec counter.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store unavailable")
	}
	f.recs[rec.ID] = rec
	return nil
}

func (f *flakyStore) LoadCounter(_ context.Context, id string) (counter.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return counter.Record{}, counter.ErrNotFound
	}
	return rec, nil
}

func (f *flakyStore) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

type eventCount struct {
	mu sync.Mutex
	n  int
}

func (e *eventCount) Observe(context.Context, rolemap.Event) {
	e.mu.Lock()
	e.n++
	e.mu.Unlock()
}

func (e *eventCount) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func newTestSigner(t *testing.T) *auth.Signer {
	t.Helper()
	signer, err := auth.NewSigner([]byte("test-secret"), "")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return signer
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	st := stream.New(16)
	store := &flakyStore{recs: map[string]counter.Record{}}
	events := &eventCount{}
	counters := counter.NewInMemory(
		counter.WithStore(store),
		counter.WithObserver(rolemap.MultiObserver{st, events}),
	)
	signer := newTestSigner(t)
	opts = append([]Option{WithStream(st), WithRateLimit(1000, 1000)}, opts...)
	api := New(ReadyProbe{}, "test", counters, signer, opts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		signer:  signer,
		store:   store,
		events:  events,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func expectReason(t *testing.T, resp *http.Response, status int, reason string) {
	t.Helper()
	expectStatus(t, resp, status)
	body := decodeBody[map[string]any](t, resp)
	if body["reason"] != reason {
		t.Fatalf("expected reason %q, got %v", reason, body["reason"])
	}
}

func bearerFor(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// as presents token on behalf of caller, vouched for by a signed caller assertion.
func (c *apiClient) as(token, caller string) map[string]string {
	c.t.Helper()
	assertion, err := c.signer.SignCaller(capability.Address(caller), time.Minute)
	if err != nil {
		c.t.Fatalf("sign caller: %v", err)
	}
	h := bearerFor(token)
	h["X-Caller-Token"] = assertion
	return h
}

type createdCounter struct {
	Counter    counterView    `json:"counter"`
	Token      string         `json:"token"`
	Capability capabilityView `json:"capability"`
}

func createTestCounter(t *testing.T, c *apiClient) createdCounter {
	t.Helper()
	resp := c.do(http.MethodPost, "/v1/counters", nil, nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decodeBody[createdCounter](t, resp)
	if created.Token == "" || created.Counter.ID == "" {
		t.Fatalf("expected token and id, got %+v", created)
	}
	return created
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.do(http.MethodGet, path, nil, nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := c.do(http.MethodGet, "/nope", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/counters", nil, nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()
}

func TestCounterLifecycle(t *testing.T) {
	c := newTestAPI(t)
	created := createTestCounter(t, c)
	id := created.Counter.ID
	admin := created.Token

	if created.Counter.InitialAdminRole != counter.AdminRole {
		t.Fatalf("unexpected admin role %q", created.Counter.InitialAdminRole)
	}
	if len(created.Counter.InitialAdminCapabilities) != 1 || created.Counter.InitialAdminCapabilities[0] != created.Capability.ID {
		t.Fatalf("unexpected initial admin caps %v", created.Counter.InitialAdminCapabilities)
	}

	resp := c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{
		Name:        "Incrementer",
		Permissions: []string{"counter.increment"},
	}, bearerFor(admin))
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/capabilities", capabilityRequest{
		Role:     "Incrementer",
		IssuedTo: strPtr("alice"),
	}, bearerFor(admin))
	expectStatus(t, resp, http.StatusCreated)
	issued := decodeBody[issuedResponse](t, resp)
	if issued.Capability.IssuedTo == nil || *issued.Capability.IssuedTo != "alice" {
		t.Fatalf("expected capability bound to alice, got %+v", issued.Capability)
	}

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/increment", nil, c.as(issued.Token, "alice"))
	expectStatus(t, resp, http.StatusOK)
	got := decodeBody[map[string]any](t, resp)
	if got["value"] != float64(1) {
		t.Fatalf("expected value 1, got %v", got["value"])
	}

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/increment", nil, c.as(issued.Token, "bob"))
	expectReason(t, resp, http.StatusForbidden, "caller_mismatch")

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/reset", nil, c.as(issued.Token, "alice"))
	expectReason(t, resp, http.StatusForbidden, "permission_denied")

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/increment", nil, nil)
	expectReason(t, resp, http.StatusUnauthorized, "invalid_token")

	resp = c.do(http.MethodDelete, "/v1/counters/"+id+"/capabilities/"+issued.Capability.ID, nil, bearerFor(admin))
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/increment", nil, c.as(issued.Token, "alice"))
	expectReason(t, resp, http.StatusForbidden, "capability_revoked")

	resp = c.do(http.MethodGet, "/v1/counters/"+id, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	view := decodeBody[counterView](t, resp)
	if view.Value != 1 {
		t.Fatalf("expected value 1 after failed calls, got %d", view.Value)
	}
	if len(view.IssuedCapabilities) != 1 {
		t.Fatalf("expected only the admin capability, got %v", view.IssuedCapabilities)
	}

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/reset", nil, bearerFor(admin))
	expectStatus(t, resp, http.StatusOK)
	got = decodeBody[map[string]any](t, resp)
	if got["value"] != float64(0) {
		t.Fatalf("expected value 0, got %v", got["value"])
	}
}

func TestRoleAdministration(t *testing.T) {
	c := newTestAPI(t)
	created := createTestCounter(t, c)
	id := created.Counter.ID
	admin := bearerFor(created.Token)

	resp := c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{Name: "Reader"}, admin)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{Name: "Reader"}, admin)
	expectReason(t, resp, http.StatusConflict, "role_already_exists")

	resp = c.do(http.MethodPut, "/v1/counters/"+id+"/roles/Reader", roleRequest{
		Permissions: []string{"counter.reset", "counter.increment"},
	}, admin)
	expectStatus(t, resp, http.StatusOK)
	role := decodeBody[roleView](t, resp)
	if len(role.Permissions) != 2 || role.Permissions[0] != counter.PermissionIncrement {
		t.Fatalf("unexpected permissions %v", role.Permissions)
	}

	resp = c.do(http.MethodGet, "/v1/counters/"+id+"/roles/Reader", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/counters/"+id+"/roles/Admin", roleRequest{
		Permissions: []string{"counter.increment"},
	}, admin)
	expectReason(t, resp, http.StatusConflict, "initial_admin_permissions_inconsistent")

	resp = c.do(http.MethodDelete, "/v1/counters/"+id+"/roles/Admin", nil, admin)
	expectReason(t, resp, http.StatusConflict, "initial_admin_role_cannot_be_deleted")

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{
		Name:        "Bad",
		Permissions: []string{"counter.explode"},
	}, admin)
	expectReason(t, resp, http.StatusBadRequest, "invalid_input")

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/roles", `{"name":"X","extra":1}`, admin)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/counters/"+id+"/roles/Reader", nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/counters/"+id+"/roles/Reader", nil, nil)
	expectReason(t, resp, http.StatusNotFound, "role_not_found")

	resp = c.do(http.MethodGet, "/v1/counters/"+id+"/roles", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decodeBody[struct {
		Items []roleView `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 || list.Items[0].Name != counter.AdminRole {
		t.Fatalf("unexpected roles %+v", list.Items)
	}
}

func TestCapabilityValidationAndForeignTokens(t *testing.T) {
	c := newTestAPI(t)
	first := createTestCounter(t, c)
	second := createTestCounter(t, c)

	resp := c.do(http.MethodPost, "/v1/counters/"+first.Counter.ID+"/capabilities", capabilityRequest{
		Role:       counter.AdminRole,
		ValidFrom:  u64Ptr(10),
		ValidUntil: u64Ptr(5),
	}, bearerFor(first.Token))
	expectReason(t, resp, http.StatusBadRequest, "invalid_validity_period")

	resp = c.do(http.MethodPost, "/v1/counters/"+first.Counter.ID+"/capabilities", capabilityRequest{
		Role: "Ghost",
	}, bearerFor(first.Token))
	expectReason(t, resp, http.StatusNotFound, "role_not_found")

	resp = c.do(http.MethodPost, "/v1/counters/"+first.Counter.ID+"/increment", nil, bearerFor(second.Token))
	expectReason(t, resp, http.StatusForbidden, "target_mismatch")

	resp = c.do(http.MethodPost, "/v1/counters/"+first.Counter.ID+"/increment", nil, bearerFor("garbage"))
	expectReason(t, resp, http.StatusUnauthorized, "invalid_token")

	resp = c.do(http.MethodGet, "/v1/counters/does-not-exist", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestInitialAdminSafety(t *testing.T) {
	c := newTestAPI(t)
	created := createTestCounter(t, c)
	id := created.Counter.ID
	admin := bearerFor(created.Token)

	resp := c.do(http.MethodPost, "/v1/counters/"+id+"/capabilities", capabilityRequest{Role: counter.AdminRole}, admin)
	expectStatus(t, resp, http.StatusCreated)
	second := decodeBody[issuedResponse](t, resp)

	resp = c.do(http.MethodDelete, "/v1/counters/"+id+"/capabilities/"+second.Capability.ID, nil, admin)
	expectReason(t, resp, http.StatusConflict, "initial_admin_capability_must_be_explicitly_destroyed")

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/capabilities/destroy", nil, bearerFor(second.Token))
	expectReason(t, resp, http.StatusConflict, "initial_admin_capability_must_be_explicitly_destroyed")

	resp = c.do(http.MethodDelete, "/v1/counters/"+id+"/capabilities/"+second.Capability.ID+"?initial_admin=true", nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/capabilities/destroy?initial_admin=true", nil, admin)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/counters/"+id, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	view := decodeBody[counterView](t, resp)
	if !view.Sealed || len(view.IssuedCapabilities) != 0 {
		t.Fatalf("expected sealed counter, got %+v", view)
	}

	resp = c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{Name: "Late"}, admin)
	expectReason(t, resp, http.StatusForbidden, "capability_revoked")
}

func TestStreamDeliversEvents(t *testing.T) {
	c := newTestAPI(t)
	created := createTestCounter(t, c)
	id := created.Counter.ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events?target="+id, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+created.Token)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	r := c.do(http.MethodPost, "/v1/counters/"+id+"/roles", roleRequest{Name: "Streamed"}, bearerFor(created.Token))
	expectStatus(t, r, http.StatusCreated)
	r.Body.Close()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			var evt map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if evt["kind"] != "role.created" || evt["role"] != "Streamed" || evt["target_key"] != id {
				t.Fatalf("unexpected event %v", evt)
			}
			return
		}
	}
}

func TestEventLogDisabled(t *testing.T) {
	c := newTestAPI(t)
	created := createTestCounter(t, c)
	resp := c.do(http.MethodGet, "/v1/counters/"+created.Counter.ID+"/events", nil, bearerFor(created.Token))
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}

func strPtr(s string) *string { return &s }

func u64Ptr(v uint64) *uint64 { return &v }
