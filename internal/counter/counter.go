// Package counter is a managed object guarded by a role map: a counter whose increments and
// resets require a capability holding the matching permission.
package counter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// Counter is safe for concurrent use.
type Counter struct {
	mu        sync.RWMutex
	id        string
	value     uint64
	createdAt time.Time
	updatedAt time.Time
	access    *rolemap.RoleMap[Permission]
	clock     capability.Clock
}

// Option configures counters and the registry.
type Option func(*settings)

type settings struct {
	observer rolemap.Observer
	clock    capability.Clock
	store    Store
}

// WithObserver receives the access events of every counter.
func WithObserver(o rolemap.Observer) Option {
	return func(s *settings) { s.observer = o }
}

// WithClock sets the clock used for event timestamps and as the default for checks.
func WithClock(c capability.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithStore makes the registry persist counters and load unknown ids on demand.
func WithStore(st Store) Option {
	return func(s *settings) { s.store = st }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	return s
}

func (s settings) now() time.Time {
	return millisToTime(s.clockOrSystem().NowMillis())
}

func (s settings) clockOrSystem() capability.Clock {
	if s.clock == nil {
		return capability.SystemClock{}
	}
	return s.clock
}

func millisToTime(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

func (s settings) roleMapOptions() []rolemap.Option {
	var out []rolemap.Option
	if s.observer != nil {
		out = append(out, rolemap.WithObserver(s.observer))
	}
	if s.clock != nil {
		out = append(out, rolemap.WithClock(s.clock))
	}
	return out
}

// New creates a counter with a fresh id and returns it together with the initial admin
// capability. The admin role holds every permission.
func New(ctx context.Context, opts ...Option) (*Counter, *capability.Capability, error) {
	st := newSettings(opts)
	id := uuid.NewString()
	access, admin, err := rolemap.New(ctx, id, AdminRole, AllPermissions(), RoleAdmin, CapabilityAdmin, st.roleMapOptions()...)
	if err != nil {
		return nil, nil, err
	}
	now := st.now()
	return &Counter{id: id, createdAt: now, updatedAt: now, access: access, clock: st.clockOrSystem()}, admin, nil
}

// FromRecord rebuilds a counter from its persisted form.
func FromRecord(rec Record, opts ...Option) (*Counter, error) {
	if rec.ID == "" || rec.ID != rec.Access.TargetKey {
		return nil, fmt.Errorf("%w: id %q does not match access target %q", ErrInvalidRecord, rec.ID, rec.Access.TargetKey)
	}
	st := newSettings(opts)
	access, err := rolemap.FromSnapshot(rec.Access, st.roleMapOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return &Counter{
		id:        rec.ID,
		value:     rec.Value,
		createdAt: rec.CreatedAt,
		updatedAt: rec.UpdatedAt,
		access:    access,
		clock:     st.clockOrSystem(),
	}, nil
}

func (c *Counter) ID() string { return c.id }

func (c *Counter) Value() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Access exposes the role map for role and capability administration.
func (c *Counter) Access() *rolemap.RoleMap[Permission] { return c.access }

// Increment adds one and returns the new value.
func (c *Counter) Increment(ctx context.Context, presented *capability.Capability, clock capability.Clock, caller capability.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.access.CheckCapability(presented, PermissionIncrement, clock, caller); err != nil {
		return c.value, err
	}
	c.value++
	c.updatedAt = millisToTime(c.clock.NowMillis())
	return c.value, nil
}

// Reset sets the value back to zero.
func (c *Counter) Reset(ctx context.Context, presented *capability.Capability, clock capability.Clock, caller capability.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.access.CheckCapability(presented, PermissionReset, clock, caller); err != nil {
		return err
	}
	c.value = 0
	c.updatedAt = millisToTime(c.clock.NowMillis())
	return nil
}

// Record returns the persisted form.
func (c *Counter) Record() Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Record{
		ID:        c.id,
		Value:     c.value,
		Access:    c.access.Snapshot(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Counter) touch() {
	c.mu.Lock()
	c.updatedAt = millisToTime(c.clock.NowMillis())
	c.mu.Unlock()
}
