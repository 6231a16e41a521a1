package counter

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
)

// Store persists counter records. LoadCounter returns ErrNotFound for unknown ids.
type Store interface {
	SaveCounter(ctx context.Context, rec Record) error
	LoadCounter(ctx context.Context, id string) (Record, error)
}

// Service defines the counter registry.
type Service interface {
	Create(ctx context.Context) (*Counter, *capability.Capability, error)
	Get(ctx context.Context, id string) (*Counter, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Update(ctx context.Context, id string, fn func(c *Counter) error) (*Counter, error)
}

// InMemory keeps live counters in process. With WithStore it writes through on Create and
// Update and loads counters it has not seen yet.
type InMemory struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	locks    map[string]*sync.Mutex
	settings settings
	opts     []Option
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty registry. Options also apply to every counter it creates.
func NewInMemory(opts ...Option) *InMemory {
	return &InMemory{
		counters: make(map[string]*Counter),
		locks:    make(map[string]*sync.Mutex),
		settings: newSettings(opts),
		opts:     opts,
	}
}

// eventBuffer holds the events of a draft until it has been committed.
type eventBuffer struct {
	mu     sync.Mutex
	events []rolemap.Event
}

func (b *eventBuffer) Observe(_ context.Context, evt rolemap.Event) {
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

func (b *eventBuffer) deliver(ctx context.Context, o rolemap.Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()
	for _, evt := range events {
		o.Observe(ctx, evt)
	}
}

// draftOptions are the registry options with events redirected into buf.
func (s *InMemory) draftOptions(buf *eventBuffer) []Option {
	out := make([]Option, 0, len(s.opts)+1)
	out = append(out, s.opts...)
	return append(out, WithObserver(buf))
}

func (s *InMemory) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// commit persists rec, installs it as the live counter and then releases the buffered events.
// A stale write drops the cached counter so that the next Get reloads the stored one.
func (s *InMemory) commit(ctx context.Context, rec Record, buf *eventBuffer) (*Counter, error) {
	if s.settings.store != nil {
		if err := s.settings.store.SaveCounter(ctx, rec); err != nil {
			if errors.Is(err, ErrStale) {
				s.mu.Lock()
				delete(s.counters, rec.ID)
				s.mu.Unlock()
			}
			return nil, err
		}
	}
	live, err := FromRecord(rec, s.opts...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.counters[rec.ID] = live
	s.mu.Unlock()
	buf.deliver(ctx, s.settings.observer)
	return live, nil
}

func (s *InMemory) Create(ctx context.Context) (*Counter, *capability.Capability, error) {
	buf := &eventBuffer{}
	draft, admin, err := New(ctx, s.draftOptions(buf)...)
	if err != nil {
		return nil, nil, err
	}
	l := s.lockFor(draft.ID())
	l.Lock()
	defer l.Unlock()
	live, err := s.commit(ctx, draft.Record(), buf)
	if err != nil {
		return nil, nil, err
	}
	return live, admin, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (*Counter, error) {
	s.mu.RLock()
	c, ok := s.counters[id]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	if s.settings.store == nil {
		return nil, ErrNotFound
	}

	rec, err := s.settings.store.LoadCounter(ctx, id)
	if err != nil {
		return nil, err
	}
	loaded, err := FromRecord(rec, s.opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have loaded it meanwhile.
	if c, ok := s.counters[id]; ok {
		return c, nil
	}
	s.counters[id] = loaded
	return loaded, nil
}

// Update applies fn to a draft copy of the counter. The draft is persisted before it
// replaces the live counter and its events reach the observer only after that, so a failing
// fn or store leaves both the counter and the event trail untouched. Updates of one counter
// run one at a time.
func (s *InMemory) Update(ctx context.Context, id string, fn func(c *Counter) error) (*Counter, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	buf := &eventBuffer{}
	draft, err := FromRecord(current.Record(), s.draftOptions(buf)...)
	if err != nil {
		return nil, err
	}
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.touch()
	return s.commit(ctx, draft.Record(), buf)
}

// List returns records of the counters held in memory, oldest first.
func (s *InMemory) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	all := make([]*Counter, 0, len(s.counters))
	for _, c := range s.counters {
		all = append(all, c)
	}
	s.mu.RUnlock()

	recs := make([]Record, 0, len(all))
	for _, c := range all {
		recs = append(recs, c.Record())
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
