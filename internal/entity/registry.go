package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener is called after every committed change, outside the registry
// locks. Listeners run on the writer's goroutine and must not block.
type Listener func(Change)

// Registry is the in-process state machine: an in-memory cache of entity
// states written through to a Repository.
//
// All public methods are thread-safe. Returned states are deep copies.
type Registry struct {
	repo Repository

	cache   map[string]*State
	cacheMu sync.RWMutex

	// writeMu serialises writes so listeners observe changes in commit order.
	writeMu sync.Mutex

	listeners   []Listener
	listenersMu sync.RWMutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*State),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnChange registers a listener for state changes.
func (r *Registry) OnChange(listener Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, listener)
	r.listenersMu.Unlock()
}

// RefreshCache reloads every state from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	states, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]*State, len(states))
	for i := range states {
		r.cache[states[i].EntityID] = states[i].DeepCopy()
	}
	r.cacheMu.Unlock()

	r.logger.Info("entity cache refreshed", "count", len(states))
	return nil
}

// Set writes the state of an entity, creating it if needed.
//
// A nil attrs keeps the current attributes; a non-nil map replaces them.
// LastChanged only moves when the state string differs from the current one.
func (r *Registry) Set(ctx context.Context, entityID, state string, attrs Attributes) (*State, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, fmt.Errorf("%w: %q", err, entityID)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.cacheMu.RLock()
	old := r.cache[entityID].DeepCopy()
	r.cacheMu.RUnlock()

	now := r.now().UTC()
	next := &State{
		EntityID:    entityID,
		State:       state,
		Attributes:  deepCopyAttributes(attrs),
		LastChanged: now,
		LastUpdated: now,
	}
	if old != nil {
		if attrs == nil {
			next.Attributes = deepCopyAttributes(old.Attributes)
		}
		if old.State == state {
			next.LastChanged = old.LastChanged
		}
	}

	if err := r.repo.Upsert(ctx, next); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[entityID] = next.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("entity state set", "entity_id", entityID, "state", state)
	r.notify(Change{EntityID: entityID, Old: old, New: next.DeepCopy()})

	return next, nil
}

// Get returns the state of one entity or ErrEntityNotFound.
func (r *Registry) Get(_ context.Context, entityID string) (*State, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.cache[entityID]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return cached.DeepCopy(), nil
}

// All returns every state sorted by entity id.
func (r *Registry) All(_ context.Context) []State {
	r.cacheMu.RLock()
	states := make([]State, 0, len(r.cache))
	for _, s := range r.cache {
		states = append(states, *s.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].EntityID < states[j].EntityID
	})
	return states
}

// ByDomain returns the states whose entity id starts with domain + ".".
func (r *Registry) ByDomain(ctx context.Context, domain string) []State {
	var out []State
	for _, s := range r.All(ctx) {
		if s.Domain() == domain {
			out = append(out, s)
		}
	}
	return out
}

// Remove deletes an entity.
func (r *Registry) Remove(ctx context.Context, entityID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.cacheMu.RLock()
	old, ok := r.cache[entityID]
	r.cacheMu.RUnlock()
	if !ok {
		return ErrEntityNotFound
	}

	if err := r.repo.Delete(ctx, entityID); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, entityID)
	r.cacheMu.Unlock()

	r.logger.Info("entity removed", "entity_id", entityID)
	r.notify(Change{EntityID: entityID, Old: old.DeepCopy()})
	return nil
}

// Count returns the number of cached entities.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func (r *Registry) notify(change Change) {
	r.listenersMu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		r.safeCall(l, change)
	}
}

func (r *Registry) safeCall(l Listener, change Change) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("entity listener panic recovered", "entity_id", change.EntityID, "panic", rec)
		}
	}()
	l(change)
}
