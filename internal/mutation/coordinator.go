// Package mutation applies create, update, delete and reorder operations to
// a collection optimistically.
//
// Every operation follows the same three steps: apply the local change while
// recording how to undo it, then call the remote. A failed call runs the undo
// and returns an *Error; a successful one keeps the optimistic state and, for
// kinds selected by the Policy, refetches the collection. Undo reverts only
// that operation's change, so mutations on other ids that overlap it keep
// theirs.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kilupskalvis/modsync/internal/collection"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
)

// Fields is the user input for a create. Draft builds the placeholder entity
// shown until the server answers.
type Fields[T any] interface {
	Validate() error
	Draft(tempID string) T
}

// Patch is the user input for an update. ApplyTo must not change position.
type Patch[T any] interface {
	Validate() error
	ApplyTo(entity T) T
}

// Remote is the source of truth for one kind of ordered entity.
type Remote[T any, F any, P any] interface {
	Fetch(ctx context.Context, parentID string) ([]T, error)
	Create(ctx context.Context, parentID string, fields F) (T, error)
	Update(ctx context.Context, id string, patch P) (T, error)
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, parentID string, positions []models.PositionUpdate) error
}

// Phase marks a step in a mutation's lifecycle.
type Phase string

const (
	PhaseApplied         Phase = "applied"
	PhaseCommitted       Phase = "committed"
	PhaseRolledBack      Phase = "rolled_back"
	PhaseReconciled      Phase = "reconciled"
	PhaseReconcileFailed Phase = "reconcile_failed"
)

// Event is delivered to the observer after each phase.
type Event struct {
	Kind     models.MutationKind
	EntityID string
	Phase    Phase
	Err      error
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	policy   Policy
	logger   *slog.Logger
	observer func(Event)
	newID    func() string
}

// WithPolicy overrides the default RefetchPolicy.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets the logger used for rollbacks and reconciliation.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers a callback invoked synchronously for every Event.
func WithObserver(fn func(Event)) Option {
	return func(o *options) { o.observer = fn }
}

// WithIDGenerator replaces the generator for placeholder ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

type inflightKey struct {
	kind models.MutationKind
	id   string
}

// Coordinator runs optimistic mutations against one collection.
type Coordinator[T order.Item[T], F Fields[T], P Patch[T]] struct {
	parentID string
	store    *collection.Store[T]
	remote   Remote[T, F, P]
	opts     options

	mu       sync.Mutex
	inflight map[inflightKey]struct{}
	creating int
}

// New creates a Coordinator for the collection owned by parentID.
func New[T order.Item[T], F Fields[T], P Patch[T]](parentID string, store *collection.Store[T], remote Remote[T, F, P], opts ...Option) *Coordinator[T, F, P] {
	o := options{
		policy: RefetchPolicy{},
		logger: slog.Default(),
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[T, F, P]{
		parentID: parentID,
		store:    store,
		remote:   remote,
		opts:     o,
		inflight: make(map[inflightKey]struct{}),
	}
}

// Store returns the collection the coordinator mutates.
func (c *Coordinator[T, F, P]) Store() *collection.Store[T] { return c.store }

// ParentID returns the id of the collection's parent.
func (c *Coordinator[T, F, P]) ParentID() string { return c.parentID }

// IsPending reports whether any mutation is waiting on the remote. Drag
// gestures must not start while it is true: a pending create leaves a
// placeholder in the list that cannot be part of a reorder.
func (c *Coordinator[T, F, P]) IsPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight) > 0
}

// InFlight reports whether a mutation of kind is running for id.
func (c *Coordinator[T, F, P]) InFlight(kind models.MutationKind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[inflightKey{kind, id}]
	return ok
}

// Refresh fetches the collection and loads it into the store. The load is
// parked if a drag gesture holds the store.
func (c *Coordinator[T, F, P]) Refresh(ctx context.Context) error {
	items, err := c.remote.Fetch(ctx, c.parentID)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", c.parentID, err)
	}
	if !c.store.Load(items) {
		c.opts.logger.Debug("load deferred by active drag", "parent_id", c.parentID)
	}
	return nil
}

// Create appends a placeholder, asks the remote to create the entity and
// swaps the placeholder for the server echo.
func (c *Coordinator[T, F, P]) Create(ctx context.Context, fields F) (T, error) {
	var zero T
	if err := fields.Validate(); err != nil {
		return zero, &ValidationError{Kind: models.MutationCreate, Err: err}
	}

	tempID := models.TempIDPrefix + c.opts.newID()
	var created T
	err := c.run(ctx, op[T]{
		kind: models.MutationCreate,
		id:   tempID,
		apply: func(s *collection.Store[T]) undoFunc[T] {
			s.Insert(fields.Draft(tempID))
			return func(s *collection.Store[T]) { s.Remove(tempID) }
		},
		call: func(ctx context.Context) error {
			var err error
			created, err = c.remote.Create(ctx, c.parentID, fields)
			return err
		},
		commit: func(s *collection.Store[T]) {
			if !s.Replace(tempID, created) {
				c.opts.logger.Debug("placeholder gone before create echo", "temp_id", tempID)
			}
		},
	})
	if err != nil {
		return zero, err
	}
	if stored, ok := c.store.Get(created.ItemID()); ok {
		return stored, nil
	}
	return created, nil
}

// Update merges patch into the entity locally, then remotely.
func (c *Coordinator[T, F, P]) Update(ctx context.Context, id string, patch P) error {
	if err := patch.Validate(); err != nil {
		return &ValidationError{Kind: models.MutationUpdate, Err: err}
	}

	var echo T
	return c.run(ctx, op[T]{
		kind: models.MutationUpdate,
		id:   id,
		apply: func(s *collection.Store[T]) undoFunc[T] {
			var prev T
			changed := s.Update(id, func(cur T) T {
				prev = cur
				return patch.ApplyTo(cur)
			})
			if !changed {
				return nil
			}
			return func(s *collection.Store[T]) {
				s.Update(id, func(T) T { return prev })
			}
		},
		call: func(ctx context.Context) error {
			var err error
			echo, err = c.remote.Update(ctx, id, patch)
			return err
		},
		commit: func(s *collection.Store[T]) {
			if echo.ItemID() == id {
				s.Update(id, func(T) T { return echo })
			}
		},
	})
}

// Delete removes the entity locally, then remotely. A remote "not found" is
// treated as success since the entity is gone either way.
func (c *Coordinator[T, F, P]) Delete(ctx context.Context, id string) error {
	return c.run(ctx, op[T]{
		kind: models.MutationDelete,
		id:   id,
		apply: func(s *collection.Store[T]) undoFunc[T] {
			idx := -1
			var removed T
			s.Transform(func(items []T) []T {
				next, ok := order.Remove(items, id)
				if !ok {
					return items
				}
				idx = order.IndexOf(items, id)
				removed = items[idx]
				return next
			})
			if idx < 0 {
				return nil
			}
			return func(s *collection.Store[T]) { s.InsertAt(idx, removed) }
		},
		call: func(ctx context.Context) error {
			return c.remote.Delete(ctx, id)
		},
		tolerate: isNotFound,
	})
}

// Reorder moves the entity at index from to index to and sends the complete
// renumbered ordering. A no-op move makes no remote call.
func (c *Coordinator[T, F, P]) Reorder(ctx context.Context, from, to int) error {
	var positions []models.PositionUpdate
	return c.run(ctx, op[T]{
		kind:            models.MutationReorder,
		id:              c.parentID,
		skipIfUnchanged: true,
		apply: func(s *collection.Store[T]) undoFunc[T] {
			var prior []string
			s.Transform(func(items []T) []T {
				next, ok := order.Move(items, from, to)
				if !ok {
					return items
				}
				prior = order.IDs(items)
				positions = order.PositionUpdates(next)
				return next
			})
			if prior == nil {
				return nil
			}
			return func(s *collection.Store[T]) { s.Arrange(prior) }
		},
		call: func(ctx context.Context) error {
			return c.remote.Reorder(ctx, c.parentID, positions)
		},
	})
}

// undoFunc reverts exactly the change made by one apply, leaving the
// optimistic changes of other in-flight mutations in place.
type undoFunc[T order.Item[T]] func(s *collection.Store[T])

// op is one optimistic mutation expressed as an apply/call/commit triple.
type op[T order.Item[T]] struct {
	kind models.MutationKind
	id   string

	// apply changes the store and returns the matching undo, or nil when
	// nothing changed.
	apply func(s *collection.Store[T]) undoFunc[T]
	// skipIfUnchanged returns early, without a remote call, when apply is a no-op.
	skipIfUnchanged bool
	call            func(ctx context.Context) error
	// commit runs after a successful call, before reconciliation.
	commit func(s *collection.Store[T])
	// tolerate reports remote errors that count as success.
	tolerate func(error) bool
}

func (c *Coordinator[T, F, P]) run(ctx context.Context, o op[T]) error {
	if !c.acquire(o.kind, o.id) {
		c.opts.logger.Debug("mutation rejected, already in flight", "kind", o.kind, "id", o.id)
		return fmt.Errorf("%s %s: %w", o.kind, o.id, ErrInFlight)
	}
	defer c.release(o.kind, o.id)

	undo := o.apply(c.store)
	if undo == nil && o.skipIfUnchanged {
		return nil
	}
	c.emit(Event{Kind: o.kind, EntityID: o.id, Phase: PhaseApplied})

	if err := o.call(ctx); err != nil && (o.tolerate == nil || !o.tolerate(err)) {
		if undo != nil {
			undo(c.store)
		}
		c.opts.logger.Warn("mutation failed, local change rolled back",
			"kind", o.kind, "id", o.id, "parent_id", c.parentID, "error", err)
		c.emit(Event{Kind: o.kind, EntityID: o.id, Phase: PhaseRolledBack, Err: err})
		return &Error{Kind: o.kind, EntityID: o.id, Err: err}
	}

	if o.commit != nil {
		o.commit(c.store)
	}
	c.emit(Event{Kind: o.kind, EntityID: o.id, Phase: PhaseCommitted})

	if c.opts.policy.Refetch(o.kind) {
		c.reconcile(ctx, o)
	}
	return nil
}

// reconcile replaces optimistic state with the remote's. A failed fetch
// leaves the optimistic state in place; the mutation itself already succeeded.
func (c *Coordinator[T, F, P]) reconcile(ctx context.Context, o op[T]) {
	if err := c.Refresh(ctx); err != nil {
		c.opts.logger.Warn("reconcile failed, keeping optimistic state",
			"kind", o.kind, "parent_id", c.parentID, "error", err)
		c.emit(Event{Kind: o.kind, EntityID: o.id, Phase: PhaseReconcileFailed, Err: err})
		return
	}
	c.emit(Event{Kind: o.kind, EntityID: o.id, Phase: PhaseReconciled})
}

func (c *Coordinator[T, F, P]) acquire(kind models.MutationKind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inflight[inflightKey{kind, id}]; busy {
		return false
	}
	switch kind {
	case models.MutationUpdate:
		// An entity being deleted cannot be edited meanwhile.
		if _, busy := c.inflight[inflightKey{models.MutationDelete, id}]; busy {
			return false
		}
	case models.MutationReorder:
		// A placeholder has no server identity to position.
		if c.creating > 0 {
			return false
		}
	case models.MutationCreate:
		if _, busy := c.inflight[inflightKey{models.MutationReorder, c.parentID}]; busy {
			return false
		}
	}
	c.inflight[inflightKey{kind, id}] = struct{}{}
	if kind == models.MutationCreate {
		c.creating++
	}
	return true
}

func (c *Coordinator[T, F, P]) release(kind models.MutationKind, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, inflightKey{kind, id})
	if kind == models.MutationCreate {
		c.creating--
	}
}

func (c *Coordinator[T, F, P]) emit(e Event) {
	if c.opts.observer != nil {
		c.opts.observer(e)
	}
}
