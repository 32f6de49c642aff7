package cache

import (
	"context"
	"log/slog"

	"github.com/kilupskalvis/modsync/internal/drag"
	"github.com/kilupskalvis/modsync/internal/mutation"
	"github.com/kilupskalvis/modsync/internal/order"
)

// Collection is the cached, mutable view of one parent's entities. It pairs
// the mutation coordinator with the drag manager that feeds it reorders.
type Collection[T order.Item[T], F mutation.Fields[T], P mutation.Patch[T]] struct {
	coord  *mutation.Coordinator[T, F, P]
	drag   *drag.Manager
	logger *slog.Logger
}

func newCollection[T order.Item[T], F mutation.Fields[T], P mutation.Patch[T]](coord *mutation.Coordinator[T, F, P], logger *slog.Logger) *Collection[T, F, P] {
	return &Collection[T, F, P]{
		coord:  coord,
		drag:   drag.NewManager(coord, coord.Store(), logger),
		logger: logger,
	}
}

// ParentID returns the id of the parent that owns the collection.
func (c *Collection[T, F, P]) ParentID() string { return c.coord.ParentID() }

// Items returns the entities in display order.
func (c *Collection[T, F, P]) Items() []T { return c.coord.Store().Items() }

// IsPending reports whether any mutation is in flight.
func (c *Collection[T, F, P]) IsPending() bool { return c.coord.IsPending() }

func (c *Collection[T, F, P]) Create(ctx context.Context, fields F) (T, error) {
	return c.coord.Create(ctx, fields)
}

func (c *Collection[T, F, P]) Update(ctx context.Context, id string, patch P) error {
	return c.coord.Update(ctx, id, patch)
}

func (c *Collection[T, F, P]) Delete(ctx context.Context, id string) error {
	return c.coord.Delete(ctx, id)
}

func (c *Collection[T, F, P]) Reorder(ctx context.Context, from, to int) error {
	return c.coord.Reorder(ctx, from, to)
}

// Refresh refetches the collection from the remote.
func (c *Collection[T, F, P]) Refresh(ctx context.Context) error {
	return c.coord.Refresh(ctx)
}

// Drag returns the gesture manager for this collection.
func (c *Collection[T, F, P]) Drag() *drag.Manager { return c.drag }

// Drop ends the active gesture and submits its intent as a reorder. It
// reports whether a reorder was attempted. An intent whose source entity no
// longer sits at the source index is discarded.
func (c *Collection[T, F, P]) Drop(ctx context.Context) (bool, error) {
	intent, ok := c.drag.Drop()
	if !ok {
		return false, nil
	}

	items := c.Items()
	if intent.From >= len(items) || items[intent.From].ItemID() != intent.EntityID {
		c.logger.Debug("drop intent is stale, discarding",
			"parent_id", c.ParentID(), "id", intent.EntityID, "from", intent.From)
		return false, nil
	}
	return true, c.coord.Reorder(ctx, intent.From, intent.To)
}
