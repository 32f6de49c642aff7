package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kilupskalvis/modsync/internal/drag"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// courseRemote serves several courses from memory.
type courseRemote struct {
	mu       sync.Mutex
	courses  map[string][]models.Module
	fetches  map[string]int
	reorders int
	nextID   int
	failOn   string
}

func newCourseRemote(courses map[string][]string) *courseRemote {
	r := &courseRemote{courses: map[string][]models.Module{}, fetches: map[string]int{}}
	for course, titles := range courses {
		for i, t := range titles {
			r.nextID++
			r.courses[course] = append(r.courses[course], models.Module{
				ID: fmt.Sprintf("m%d", r.nextID), CourseID: course, Position: i + 1, Title: t,
			})
		}
	}
	return r
}

func (r *courseRemote) Fetch(_ context.Context, courseID string) ([]models.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[courseID]++
	if r.failOn == courseID {
		return nil, errors.New("unavailable")
	}
	mods, ok := r.courses[courseID]
	if !ok {
		return nil, fmt.Errorf("course %s not found", courseID)
	}
	return append([]models.Module(nil), mods...), nil
}

func (r *courseRemote) Create(_ context.Context, courseID string, f models.ModuleFields) (models.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m := models.Module{ID: fmt.Sprintf("m%d", r.nextID), CourseID: courseID, Title: f.Title}
	r.courses[courseID] = order.Append(r.courses[courseID], m)
	return r.courses[courseID][len(r.courses[courseID])-1], nil
}

func (r *courseRemote) Update(_ context.Context, id string, p models.ModulePatch) (models.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for course, mods := range r.courses {
		if idx := order.IndexOf(mods, id); idx >= 0 {
			mods[idx] = p.ApplyTo(mods[idx])
			r.courses[course] = mods
			return mods[idx], nil
		}
	}
	return models.Module{}, errors.New("not found")
}

func (r *courseRemote) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for course, mods := range r.courses {
		if next, ok := order.Remove(mods, id); ok {
			r.courses[course] = next
			return nil
		}
	}
	return nil
}

func (r *courseRemote) Reorder(_ context.Context, courseID string, positions []models.PositionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reorders++
	byID := map[string]int{}
	for _, p := range positions {
		byID[p.ID] = p.Position
	}
	mods := r.courses[courseID]
	for i := range mods {
		mods[i].Position = byID[mods[i].ID]
	}
	r.courses[courseID] = order.SortByPosition(mods)
	return nil
}

func (r *courseRemote) fetchCount(courseID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[courseID]
}

type moduleCache = Manager[models.Module, models.ModuleFields, models.ModulePatch]

func newTestManager(r *courseRemote) *moduleCache {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager[models.Module, models.ModuleFields, models.ModulePatch](r, logger)
}

func titles(items []models.Module) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.Title
	}
	return out
}

func TestManager_OpenFetchesOnce(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B"}})
	m := newTestManager(r)
	ctx := context.Background()

	c1, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	c2, err := m.Open(ctx, "c1")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, r.fetchCount("c1"))
	assert.Equal(t, []string{"A", "B"}, titles(c1.Items()))
	assert.Equal(t, "c1", c1.ParentID())
}

func TestManager_OpenFailureNotCached(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A"}})
	r.failOn = "c1"
	m := newTestManager(r)

	_, err := m.Open(context.Background(), "c1")
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())

	_, ok := m.Get("c1")
	assert.False(t, ok)
}

func TestManager_OpenEmptyParent(t *testing.T) {
	m := newTestManager(newCourseRemote(nil))
	_, err := m.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestManager_Prefetch(t *testing.T) {
	r := newCourseRemote(map[string][]string{
		"c1": {"A"}, "c2": {"B", "C"}, "c3": {"D"},
	})
	m := newTestManager(r)

	require.NoError(t, m.Prefetch(context.Background(), "c1", "c2", "c3"))
	assert.Equal(t, 3, m.Len())

	c2, ok := m.Get("c2")
	require.True(t, ok)
	assert.Equal(t, []string{"B", "C"}, titles(c2.Items()))
}

func TestManager_PrefetchReportsFailure(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A"}})
	m := newTestManager(r)

	err := m.Prefetch(context.Background(), "c1", "missing")
	assert.Error(t, err)
}

func TestManager_CollectionsAreIndependent(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B"}, "c2": {"X"}})
	m := newTestManager(r)
	ctx := context.Background()

	c1, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	c2, err := m.Open(ctx, "c2")
	require.NoError(t, err)

	require.NoError(t, c1.Delete(ctx, c1.Items()[0].ID))

	assert.Equal(t, []string{"B"}, titles(c1.Items()))
	assert.Equal(t, []string{"X"}, titles(c2.Items()))
}

func TestManager_EvictCancelsDrag(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B"}})
	m := newTestManager(r)
	ctx := context.Background()

	c, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, c.Drag().Start(c.Items()[0].ID, 0))

	assert.True(t, m.Evict("c1"))
	assert.Equal(t, drag.Idle, c.Drag().State())
	assert.False(t, m.Evict("c1"))

	_, err = m.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.fetchCount("c1"))
}

func TestManager_EvictAll(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A"}, "c2": {"B"}})
	m := newTestManager(r)
	require.NoError(t, m.Prefetch(context.Background(), "c1", "c2"))

	m.EvictAll()
	assert.Equal(t, 0, m.Len())
}

func TestCollection_DropSubmitsOneReorder(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B", "C"}})
	m := newTestManager(r)
	ctx := context.Background()

	c, err := m.Open(ctx, "c1")
	require.NoError(t, err)

	items := c.Items()
	require.NoError(t, c.Drag().Start(items[1].ID, 1))
	c.Drag().Move(0)

	attempted, err := c.Drop(ctx)
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.Equal(t, []string{"B", "A", "C"}, titles(c.Items()))
	assert.Equal(t, 1, r.reorders)
	assert.NoError(t, order.CheckDensity(c.Items()))

	attempted, err = c.Drop(ctx)
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, 1, r.reorders)
}

func TestCollection_DropWithoutMoveMakesNoCall(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B"}})
	m := newTestManager(r)
	ctx := context.Background()

	c, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, c.Drag().Start(c.Items()[0].ID, 0))

	attempted, err := c.Drop(ctx)
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, 0, r.reorders)
}

func TestCollection_DropAfterReloadDiscarded(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A", "B", "C"}})
	m := newTestManager(r)
	ctx := context.Background()

	c, err := m.Open(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, c.Drag().Start(c.Items()[2].ID, 2))
	c.Drag().Move(0)

	// Another writer removes a module; the refresh is parked until drop.
	r.mu.Lock()
	r.courses["c1"], _ = order.Remove(r.courses["c1"], r.courses["c1"][0].ID)
	r.mu.Unlock()
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []string{"A", "B", "C"}, titles(c.Items()))

	attempted, err := c.Drop(ctx)
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, []string{"B", "C"}, titles(c.Items()))
	assert.Equal(t, 0, r.reorders)
}

func TestCollection_CreateUpdate(t *testing.T) {
	r := newCourseRemote(map[string][]string{"c1": {"A"}})
	m := newTestManager(r)
	ctx := context.Background()

	c, err := m.Open(ctx, "c1")
	require.NoError(t, err)

	created, err := c.Create(ctx, models.ModuleFields{Title: "B"})
	require.NoError(t, err)
	assert.False(t, created.IsTemporary())
	assert.Equal(t, 2, created.Position)

	title := "Intro"
	require.NoError(t, c.Update(ctx, created.ID, models.ModulePatch{Title: &title}))
	assert.Equal(t, []string{"A", "Intro"}, titles(c.Items()))

	require.NoError(t, c.Reorder(ctx, 1, 0))
	assert.Equal(t, []string{"Intro", "A"}, titles(c.Items()))
	assert.False(t, c.IsPending())
}
