// Package metastoretest holds behaviour tests shared by every ModuleStore
// backend.
package metastoretest

import (
	"context"
	"testing"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a ModuleStore. newStore must return an empty store; it is
// called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) metastore.ModuleStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s metastore.ModuleStore)
	}{
		{"CreateAppends", testCreateAppends},
		{"UnknownCourse", testUnknownCourse},
		{"GetNotFound", testGetNotFound},
		{"UpdateKeepsPosition", testUpdateKeepsPosition},
		{"DeleteRenumbers", testDeleteRenumbers},
		{"Reorder", testReorder},
		{"ReorderConflicts", testReorderConflicts},
		{"CompactDenseCourse", testCompactDense},
		{"CoursesIsolated", testCoursesIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Seed creates modules with the given titles in course and returns them.
func Seed(t *testing.T, s metastore.ModuleStore, course string, titles ...string) []models.Module {
	t.Helper()
	ctx := context.Background()
	for _, title := range titles {
		require.NoError(t, s.CreateModule(ctx, &models.Module{CourseID: course, Title: title}))
	}
	mods, err := s.ListModules(ctx, course)
	require.NoError(t, err)
	return mods
}

func titles(mods []models.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Title
	}
	return out
}

func testCreateAppends(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()

	m := &models.Module{CourseID: "c1", Title: "Intro", Counts: models.Counts{Lessons: 2}}
	require.NoError(t, s.CreateModule(ctx, m))
	_, err := ulid.ParseStrict(m.ID)
	assert.NoError(t, err, "ids are ULIDs")
	assert.Equal(t, 1, m.Position)
	assert.False(t, m.CreatedAt.IsZero())

	mods := Seed(t, s, "c1", "Basics", "Advanced")
	assert.Equal(t, []string{"Intro", "Basics", "Advanced"}, titles(mods))
	assert.NoError(t, order.CheckDensity(mods))
	assert.Equal(t, 2, mods[0].Counts.Lessons)

	n, err := s.CountModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testUnknownCourse(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()

	mods, err := s.ListModules(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, mods)

	n, err := s.CountModules(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testGetNotFound(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()

	_, err := s.GetModule(ctx, "missing")
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	title := "x"
	_, err = s.UpdateModule(ctx, "missing", models.ModulePatch{Title: &title})
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	_, err = s.DeleteModule(ctx, "missing")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func testUpdateKeepsPosition(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	mods := Seed(t, s, "c1", "A", "B")

	title, desc := "  Renamed  ", "details"
	updated, err := s.UpdateModule(ctx, mods[1].ID, models.ModulePatch{Title: &title, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "details", updated.Description)
	assert.Equal(t, 2, updated.Position)

	got, err := s.GetModule(ctx, mods[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "c1", got.CourseID)
}

func testDeleteRenumbers(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	mods := Seed(t, s, "c1", "A", "B", "C", "D")

	removed, err := s.DeleteModule(ctx, mods[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.Title)
	assert.Equal(t, "c1", removed.CourseID)

	left, err := s.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, titles(left))
	assert.NoError(t, order.CheckDensity(left))

	_, err = s.GetModule(ctx, mods[1].ID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func testReorder(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	mods := Seed(t, s, "c1", "A", "B", "C")

	moved, _ := order.Move(mods, 0, 2)
	require.NoError(t, s.ReorderModules(ctx, "c1", order.PositionUpdates(moved)))

	got, err := s.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, titles(got))
	assert.NoError(t, order.CheckDensity(got))
}

func testReorderConflicts(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	mods := Seed(t, s, "c1", "A", "B", "C")
	other := Seed(t, s, "c2", "X")

	cases := map[string][]models.PositionUpdate{
		"missing module": {{ID: mods[0].ID, Position: 1}, {ID: mods[1].ID, Position: 2}},
		"foreign module": {{ID: mods[0].ID, Position: 1}, {ID: mods[1].ID, Position: 2}, {ID: other[0].ID, Position: 3}},
		"duplicate id":   {{ID: mods[0].ID, Position: 1}, {ID: mods[0].ID, Position: 2}, {ID: mods[2].ID, Position: 3}},
		"repeated pos":   {{ID: mods[0].ID, Position: 1}, {ID: mods[1].ID, Position: 1}, {ID: mods[2].ID, Position: 3}},
		"gap":            {{ID: mods[0].ID, Position: 1}, {ID: mods[1].ID, Position: 2}, {ID: mods[2].ID, Position: 4}},
	}
	for name, positions := range cases {
		err := s.ReorderModules(ctx, "c1", positions)
		assert.ErrorIs(t, err, metastore.ErrConflict, name)
	}

	got, err := s.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(got), "rejected reorders leave the course untouched")
}

func testCompactDense(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	Seed(t, s, "c1", "A", "B")

	moved, err := s.CompactCourse(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = s.CompactCourse(ctx, "empty")
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func testCoursesIsolated(t *testing.T, s metastore.ModuleStore) {
	ctx := context.Background()
	a := Seed(t, s, "c1", "A1", "A2")
	Seed(t, s, "c2", "B1", "B2", "B3")

	_, err := s.DeleteModule(ctx, a[0].ID)
	require.NoError(t, err)

	c2, err := s.ListModules(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2", "B3"}, titles(c2))
	assert.NoError(t, order.CheckDensity(c2))
}
