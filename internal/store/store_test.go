package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
	"github.com/kilupskalvis/modsync/internal/remote/metastore/metastoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new SQLite store in a temp directory for testing.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLStore(t *testing.T) {
	metastoretest.Run(t, func(t *testing.T) metastore.ModuleStore {
		return newTestStore(t)
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	metastoretest.Seed(t, st, "c1", "A")
	require.NoError(t, st.Close())

	st, err = Open(DriverSQLite, dbPath)
	require.NoError(t, err)
	defer st.Close()

	version, err := st.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	mods, err := st.ListModules(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "A", mods[0].Title)
}

func TestSQLStore_CountsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m := &models.Module{CourseID: "c1", Title: "Graphs", Counts: models.Counts{Lessons: 4, Quizzes: 1, Assignments: 2}}
	require.NoError(t, st.CreateModule(ctx, m))

	got, err := st.GetModule(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Counts, got.Counts)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLStore_CreateRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateModule(ctx, &models.Module{ID: "m1", CourseID: "c1", Title: "A"}))
	err := st.CreateModule(ctx, &models.Module{ID: "m1", CourseID: "c1", Title: "B"})
	assert.ErrorIs(t, err, metastore.ErrConflict)
}

func TestSQLStore_CompactClosesGaps(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mods := metastoretest.Seed(t, st, "c1", "A", "B", "C")

	// Leave gaps the way a hand-edited database might.
	for i, pos := range []int{1, 5, 9} {
		_, err := st.DB().Exec("UPDATE modules SET position = ? WHERE id = ?", pos, mods[i].ID)
		require.NoError(t, err)
	}

	moved, err := st.CompactCourse(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	got, err := st.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.NoError(t, order.CheckDensity(got))
	assert.Equal(t, "C", got[2].Title)
}

func TestSQLStore_Ping(t *testing.T) {
	st := newTestStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "UPDATE m SET a = $1 WHERE id = $2", pg.rebind("UPDATE m SET a = ? WHERE id = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestOpenModuleStore(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{BackendBbolt, BackendSQLite} {
		s, err := OpenModuleStore(backend, dir, "")
		require.NoError(t, err, backend)
		metastoretest.Seed(t, s, "c1", "A")
		require.NoError(t, s.Close())
	}

	_, err := OpenModuleStore(BackendPostgres, dir, "")
	assert.Error(t, err)

	_, err = OpenModuleStore("mongo", dir, "")
	assert.Error(t, err)
}
