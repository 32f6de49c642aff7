package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kilupskalvis/modsync/internal/cache"
	"github.com/kilupskalvis/modsync/internal/drag"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/mutation"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type moduleCache = cache.Manager[models.Module, models.ModuleFields, models.ModulePatch]

func newTestCache(t *testing.T, url, token string, opts ...mutation.Option) *moduleCache {
	t.Helper()
	client := remote.NewRetryClient(remote.NewHTTPClient(url, token), remote.DefaultRetryConfig())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cache.NewManager[models.Module, models.ModuleFields, models.ModulePatch](client, logger, opts...)
}

func titles(mods []models.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Title
	}
	return out
}

func TestIntegration_MutationsRoundTrip(t *testing.T) {
	ts, store := newTestServer(t)
	seed(t, store, "c1", "Intro", "Basics")
	ctx := context.Background()

	mc := newTestCache(t, ts.URL, tokenRW)
	col, err := mc.Open(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Intro", "Basics"}, titles(col.Items()))

	created, err := col.Create(ctx, models.ModuleFields{Title: "Advanced"})
	require.NoError(t, err)
	assert.False(t, created.IsTemporary())
	assert.Equal(t, 3, created.Position)

	desc := "Start here"
	require.NoError(t, col.Update(ctx, col.Items()[0].ID, models.ModulePatch{Description: &desc}))

	require.NoError(t, col.Reorder(ctx, 2, 0))
	assert.Equal(t, []string{"Advanced", "Intro", "Basics"}, titles(col.Items()))

	require.NoError(t, col.Delete(ctx, col.Items()[1].ID))
	assert.Equal(t, []string{"Advanced", "Basics"}, titles(col.Items()))
	assert.NoError(t, order.CheckDensity(col.Items()))

	// The server agrees with the cache.
	persisted, err := store.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, titles(col.Items()), titles(persisted))
}

func TestIntegration_DragDrop(t *testing.T) {
	ts, store := newTestServer(t)
	seed(t, store, "c1", "A", "B", "C")
	ctx := context.Background()

	col, err := newTestCache(t, ts.URL, tokenRW).Open(ctx, "c1")
	require.NoError(t, err)

	rects := []drag.Rect{{Top: 0, Height: 10}, {Top: 10, Height: 10}, {Top: 20, Height: 10}}
	require.NoError(t, col.Drag().Start(col.Items()[0].ID, 0))
	col.Drag().Pointer(26, rects)

	sent, err := col.Drop(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	persisted, err := store.ListModules(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, titles(persisted))
}

func TestIntegration_StaleReorderRollsBack(t *testing.T) {
	ts, store := newTestServer(t)
	seed(t, store, "c1", "A", "B")
	ctx := context.Background()

	col, err := newTestCache(t, ts.URL, tokenRW, mutation.WithPolicy(mutation.TrustPolicy{})).Open(ctx, "c1")
	require.NoError(t, err)

	// Another editor adds a module the cache has not seen.
	seed(t, store, "c1", "C")

	err = col.Reorder(ctx, 1, 0)
	require.Error(t, err)

	var mErr *mutation.Error
	require.True(t, errors.As(err, &mErr))
	assert.Contains(t, mErr.Message(), "reload and try again")
	assert.True(t, remote.IsConflict(err))
	assert.Equal(t, []string{"A", "B"}, titles(col.Items()))

	require.NoError(t, col.Refresh(ctx))
	assert.Equal(t, []string{"A", "B", "C"}, titles(col.Items()))
}

func TestIntegration_ReadOnlyTokenRollsBack(t *testing.T) {
	ts, store := newTestServer(t)
	mods := seed(t, store, "c1", "A", "B")
	ctx := context.Background()

	col, err := newTestCache(t, ts.URL, tokenRO).Open(ctx, "c1")
	require.NoError(t, err)

	err = col.Delete(ctx, mods[0].ID)
	require.Error(t, err)
	assert.Len(t, col.Items(), 2)
	assert.False(t, col.IsPending())
}

func TestIntegration_DeleteAlreadyGone(t *testing.T) {
	ts, store := newTestServer(t)
	mods := seed(t, store, "c1", "A", "B")
	ctx := context.Background()

	col, err := newTestCache(t, ts.URL, tokenRW).Open(ctx, "c1")
	require.NoError(t, err)

	_, err = store.DeleteModule(ctx, mods[0].ID)
	require.NoError(t, err)

	require.NoError(t, col.Delete(ctx, mods[0].ID))
	assert.Equal(t, []string{"B"}, titles(col.Items()))
	assert.Equal(t, 1, col.Items()[0].Position)
}
