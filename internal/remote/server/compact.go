package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
)

// Compact renumbers a course's modules to 1..N. It repairs courses whose
// positions drifted through imports or manual edits; normal writes already
// keep positions dense.
func Compact(ctx context.Context, store metastore.ModuleStore, course string, logger *slog.Logger) (*remote.CompactResponse, error) {
	moved, err := store.CompactCourse(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("compact %s: %w", course, err)
	}
	total, err := store.CountModules(ctx, course)
	if err != nil {
		return nil, fmt.Errorf("count modules in %s: %w", course, err)
	}

	logger.Info("compact complete", "course", course, "modules", total, "renumbered", moved)

	return &remote.CompactResponse{Course: course, Modules: total, Renumbered: moved}, nil
}
