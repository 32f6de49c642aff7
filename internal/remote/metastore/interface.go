// Package metastore provides the server-side module storage abstraction.
package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/modsync/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ModuleStore defines the contract for server-side module persistence.
// Within a course, positions are always 1..N after every write.
type ModuleStore interface {
	// ListModules returns a course's modules ordered by position. An unknown
	// course has no modules.
	ListModules(ctx context.Context, courseID string) ([]models.Module, error)
	GetModule(ctx context.Context, id string) (*models.Module, error)
	CountModules(ctx context.Context, courseID string) (int, error)

	// CreateModule appends m to m.CourseID. ID, Position and timestamps are
	// assigned by the store and written back into m.
	CreateModule(ctx context.Context, m *models.Module) error
	UpdateModule(ctx context.Context, id string, patch models.ModulePatch) (*models.Module, error)
	// DeleteModule removes a module, closes the gap and returns what was removed.
	DeleteModule(ctx context.Context, id string) (*models.Module, error)
	// ReorderModules applies a complete ordering. It returns ErrConflict unless
	// positions name every module of the course exactly once, densely.
	ReorderModules(ctx context.Context, courseID string, positions []models.PositionUpdate) error
	// CompactCourse renumbers a course to 1..N, keeping relative order, and
	// returns how many modules moved.
	CompactCourse(ctx context.Context, courseID string) (int, error)

	// Close releases resources.
	Close() error
}

// CheckReorder verifies that positions is a permutation of current's ids
// with positions 1..N.
func CheckReorder(current []models.Module, positions []models.PositionUpdate) error {
	if len(positions) != len(current) {
		return fmt.Errorf("%w: expected %d positions, got %d", ErrConflict, len(current), len(positions))
	}

	known := make(map[string]bool, len(current))
	for _, m := range current {
		known[m.ID] = true
	}
	seenID := make(map[string]bool, len(positions))
	seenPos := make(map[int]bool, len(positions))
	for _, p := range positions {
		if !known[p.ID] {
			return fmt.Errorf("%w: module %s is not in the course", ErrConflict, p.ID)
		}
		if seenID[p.ID] {
			return fmt.Errorf("%w: module %s listed twice", ErrConflict, p.ID)
		}
		if p.Position < 1 || p.Position > len(current) || seenPos[p.Position] {
			return fmt.Errorf("%w: position %d is out of range or repeated", ErrConflict, p.Position)
		}
		seenID[p.ID] = true
		seenPos[p.Position] = true
	}
	return nil
}
