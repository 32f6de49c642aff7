package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
	"github.com/oklog/ulid/v2"
)

var _ metastore.ModuleStore = (*SQLStore)(nil)

const moduleColumns = `id, course_id, position, title, description,
	lesson_count, quiz_count, assignment_count, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (models.Module, error) {
	var m models.Module
	var created, updated string
	err := row.Scan(&m.ID, &m.CourseID, &m.Position, &m.Title, &m.Description,
		&m.Counts.Lessons, &m.Counts.Quizzes, &m.Counts.Assignments, &created, &updated)
	if err != nil {
		return models.Module{}, err
	}
	m.CreatedAt = parseTimestamp(created)
	m.UpdatedAt = parseTimestamp(updated)
	return m, nil
}

// ListModules returns the course's modules sorted by position.
func (s *SQLStore) ListModules(ctx context.Context, courseID string) ([]models.Module, error) {
	return s.loadCourse(ctx, s.db, courseID)
}

// GetModule retrieves a module by ID. Returns metastore.ErrNotFound if missing.
func (s *SQLStore) GetModule(ctx context.Context, id string) (*models.Module, error) {
	return s.getModule(ctx, s.db, id)
}

// CountModules returns the number of modules in a course.
func (s *SQLStore) CountModules(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM modules WHERE course_id = ?"), courseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count modules: %w", err)
	}
	return n, nil
}

// CreateModule appends m to its course.
func (s *SQLStore) CreateModule(ctx context.Context, m *models.Module) error {
	if m.CourseID == "" {
		return fmt.Errorf("create module: course id is required")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if m.ID == "" {
			m.ID = ulid.Make().String()
		}
		if _, err := s.getModule(ctx, tx, m.ID); err == nil {
			return fmt.Errorf("%w: module %s already exists", metastore.ErrConflict, m.ID)
		} else if !errors.Is(err, metastore.ErrNotFound) {
			return err
		}

		var n int
		if err := tx.QueryRowContext(ctx,
			s.rebind("SELECT COUNT(*) FROM modules WHERE course_id = ?"), m.CourseID).Scan(&n); err != nil {
			return fmt.Errorf("count modules: %w", err)
		}

		now := s.now()
		m.Position = n + 1
		m.CreatedAt = now
		m.UpdatedAt = now

		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO modules (`+moduleColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), m.ID, m.CourseID, m.Position, m.Title, m.Description,
			m.Counts.Lessons, m.Counts.Quizzes, m.Counts.Assignments,
			formatTimestamp(m.CreatedAt), formatTimestamp(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert module: %w", err)
		}
		return nil
	})
}

// UpdateModule applies patch to the module. Position is never changed.
func (s *SQLStore) UpdateModule(ctx context.Context, id string, patch models.ModulePatch) (*models.Module, error) {
	var updated *models.Module
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := s.getModule(ctx, tx, id)
		if err != nil {
			return err
		}
		next := patch.ApplyTo(*m)
		next.UpdatedAt = s.now()

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE modules SET title = ?, description = ?, updated_at = ? WHERE id = ?
		`), next.Title, next.Description, formatTimestamp(next.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("update module: %w", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteModule removes a module and renumbers the siblings after it.
func (s *SQLStore) DeleteModule(ctx context.Context, id string) (*models.Module, error) {
	var removed *models.Module
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := s.getModule(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM modules WHERE id = ?"), id); err != nil {
			return fmt.Errorf("delete module: %w", err)
		}
		removed = m

		_, err = s.renumber(ctx, tx, m.CourseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ReorderModules replaces every position in the course.
func (s *SQLStore) ReorderModules(ctx context.Context, courseID string, positions []models.PositionUpdate) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadCourse(ctx, tx, courseID)
		if err != nil {
			return err
		}
		if err := metastore.CheckReorder(current, positions); err != nil {
			return err
		}

		target := make(map[string]int, len(positions))
		for _, p := range positions {
			target[p.ID] = p.Position
		}
		now := s.now()
		for _, m := range current {
			if m.Position == target[m.ID] {
				continue
			}
			if err := s.setPosition(ctx, tx, m.ID, target[m.ID], now); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompactCourse renumbers the course to 1..N.
func (s *SQLStore) CompactCourse(ctx context.Context, courseID string) (int, error) {
	var moved int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		moved, err = s.renumber(ctx, tx, courseID)
		return err
	})
	return moved, err
}

// renumber closes gaps in a course's positions and returns how many
// modules were rewritten.
func (s *SQLStore) renumber(ctx context.Context, q querier, courseID string) (int, error) {
	current, err := s.loadCourse(ctx, q, courseID)
	if err != nil {
		return 0, err
	}

	moved := 0
	now := s.now()
	for i, m := range order.Renumber(current) {
		if m.Position == current[i].Position {
			continue
		}
		if err := s.setPosition(ctx, q, m.ID, m.Position, now); err != nil {
			return 0, err
		}
		moved++
	}
	return moved, nil
}

func (s *SQLStore) setPosition(ctx context.Context, q querier, id string, pos int, now time.Time) error {
	_, err := q.ExecContext(ctx,
		s.rebind("UPDATE modules SET position = ?, updated_at = ? WHERE id = ?"),
		pos, formatTimestamp(now), id)
	if err != nil {
		return fmt.Errorf("set position of %s: %w", id, err)
	}
	return nil
}

// loadCourse reads a course's modules in position order, breaking ties by
// id so the result is stable.
func (s *SQLStore) loadCourse(ctx context.Context, q querier, courseID string) ([]models.Module, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT `+moduleColumns+` FROM modules
		WHERE course_id = ?
		ORDER BY position, id
	`), courseID)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	mods := []models.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		mods = append(mods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return mods, nil
}

func (s *SQLStore) getModule(ctx context.Context, q querier, id string) (*models.Module, error) {
	row := q.QueryRowContext(ctx, s.rebind("SELECT "+moduleColumns+" FROM modules WHERE id = ?"), id)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metastore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get module %s: %w", id, err)
	}
	return &m, nil
}
