package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/order"
	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	// bucketModules maps module id to its JSON encoding.
	bucketModules = []byte("modules")
	// bucketCourses holds one nested bucket per course whose keys are the
	// course's module ids.
	bucketCourses = []byte("courses")
)

// BboltStore implements ModuleStore using bbolt.
type BboltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketModules, bucketCourses} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListModules returns the course's modules sorted by position.
func (s *BboltStore) ListModules(_ context.Context, courseID string) ([]models.Module, error) {
	var mods []models.Module
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		mods, err = loadCourse(tx, courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mods, nil
}

// GetModule retrieves a module by ID. Returns ErrNotFound if missing.
func (s *BboltStore) GetModule(_ context.Context, id string) (*models.Module, error) {
	var m *models.Module
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		m, err = getModule(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CountModules returns the number of modules in a course.
func (s *BboltStore) CountModules(_ context.Context, courseID string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCourses).Bucket([]byte(courseID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// CreateModule appends m to its course.
func (s *BboltStore) CreateModule(_ context.Context, m *models.Module) error {
	if m.CourseID == "" {
		return fmt.Errorf("create module: course id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		course, err := tx.Bucket(bucketCourses).CreateBucketIfNotExists([]byte(m.CourseID))
		if err != nil {
			return fmt.Errorf("create course bucket: %w", err)
		}
		existing, err := loadCourse(tx, m.CourseID)
		if err != nil {
			return err
		}

		if m.ID == "" {
			m.ID = ulid.Make().String()
		}
		if tx.Bucket(bucketModules).Get([]byte(m.ID)) != nil {
			return fmt.Errorf("%w: module %s already exists", ErrConflict, m.ID)
		}
		now := s.now()
		m.Position = len(existing) + 1
		m.CreatedAt = now
		m.UpdatedAt = now

		if err := course.Put([]byte(m.ID), nil); err != nil {
			return fmt.Errorf("index module: %w", err)
		}
		return putModule(tx, m)
	})
}

// UpdateModule applies patch to the module. Position is never changed.
func (s *BboltStore) UpdateModule(_ context.Context, id string, patch models.ModulePatch) (*models.Module, error) {
	var updated *models.Module
	err := s.db.Update(func(tx *bolt.Tx) error {
		m, err := getModule(tx, id)
		if err != nil {
			return err
		}
		next := patch.ApplyTo(*m)
		next.UpdatedAt = s.now()
		updated = &next
		return putModule(tx, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteModule removes a module and renumbers the siblings after it.
func (s *BboltStore) DeleteModule(_ context.Context, id string) (*models.Module, error) {
	var removed *models.Module
	err := s.db.Update(func(tx *bolt.Tx) error {
		m, err := getModule(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketModules).Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete module: %w", err)
		}
		if course := tx.Bucket(bucketCourses).Bucket([]byte(m.CourseID)); course != nil {
			if err := course.Delete([]byte(id)); err != nil {
				return fmt.Errorf("unindex module: %w", err)
			}
		}
		removed = m

		_, err = s.renumber(tx, m.CourseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ReorderModules replaces every position in the course.
func (s *BboltStore) ReorderModules(_ context.Context, courseID string, positions []models.PositionUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		current, err := loadCourse(tx, courseID)
		if err != nil {
			return err
		}
		if err := CheckReorder(current, positions); err != nil {
			return err
		}

		target := make(map[string]int, len(positions))
		for _, p := range positions {
			target[p.ID] = p.Position
		}
		now := s.now()
		for i := range current {
			m := &current[i]
			if m.Position == target[m.ID] {
				continue
			}
			m.Position = target[m.ID]
			m.UpdatedAt = now
			if err := putModule(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompactCourse renumbers the course to 1..N.
func (s *BboltStore) CompactCourse(_ context.Context, courseID string) (int, error) {
	var moved int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		moved, err = s.renumber(tx, courseID)
		return err
	})
	return moved, err
}

// renumber closes gaps in a course's positions and returns how many
// modules were rewritten.
func (s *BboltStore) renumber(tx *bolt.Tx, courseID string) (int, error) {
	current, err := loadCourse(tx, courseID)
	if err != nil {
		return 0, err
	}

	moved := 0
	now := s.now()
	for i, m := range order.Renumber(current) {
		if m.Position == current[i].Position {
			continue
		}
		m.UpdatedAt = now
		if err := putModule(tx, &m); err != nil {
			return 0, err
		}
		moved++
	}
	return moved, nil
}

// loadCourse reads a course's modules in position order. Modules sharing a
// position keep id order, which for ULIDs is creation order.
func loadCourse(tx *bolt.Tx, courseID string) ([]models.Module, error) {
	course := tx.Bucket(bucketCourses).Bucket([]byte(courseID))
	if course == nil {
		return []models.Module{}, nil
	}

	mods := []models.Module{}
	all := tx.Bucket(bucketModules)
	err := course.ForEach(func(k, _ []byte) error {
		data := all.Get(k)
		if data == nil {
			return fmt.Errorf("module %s indexed in course %s but missing", k, courseID)
		}
		var m models.Module
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("unmarshal module %s: %w", k, err)
		}
		mods = append(mods, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order.SortByPosition(mods), nil
}

func getModule(tx *bolt.Tx, id string) (*models.Module, error) {
	data := tx.Bucket(bucketModules).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	m := &models.Module{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal module %s: %w", id, err)
	}
	return m, nil
}

func putModule(tx *bolt.Tx, m *models.Module) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal module: %w", err)
	}
	if err := tx.Bucket(bucketModules).Put([]byte(m.ID), data); err != nil {
		return fmt.Errorf("store module: %w", err)
	}
	return nil
}
