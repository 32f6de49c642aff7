package metastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kilupskalvis/modsync/internal/models"
	"gopkg.in/yaml.v3"
)

// Seed is a fixture file describing initial course contents.
//
//	courses:
//	  - id: go-101
//	    modules:
//	      - title: Getting started
//	        counts: {lessons: 3}
type Seed struct {
	Courses []SeedCourse `yaml:"courses"`
}

// SeedCourse lists a course's modules in display order.
type SeedCourse struct {
	ID      string       `yaml:"id"`
	Modules []SeedModule `yaml:"modules"`
}

// SeedModule is one module of a SeedCourse.
type SeedModule struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Counts      models.Counts `yaml:"counts"`
}

// SeedResult reports what ApplySeed did.
type SeedResult struct {
	Created int
	Skipped []string // courses that already had modules
}

// ParseSeed decodes and validates a YAML seed.
func ParseSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[string]bool)
	for i, c := range seed.Courses {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("parse seed: course %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("parse seed: course %q listed twice", c.ID)
		}
		seen[c.ID] = true
		for j, m := range c.Modules {
			if err := (models.ModuleFields{Title: m.Title}).Validate(); err != nil {
				return nil, fmt.Errorf("parse seed: course %q module %d: %w", c.ID, j, err)
			}
		}
	}
	return &seed, nil
}

// LoadSeedFile reads a seed from path.
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ApplySeed creates the seed's modules. Courses that already have modules
// are left alone so a seed can be applied repeatedly.
func ApplySeed(ctx context.Context, store ModuleStore, seed *Seed) (*SeedResult, error) {
	res := &SeedResult{}
	for _, c := range seed.Courses {
		n, err := store.CountModules(ctx, c.ID)
		if err != nil {
			return res, fmt.Errorf("count modules in %s: %w", c.ID, err)
		}
		if n > 0 {
			res.Skipped = append(res.Skipped, c.ID)
			continue
		}
		for _, sm := range c.Modules {
			m := &models.Module{
				CourseID:    c.ID,
				Title:       strings.TrimSpace(sm.Title),
				Description: sm.Description,
				Counts:      sm.Counts,
			}
			if err := store.CreateModule(ctx, m); err != nil {
				return res, fmt.Errorf("seed %s: %w", c.ID, err)
			}
			res.Created++
		}
	}
	return res, nil
}
