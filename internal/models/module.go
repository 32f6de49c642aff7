// Package models defines the data structures shared by the module cache,
// the remote API client and the server-side stores.
package models

import (
	"errors"
	"strings"
	"time"
)

// TempIDPrefix marks ids assigned to optimistic placeholders before the
// server has echoed the created entity.
const TempIDPrefix = "tmp-"

// Validation errors for module input.
var (
	ErrEmptyTitle = errors.New("title is required")
	ErrEmptyPatch = errors.New("nothing to update")
)

// Counts holds the number of child resources attached to a module.
type Counts struct {
	Lessons     int `json:"lessons" yaml:"lessons"`
	Quizzes     int `json:"quizzes" yaml:"quizzes"`
	Assignments int `json:"assignments" yaml:"assignments"`
}

// Module is one ordered entry in a course's module list.
type Module struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Position    int       `json:"position"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Counts      Counts    `json:"counts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (m Module) ItemID() string    { return m.ID }
func (m Module) ItemPosition() int { return m.Position }

// IsTemporary reports whether m is an optimistic placeholder.
func (m Module) IsTemporary() bool { return strings.HasPrefix(m.ID, TempIDPrefix) }

// WithPosition returns a copy of m placed at pos.
func (m Module) WithPosition(pos int) Module {
	m.Position = pos
	return m
}

// ModuleFields is the user-authored input for creating a module.
type ModuleFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Validate rejects input that must never reach the store or the network.
func (f ModuleFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Draft builds the optimistic placeholder shown until the server answers.
func (f ModuleFields) Draft(tempID string) Module {
	return Module{
		ID:          tempID,
		Title:       strings.TrimSpace(f.Title),
		Description: f.Description,
	}
}

// ModulePatch is a partial update. Nil fields are left untouched.
type ModulePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate rejects empty patches and blank titles.
func (p ModulePatch) Validate() error {
	if p.Title == nil && p.Description == nil {
		return ErrEmptyPatch
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// ApplyTo merges the patch into m. Position is never changed by a patch.
func (p ModulePatch) ApplyTo(m Module) Module {
	if p.Title != nil {
		m.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	return m
}

// PositionUpdate is one entry of a bulk reorder payload.
type PositionUpdate struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}
