package mutation

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/modsync/internal/models"
)

// ErrInFlight is returned when a conflicting mutation for the same entity is
// still waiting on the remote. Nothing is applied and no call is made.
var ErrInFlight = errors.New("a change to this item is still in progress")

// ValidationError rejects input before the store or the network is touched.
type ValidationError struct {
	Kind models.MutationKind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Error is returned when the remote call behind a mutation fails. By the time
// the caller sees it the local collection has already been rolled back.
type Error struct {
	Kind     models.MutationKind
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.EntityID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns a sentence suitable for showing to the user.
func (e *Error) Message() string {
	reason := e.Err.Error()
	var um userMessager
	if errors.As(e.Err, &um) && um.UserMessage() != "" {
		reason = um.UserMessage()
	}
	if e.Kind == models.MutationReorder {
		return "Could not save the new module order: " + reason
	}
	return fmt.Sprintf("Could not %s the module: %s", e.Kind, reason)
}

// userMessager is implemented by remote errors that carry a server message.
type userMessager interface {
	UserMessage() string
}

// notFounder is implemented by remote errors that can tell a missing entity
// apart from other failures.
type notFounder interface {
	NotFound() bool
}

func isNotFound(err error) bool {
	var nf notFounder
	return errors.As(err, &nf) && nf.NotFound()
}
