package mutation

import (
	"fmt"

	"github.com/kilupskalvis/modsync/internal/models"
)

// Policy decides whether a successful mutation is followed by an
// authoritative refetch of the collection.
type Policy interface {
	Refetch(kind models.MutationKind) bool
}

// RefetchPolicy keeps optimistic state after create and update, and refetches
// after delete and reorder since sibling positions may have been changed by
// another writer.
type RefetchPolicy struct{}

func (RefetchPolicy) Refetch(kind models.MutationKind) bool {
	return kind.Destructive()
}

// TrustPolicy never refetches. Suitable when a single editor owns the course.
type TrustPolicy struct{}

func (TrustPolicy) Refetch(models.MutationKind) bool { return false }

// PolicyByName maps a configuration value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "refetch":
		return RefetchPolicy{}, nil
	case "trust":
		return TrustPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown reconcile policy %q (want refetch or trust)", name)
}
