package models

// MutationKind identifies the kind of change applied to a collection.
type MutationKind string

const (
	MutationCreate  MutationKind = "create"
	MutationUpdate  MutationKind = "update"
	MutationDelete  MutationKind = "delete"
	MutationReorder MutationKind = "reorder"
)

// Destructive reports whether the mutation removes or rearranges entities.
func (k MutationKind) Destructive() bool {
	return k == MutationDelete || k == MutationReorder
}
