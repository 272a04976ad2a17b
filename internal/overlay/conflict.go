package overlay

import "github.com/amanindex/coreengine/internal/model"

// ConflictResolver applies the core merge policy: overlay always wins.
// It exists as its own type (rather than inlined in GraphMerger) because
// spec.md §9 leaves room for a future pluggable policy; today there is
// exactly one.
type ConflictResolver struct{}

// NewConflictResolver constructs the overlay-wins resolver.
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Resolve stamps a conflict's Resolution field. The overlay's version of a
// symbol is already what GraphMerger put into the merged symbol index, so
// resolving is bookkeeping for callers that surface conflicts (diagnostics,
// breaking-change reports), not a second pass over the index.
func (r *ConflictResolver) Resolve(c *model.SymbolConflict) {
	c.Resolution = "overlay_wins"
}
