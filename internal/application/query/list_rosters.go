package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ROSTERS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListRostersHandler returns every roster known to the configured source.
type ListRostersHandler struct {
	rosters student.RosterSource
}

// NewListRostersHandler creates a new ListRostersHandler.
func NewListRostersHandler(rosters student.RosterSource) *ListRostersHandler {
	return &ListRostersHandler{rosters: rosters}
}

// Handle executes the query.
func (h *ListRostersHandler) Handle(ctx context.Context) ([]student.RosterInfo, error) {
	rosters, err := h.rosters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rosters from %s: %w", h.rosters.Name(), err)
	}
	if rosters == nil {
		rosters = []student.RosterInfo{}
	}
	return rosters, nil
}
