// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"slices"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ROSTER QUERY
// Returns one page of a roster's students in their original order.
// ══════════════════════════════════════════════════════════════════════════════

// AllowedPageSizes are the page sizes offered by the roster table.
var AllowedPageSizes = []int{5, 10, 20, 50}

// DefaultPageSize is used when the query does not set one.
const DefaultPageSize = 10

// GetRosterQuery contains the roster page request.
type GetRosterQuery struct {
	// RosterID is the roster to read.
	RosterID string

	// Page is 1-based (0 means first page).
	Page int

	// PageSize must be one of AllowedPageSizes (0 means DefaultPageSize).
	PageSize int
}

// Validate checks the query and fills in defaults.
func (q *GetRosterQuery) Validate() error {
	if err := student.ValidateRosterID(q.RosterID); err != nil {
		return err
	}
	if q.Page < 0 {
		return shared.NewDomainError("roster", "Page", shared.ErrValueOutOfRange, "page cannot be negative")
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if !slices.Contains(AllowedPageSizes, q.PageSize) {
		return shared.NewDomainError("roster", "Page", shared.ErrValueOutOfRange,
			fmt.Sprintf("page size must be one of %v", AllowedPageSizes))
	}
	return nil
}

// RosterPage is one page of students.
type RosterPage struct {
	RosterID string           `json:"roster_id"`
	Students []student.Record `json:"students"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetRosterHandler handles GetRosterQuery.
type GetRosterHandler struct {
	rosters student.RosterSource
}

// NewGetRosterHandler creates a new GetRosterHandler.
func NewGetRosterHandler(rosters student.RosterSource) *GetRosterHandler {
	return &GetRosterHandler{rosters: rosters}
}

// Handle executes the query. Pages past the end are empty, not errors.
func (h *GetRosterHandler) Handle(ctx context.Context, q GetRosterQuery) (*RosterPage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, err := h.rosters.Load(ctx, q.RosterID)
	if err != nil {
		return nil, fmt.Errorf("get roster %s: %w", q.RosterID, err)
	}

	total := len(records)
	start := total
	if q.Page-1 < (total+q.PageSize-1)/q.PageSize {
		start = (q.Page - 1) * q.PageSize
	}
	end := min(start+q.PageSize, total)

	return &RosterPage{
		RosterID: q.RosterID,
		Students: records[start:end],
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
		HasMore:  end < total,
	}, nil
}
