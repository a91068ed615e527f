package student

import (
	"context"
	"regexp"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER SOURCE
// These interfaces define the contract for upstream roster providers.
// Implementations live in infrastructure/roster and infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// RosterInfo describes a roster without loading its students.
type RosterInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StudentCount int    `json:"student_count"`
	Source       string `json:"source"`
}

// RosterSource provides read access to student rosters.
type RosterSource interface {
	// Load returns the roster's students in their original order.
	// Returns shared.ErrRosterNotFound if the roster does not exist.
	Load(ctx context.Context, rosterID string) ([]Record, error)

	// List returns all known rosters.
	List(ctx context.Context) ([]RosterInfo, error)

	// Name identifies the source kind, e.g. "csv" or "postgres".
	Name() string
}

// RosterImporter is implemented by sources that can store a roster.
type RosterImporter interface {
	// Import replaces the roster's students with records, keeping their order.
	Import(ctx context.Context, info RosterInfo, records []Record) error
}

var rosterIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateRosterID checks that a roster ID is safe to use as a file stem or key.
func ValidateRosterID(id string) error {
	if !rosterIDPattern.MatchString(id) {
		return shared.ErrInvalidRosterID
	}
	return nil
}
