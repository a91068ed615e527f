package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// SourceName identifies this store in RosterInfo.Source.
const SourceName = "postgres"

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RosterRepository implements student.RosterSource and student.RosterImporter
// for PostgreSQL.
type RosterRepository struct {
	conn *Connection
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(conn *Connection) *RosterRepository {
	return &RosterRepository{conn: conn}
}

// Name implements student.RosterSource.
func (r *RosterRepository) Name() string { return SourceName }

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// Load returns the roster's students ordered by their import position.
func (r *RosterRepository) Load(ctx context.Context, rosterID string) ([]student.Record, error) {
	if err := student.ValidateRosterID(rosterID); err != nil {
		return nil, err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var name string
	err := r.conn.QueryRow(ctx, `SELECT name FROM rosters WHERE id = $1`, rosterID).Scan(&name)
	if IsNoRows(err) {
		return nil, shared.WrapError("roster", "Load", shared.ErrNotFound,
			fmt.Sprintf("roster %q not found", rosterID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up roster %s: %w", rosterID, err)
	}

	query := `
		SELECT fields
		FROM roster_students
		WHERE roster_id = $1
		ORDER BY position
	`

	rows, err := r.conn.Query(ctx, query, rosterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster %s: %w", rosterID, err)
	}
	defer rows.Close()

	records := make([]student.Record, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}

		var rec student.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("roster %s: %w", rosterID, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", rosterID, err)
	}

	return records, nil
}

// List returns every stored roster with its student count, ordered by ID.
func (r *RosterRepository) List(ctx context.Context) ([]student.RosterInfo, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT r.id, r.name, COUNT(s.position)
		FROM rosters r
		LEFT JOIN roster_students s ON s.roster_id = r.id
		GROUP BY r.id, r.name
		ORDER BY r.id
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rosters: %w", err)
	}
	defer rows.Close()

	rosters := make([]student.RosterInfo, 0)
	for rows.Next() {
		var info student.RosterInfo
		var count int64
		if err := rows.Scan(&info.ID, &info.Name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan roster: %w", err)
		}
		info.StudentCount = int(count)
		info.Source = SourceName
		rosters = append(rosters, info)
	}

	return rosters, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// Import replaces the roster's students in a single transaction. Records are
// bulk-loaded with COPY and keep their order.
func (r *RosterRepository) Import(ctx context.Context, info student.RosterInfo, records []student.Record) error {
	if err := student.ValidateRosterID(info.ID); err != nil {
		return err
	}
	if err := student.ValidateRecords(records); err != nil {
		return err
	}
	if info.Name == "" {
		info.Name = info.ID
	}

	rows, err := copyRows(info.ID, records)
	if err != nil {
		return err
	}

	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rosters (id, name)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		`, info.ID, info.Name)
		if err != nil {
			return fmt.Errorf("failed to upsert roster %s: %w", info.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM roster_students WHERE roster_id = $1`, info.ID); err != nil {
			return fmt.Errorf("failed to clear roster %s: %w", info.ID, err)
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"roster_students"},
			[]string{"roster_id", "position", "student_id", "fields"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy roster %s: %w", info.ID, err)
		}
		if int(n) != len(records) {
			return fmt.Errorf("roster %s: copied %d of %d students", info.ID, n, len(records))
		}

		return nil
	})
	return importError(info.ID, err)
}

// importError maps a unique violation, left by a concurrent import of the
// same roster, to shared.ErrConflict.
func importError(rosterID string, err error) error {
	if IsUniqueViolation(err) {
		return shared.WrapError("roster", "Import", shared.ErrConflict,
			fmt.Sprintf("roster %q is being imported concurrently", rosterID), err)
	}
	return err
}

// Delete removes a roster and its students.
func (r *RosterRepository) Delete(ctx context.Context, rosterID string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM rosters WHERE id = $1`, rosterID)
	if err != nil {
		return fmt.Errorf("failed to delete roster %s: %w", rosterID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.WrapError("roster", "Delete", shared.ErrNotFound,
			fmt.Sprintf("roster %q not found", rosterID), nil)
	}
	return nil
}

// copyRows encodes records as COPY rows for roster_students.
func copyRows(rosterID string, records []student.Record) ([][]any, error) {
	rows := make([][]any, len(records))
	for i, rec := range records {
		fields, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode student %d: %w", i, err)
		}
		rows[i] = []any{rosterID, int32(i), rec.ID(), fields}
	}
	return rows, nil
}

var (
	_ student.RosterSource   = (*RosterRepository)(nil)
	_ student.RosterImporter = (*RosterRepository)(nil)
)
