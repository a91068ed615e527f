// Package csvsource loads rosters from a directory of CSV files.
//
// Each file <roster-id>.csv holds one roster. The first row is the header
// naming the survey fields; blank lines are skipped. Column values are kept
// verbatim, so parsing leniency stays in the grouping engine.
package csvsource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

// SourceName identifies this source in RosterInfo.Source.
const SourceName = "csv"

const fileExt = ".csv"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source is a student.RosterSource backed by a directory of CSV files.
type Source struct {
	dir    string
	logger *logger.Logger
}

// New creates a Source reading from dir.
func New(dir string, log *logger.Logger) *Source {
	if log == nil {
		log = logger.Nop()
	}
	return &Source{
		dir:    dir,
		logger: log.With(logger.Component("csv_roster_source")),
	}
}

// Name implements student.RosterSource.
func (s *Source) Name() string { return SourceName }

// Load implements student.RosterSource.
func (s *Source) Load(ctx context.Context, rosterID string) ([]student.Record, error) {
	if err := student.ValidateRosterID(rosterID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, rosterID+fileExt)
	records, err := ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, shared.WrapError("roster", "Load", shared.ErrNotFound,
			fmt.Sprintf("roster %q not found", rosterID), err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("roster loaded",
		logger.RosterID(rosterID),
		logger.StudentCount(len(records)),
	)
	return records, nil
}

// List implements student.RosterSource. Rosters are sorted by ID. Files that
// fail to parse are logged and skipped.
func (s *Source) List(ctx context.Context) ([]student.RosterInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read roster dir %s: %w", s.dir, err)
	}

	rosters := make([]student.RosterInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}

		id := strings.TrimSuffix(e.Name(), fileExt)
		if student.ValidateRosterID(id) != nil {
			continue
		}

		records, err := ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable roster", logger.RosterID(id), logger.Err(err))
			continue
		}

		rosters = append(rosters, student.RosterInfo{
			ID:           id,
			Name:         id,
			StudentCount: len(records),
			Source:       SourceName,
		})
	}

	sort.Slice(rosters, func(i, j int) bool { return rosters[i].ID < rosters[j].ID })
	return rosters, nil
}

// ReadFile reads one roster file.
func ReadFile(path string) ([]student.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadRecords parses CSV with a header row into student records, keeping row
// order. Rows shorter than the header leave the missing fields unset; extra
// columns are dropped.
func ReadRecords(r io.Reader) ([]student.Record, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []student.Record{}, nil
	}
	if err != nil {
		return nil, shared.WrapError("roster", "Parse", shared.ErrInvalidFormat, "cannot read CSV header", err)
	}
	header = append([]string(nil), header...)

	var records []student.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, shared.WrapError("roster", "Parse", shared.ErrInvalidFormat, "malformed CSV row", err)
		}

		rec := make(student.Record, len(header))
		for i, name := range header {
			if i >= len(row) {
				break
			}
			rec[name] = row[i]
		}
		records = append(records, rec)
	}

	if records == nil {
		records = []student.Record{}
	}
	return records, nil
}
