package student

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SURVEY FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Survey field names as delivered by the roster CSV header.
const (
	FieldStudentID                 = "Student_ID"
	FieldAge                       = "Age"
	FieldFirstTimeSkiing           = "First_Time_Skiing"
	FieldAbleToStop                = "Able_To_Stop"
	FieldAbleToTurn                = "Able_To_Turn"
	FieldAbleToMatchSkisAcrossHill = "Able_To_Match_Skis_Across_Hill"
	FieldAbleToMatchSkisShaping    = "Able_To_Match_Skis_Shaping_Turn"
	FieldLastTerrainSkied          = "Last_Terrain_Skied"
	FieldSkiingExperienceYears     = "Skiing_Experience_Years"
	FieldRiskPreferences           = "Risk_Preferences"
	FieldLastTimeSinceSkiing       = "Last_Time_Since_Skiing"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record holds the survey answers of one student as field name to raw string
// value. Records are treated as immutable once decoded: nothing in the
// grouping pipeline writes to them, and fields the engine does not use are
// passed through unchanged.
type Record map[string]string

// Get returns the raw value of a field, or "" if the field is absent.
func (r Record) Get(field string) string {
	return r[field]
}

// ID returns the opaque Student_ID value.
func (r Record) ID() string {
	return r[FieldStudentID]
}

// UnmarshalJSON decodes a flat JSON object. String and boolean values are
// kept as their textual form, numbers are written in plain decimal form and
// null becomes "". Nested objects or arrays make the record malformed.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return shared.WrapError("student", "Decode", shared.ErrMalformedRecord, "student record cannot be null", nil)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return shared.WrapError("student", "Decode", shared.ErrMalformedRecord, "student record must be a JSON object", err)
	}

	rec := make(Record, len(raw))
	for key, value := range raw {
		s, err := scalarString(value)
		if err != nil {
			return shared.WrapError("student", "Decode", shared.ErrMalformedRecord,
				fmt.Sprintf("field %q must be a string, number, boolean or null", key), err)
		}
		rec[key] = s
	}

	*r = rec
	return nil
}

// scalarString converts a raw JSON scalar into its string form.
func scalarString(value json.RawMessage) (string, error) {
	v := bytes.TrimSpace(value)
	if len(v) == 0 {
		return "", shared.ErrInvalidFormat
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case 'n':
		return "", nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return "", err
		}
		if b {
			return "true", nil
		}
		return "false", nil
	case '{', '[':
		return "", shared.ErrInvalidFormat
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", err
		}
		return normalizeNumber(n), nil
	}
}

// normalizeNumber rewrites exponent and trailing-zero forms so 1e2 and 100.0
// both read as "100".
func normalizeNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}

// ValidateRecords checks that every record in the sequence is present.
// A nil record can only come from a malformed upstream payload.
func ValidateRecords(records []Record) error {
	for i, r := range records {
		if r == nil {
			return shared.WrapError("student", "Validate", shared.ErrInvalidArgument,
				fmt.Sprintf("student at index %d is missing", i), nil)
		}
	}
	return nil
}
