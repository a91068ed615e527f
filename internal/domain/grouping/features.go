package grouping

import (
	"strconv"
	"strings"

	"github.com/alem-hub/class-grouper/internal/domain/student"
)

// FeatureDim is the length of every FeatureVector.
const FeatureDim = 7

// FeatureFields lists the record fields that make up a FeatureVector, in order.
var FeatureFields = [FeatureDim]string{
	student.FieldAge,
	student.FieldSkiingExperienceYears,
	student.FieldFirstTimeSkiing,
	student.FieldAbleToStop,
	student.FieldAbleToTurn,
	student.FieldAbleToMatchSkisAcrossHill,
	student.FieldAbleToMatchSkisShaping,
}

// FeatureVector is the numeric summary of one student used for similarity.
type FeatureVector []float64

// ExtractFeatures maps a record to its FeatureVector. It never fails: a field
// that is missing or does not start with an integer contributes 0.
func ExtractFeatures(r student.Record) FeatureVector {
	v := make(FeatureVector, FeatureDim)
	for i, field := range FeatureFields {
		v[i] = float64(ParseLeadingInt(r.Get(field)))
	}
	return v
}

// ExtractAll maps every record to its FeatureVector, preserving order.
func ExtractAll(records []student.Record) []FeatureVector {
	vectors := make([]FeatureVector, len(records))
	for i, r := range records {
		vectors[i] = ExtractFeatures(r)
	}
	return vectors
}

// ParseLeadingInt parses the base-10 integer at the start of s.
// Surrounding whitespace and a single leading sign are accepted and trailing
// garbage is ignored, so "3 years" is 3 and "1.5" is 1. Empty input, input
// without leading digits and values outside the int64 range yield 0.
func ParseLeadingInt(s string) int64 {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
