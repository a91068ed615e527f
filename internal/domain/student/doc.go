// Package student contains the domain model of a surveyed ski-school student.
//
// A student is delivered by an upstream data source (CSV file, database,
// HTTP client) as a flat mapping of survey field names to string values.
// The package defines:
//
//   - Record: the immutable survey answers of one student
//   - Field names of the survey (Age, Able_To_Stop, ...)
//   - RosterSource: the port implemented by infrastructure roster sources
//
// # Architecture
//
//  1. Zero external dependencies - standard library only
//  2. Dependency Inversion - RosterSource is implemented in infrastructure
//  3. Unknown fields are preserved; numbers are rewritten in plain decimal form
//
// # Example
//
//	var records []student.Record
//	if err := json.Unmarshal(body, &records); err != nil {
//	    return err // wraps shared.ErrMalformedRecord
//	}
//	id := records[0].ID()
package student
