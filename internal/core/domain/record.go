package domain

import "strings"

// Record is one data row keyed by column identifier. Values are the raw cell text.
type Record map[string]string

var absentMarkers = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
}

// IsAbsent reports whether a cell holds no value (empty or a null marker).
func IsAbsent(value string) bool {
	_, ok := absentMarkers[strings.TrimSpace(value)]
	return ok
}

// Sample is a bounded prefix of a tabular source.
type Sample struct {
	Columns []string
	Rows    []Record
}

// ColumnValues returns the non-absent values of column in row order.
func (s Sample) ColumnValues(column string) []string {
	var values []string
	for _, row := range s.Rows {
		v, ok := row[column]
		if !ok || IsAbsent(v) {
			continue
		}
		values = append(values, v)
	}
	return values
}

// Chunk is a contiguous slice of a source's data rows. Offset is the number of
// data rows (header excluded) that precede the chunk.
type Chunk struct {
	Offset  int
	Columns []string
	Rows    []Record
}

// Rename keeps only the mapped columns of every row, renamed to their target
// field. Columns missing from mapping are dropped. Columns are visited in
// source order, so when several map to one field the rightmost wins.
func (c Chunk) Rename(mapping map[string]string) []Record {
	out := make([]Record, 0, len(c.Rows))
	for _, row := range c.Rows {
		rec := make(Record, len(mapping))
		for _, col := range c.Columns {
			field, mapped := mapping[col]
			if !mapped || field == "" {
				continue
			}
			if v, ok := row[col]; ok {
				rec[field] = v
			}
		}
		out = append(out, rec)
	}
	return out
}
