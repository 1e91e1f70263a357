package csvfile

import (
	"encoding/csv"
	"strconv"
	"strings"
	"unicode/utf8"
)

const sniffRows = 20

type cellKind int

const (
	cellUnknown cellKind = iota
	cellInt
	cellFloat
	cellText
)

type cellType struct {
	kind   cellKind
	length int
}

func classify(value string) cellType {
	v := strings.TrimSpace(value)
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return cellType{kind: cellInt}
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return cellType{kind: cellFloat}
	}
	return cellType{kind: cellText, length: utf8.RuneCountInString(value)}
}

// hasHeader guesses whether the first row of sample is a header. Every column
// whose type stays consistent over the following rows casts a vote: the header
// cell differing from that type counts for a header, matching it counts
// against. When truncated is set the last, possibly partial, line is ignored.
func hasHeader(sample string, truncated bool) bool {
	if truncated {
		if i := strings.LastIndexByte(sample, '\n'); i >= 0 {
			sample = sample[:i+1]
		}
	}
	r := csv.NewReader(strings.NewReader(sample))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return false
	}

	types := make(map[int]cellType, len(header))
	for i := range header {
		types[i] = cellType{}
	}
	for checked := 0; checked < sniffRows; checked++ {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) != len(header) {
			continue
		}
		for col, known := range types {
			this := classify(row[col])
			switch {
			case known.kind == cellUnknown:
				types[col] = this
			case known != this:
				delete(types, col)
			}
		}
	}

	votes := 0
	for col, t := range types {
		cell := header[col]
		switch t.kind {
		case cellText:
			if utf8.RuneCountInString(cell) != t.length {
				votes++
			} else {
				votes--
			}
		case cellInt:
			if _, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64); err != nil {
				votes++
			} else {
				votes--
			}
		case cellFloat:
			if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
				votes++
			} else {
				votes--
			}
		default:
			// no row had a comparable shape
			votes++
		}
	}
	return votes > 0
}
