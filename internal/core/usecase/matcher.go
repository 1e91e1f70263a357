package usecase

import (
	"strings"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const DefaultMatchThreshold = 0.8

// NormalizeColumnName lowercases a column identifier and replaces spaces with
// underscores so "User Email" compares equal to the field user_email.
func NormalizeColumnName(column string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(column)), " ", "_")
}

// GuessByContent returns the first field, in declaration order, whose rules
// accept a fraction of values strictly greater than threshold. Absent values
// are ignored. An empty result means no field qualified.
func GuessByContent(rules ports.RuleValidator, values []string, schema domain.Schema, threshold float64) (string, error) {
	present := make([]string, 0, len(values))
	for _, v := range values {
		if !domain.IsAbsent(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return "", nil
	}

	for _, field := range schema.Definition {
		matches := 0
		for _, v := range present {
			ok, err := rules.ValidateValue(field.Name, field.Rules, v)
			if err != nil {
				return "", err
			}
			if ok {
				matches++
			}
		}
		if float64(matches)/float64(len(present)) > threshold {
			return field.Name, nil
		}
	}
	return "", nil
}

// SuggestMappings proposes a schema field for every sampled column. Name
// matches win over content matches; unmatched columns map to "".
func SuggestMappings(rules ports.RuleValidator, sample domain.Sample, schema domain.Schema, threshold float64) (map[string]string, error) {
	fields := schema.Fields()
	suggestions := make(map[string]string, len(sample.Columns))
	for _, column := range sample.Columns {
		normalized := NormalizeColumnName(column)
		if _, ok := fields[normalized]; ok {
			suggestions[column] = normalized
			continue
		}

		guess, err := GuessByContent(rules, sample.ColumnValues(column), schema, threshold)
		if err != nil {
			return nil, err
		}
		suggestions[column] = guess
	}
	return suggestions, nil
}

// Inspect packages a sample and its suggestions for schema.
func Inspect(rules ports.RuleValidator, sample domain.Sample, schema domain.Schema, threshold float64) (domain.InspectionResult, error) {
	suggestions, err := SuggestMappings(rules, sample, schema, threshold)
	if err != nil {
		return domain.InspectionResult{}, err
	}
	columns := make([]string, len(sample.Columns))
	copy(columns, sample.Columns)
	return domain.InspectionResult{
		Schema:      schema,
		Columns:     columns,
		Sample:      sample.Rows,
		Suggestions: suggestions,
	}, nil
}
