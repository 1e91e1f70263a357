package ports

import "github.com/atvirokodosprendimai/csvschema/internal/core/domain"

type RuleValidator interface {
	// ValidateValue checks one raw cell value against a single field's rules.
	ValidateValue(field string, rules domain.RuleSet, value string) (bool, error)
	// ValidateRecord checks a record against every field of schema. An empty
	// result means the record is valid.
	ValidateRecord(schema domain.Schema, record domain.Record) (domain.FieldErrors, error)
}
