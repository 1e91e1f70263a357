package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// RuleSet holds the validation constraints of a single field. Its keys are
// interpreted by the rule validator only.
type RuleSet map[string]any

// FieldRules pairs a schema field with its rules.
type FieldRules struct {
	Name  string
	Rules RuleSet
}

// Definition is the field -> rules mapping of a schema. Order is the order the
// fields were declared in and is significant for content-based matching.
type Definition []FieldRules

// Keys returns the field names in declaration order.
func (d Definition) Keys() []string {
	keys := make([]string, 0, len(d))
	for _, f := range d {
		keys = append(keys, f.Name)
	}
	return keys
}

func (d Definition) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, RuleSet]()
	for _, f := range d {
		rules := f.Rules
		if rules == nil {
			rules = RuleSet{}
		}
		om.Set(f.Name, rules)
	}
	return json.Marshal(om)
}

// UnmarshalJSON decodes a JSON object keeping its key order. A repeated key
// keeps its first position and its last value.
func (d *Definition) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("schema definition must be a json object")
	}
	om := orderedmap.New[string, RuleSet]()
	if err := json.Unmarshal(trimmed, om); err != nil {
		return err
	}
	out := make(Definition, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		rules := pair.Value
		if rules == nil {
			rules = RuleSet{}
		}
		out = append(out, FieldRules{Name: pair.Key, Rules: rules})
	}
	*d = out
	return nil
}

// Schema is a named set of field validation rules. It is treated as immutable
// once loaded; re-registration replaces it wholesale.
type Schema struct {
	Name       string
	Definition Definition
}

func NewSchema(name string, definition Definition) (Schema, error) {
	if err := ValidateSchemaName(name); err != nil {
		return Schema{}, err
	}
	return Schema{Name: name, Definition: definition}, nil
}

// Fields returns the set of field names.
func (s Schema) Fields() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Definition))
	for _, f := range s.Definition {
		set[f.Name] = struct{}{}
	}
	return set
}

// FieldNames returns the field names in declaration order.
func (s Schema) FieldNames() []string {
	return s.Definition.Keys()
}

func ValidateSchemaName(name string) error {
	if name == "" || name == "." || name == ".." || !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}
