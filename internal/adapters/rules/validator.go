package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const (
	msgRequired = "required field"
	msgNull     = "null value not allowed"
)

var _ ports.RuleValidator = (*Validator)(nil)

// Validator evaluates field rule sets by compiling them to JSON Schema.
type Validator struct {
	cache sync.Map // key: canonical rule set json → *compiledRules
}

func NewValidator() *Validator {
	return &Validator{}
}

type compiledRules struct {
	rules  Rules
	schema *santhosh.Schema
}

// ValidateValue reports whether a single raw value satisfies rules. Absent
// values never satisfy a field.
func (v *Validator) ValidateValue(field string, rules domain.RuleSet, value string) (bool, error) {
	c, err := v.compile(field, rules)
	if err != nil {
		return false, err
	}
	if domain.IsAbsent(value) {
		return false, nil
	}
	return len(c.check(value)) == 0, nil
}

func (v *Validator) ValidateRecord(schema domain.Schema, record domain.Record) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	for _, f := range schema.Definition {
		c, err := v.compile(f.Name, f.Rules)
		if err != nil {
			return nil, err
		}

		value, present := record[f.Name]
		if !present || domain.IsAbsent(value) {
			switch {
			case c.rules.Required:
				errs[f.Name] = append(errs[f.Name], msgRequired)
			case present && c.rules.Nullable != nil && !*c.rules.Nullable:
				errs[f.Name] = append(errs[f.Name], msgNull)
			}
			continue
		}

		if msgs := c.check(value); len(msgs) > 0 {
			errs[f.Name] = msgs
		}
	}
	return errs, nil
}

func (v *Validator) compile(field string, raw domain.RuleSet) (*compiledRules, error) {
	key, keyErr := json.Marshal(raw)
	if keyErr == nil {
		if cached, ok := v.cache.Load(string(key)); ok {
			return cached.(*compiledRules), nil
		}
	}

	rules, err := Decode(raw)
	if err != nil {
		return nil, &domain.RuleSetError{Field: field, Err: err}
	}
	frag, err := rules.Fragment()
	if err != nil {
		return nil, &domain.RuleSetError{Field: field, Err: err}
	}
	sch, err := compileFragment(frag)
	if err != nil {
		return nil, &domain.RuleSetError{Field: field, Err: err}
	}

	compiled := &compiledRules{rules: rules, schema: sch}
	if keyErr == nil {
		v.cache.Store(string(key), compiled)
	}
	return compiled, nil
}

func compileFragment(frag map[string]any) (*santhosh.Schema, error) {
	doc, err := json.Marshal(frag)
	if err != nil {
		return nil, err
	}
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("rules.json", bytes.NewReader(doc)); err != nil {
		return nil, err
	}
	return compiler.Compile("rules.json")
}

func (c *compiledRules) check(value string) []string {
	err := c.schema.Validate(c.rules.Coerce(value))
	if err == nil {
		return nil
	}
	var ve *santhosh.ValidationError
	if errors.As(err, &ve) {
		return collectValidationErrors(ve)
	}
	return []string{err.Error()}
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Message)
	}
	return msgs
}
