package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

// Rules is the typed form of a field rule set. Keys that are not listed here
// are ignored.
type Rules struct {
	Type      string   `mapstructure:"type"`
	Min       *float64 `mapstructure:"min"`
	Max       *float64 `mapstructure:"max"`
	MinLength *int     `mapstructure:"minlength"`
	MaxLength *int     `mapstructure:"maxlength"`
	Regex     string   `mapstructure:"regex"`
	Allowed   []any    `mapstructure:"allowed"`
	Required  bool     `mapstructure:"required"`
	Nullable  *bool    `mapstructure:"nullable"`
}

func Decode(raw domain.RuleSet) (Rules, error) {
	var r Rules
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Rules{}, err
	}
	if err := decoder.Decode(map[string]any(raw)); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// kind folds type aliases into the names used by the fragment builder. A field
// without a type but with numeric bounds is numeric.
func (r Rules) kind() string {
	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "":
		if r.Min != nil || r.Max != nil {
			return "number"
		}
		return ""
	case "string", "str":
		return "string"
	case "integer", "int":
		return "integer"
	case "float", "number":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "date":
		return "date"
	case "datetime":
		return "datetime"
	default:
		return "unknown"
	}
}

// Fragment translates the rules into a JSON Schema document for a single value.
func (r Rules) Fragment() (map[string]any, error) {
	frag := map[string]any{}
	switch r.kind() {
	case "":
	case "string", "integer", "number", "boolean":
		frag["type"] = r.kind()
	case "date":
		frag["type"] = "string"
		frag["format"] = "date"
	case "datetime":
		frag["type"] = "string"
		frag["format"] = "date-time"
	default:
		return nil, fmt.Errorf("unknown type %q", r.Type)
	}

	if r.Min != nil {
		frag["minimum"] = *r.Min
	}
	if r.Max != nil {
		frag["maximum"] = *r.Max
	}
	if r.MinLength != nil {
		frag["minLength"] = *r.MinLength
	}
	if r.MaxLength != nil {
		frag["maxLength"] = *r.MaxLength
	}
	if r.Regex != "" {
		if _, err := regexp.Compile(r.Regex); err != nil {
			return nil, fmt.Errorf("compile regex: %w", err)
		}
		// regex rules must match the whole value
		frag["pattern"] = "^(?:" + r.Regex + ")$"
	}
	if len(r.Allowed) > 0 {
		frag["enum"] = r.Allowed
	}
	return frag, nil
}

// Coerce converts raw cell text to the Go value the field's type expects. Text
// that does not parse is returned unchanged so the type check reports it.
func (r Rules) Coerce(raw string) any {
	value := strings.TrimSpace(raw)
	switch r.kind() {
	case "integer", "number":
		if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}
