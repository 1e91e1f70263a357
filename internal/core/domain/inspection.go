package domain

// InspectionResult bundles a schema with what was observed in a source sample
// and the suggested column -> field mapping. An empty suggestion means no match.
type InspectionResult struct {
	Schema      Schema
	Columns     []string
	Sample      []Record
	Suggestions map[string]string
}

// Score is the fraction of schema fields that appear among the suggestions.
// A schema without fields scores 0.
func (r InspectionResult) Score() float64 {
	fields := r.Schema.Fields()
	if len(fields) == 0 {
		return 0
	}
	matched := make(map[string]struct{}, len(fields))
	for _, suggestion := range r.Suggestions {
		if _, ok := fields[suggestion]; ok {
			matched[suggestion] = struct{}{}
		}
	}
	return float64(len(matched)) / float64(len(fields))
}
