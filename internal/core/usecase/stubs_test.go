package usecase

import (
	"context"
	"errors"
	"io"
	"iter"
	"sort"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

var testDefinition = domain.Definition{
	{Name: "user_email", Rules: domain.RuleSet{"type": "string", "regex": `[^@]+@[^@]+\.[^@]+`}},
	{Name: "transaction_amount", Rules: domain.RuleSet{"type": "float", "min": 0}},
	{Name: "signup_date", Rules: domain.RuleSet{"type": "date"}},
}

var testSchema = domain.Schema{Name: "test", Definition: testDefinition}

// stubSchemaRepo is an in-memory SchemaRepository.
type stubSchemaRepo struct {
	schemas []domain.Schema
	saved   []domain.Schema
	saveErr error
}

func (r *stubSchemaRepo) LoadAll(_ context.Context) iter.Seq[domain.Schema] {
	return func(yield func(domain.Schema) bool) {
		for _, s := range r.schemas {
			if !yield(s) {
				return
			}
		}
	}
}

func (r *stubSchemaRepo) Save(_ context.Context, schema domain.Schema) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, schema)
	return nil
}

// stubStorage serves in-memory tables. Keys of tables are source names.
type stubStorage struct {
	tables   map[string]table
	peekErr  error
	peeks    int
	failNext error
}

type table struct {
	columns []string
	rows    [][]string
}

func (t table) records() []domain.Record {
	out := make([]domain.Record, 0, len(t.rows))
	for _, row := range t.rows {
		rec := make(domain.Record, len(t.columns))
		for i, col := range t.columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

func (s *stubStorage) Peek(_ context.Context, source string, rows int) (domain.Sample, error) {
	s.peeks++
	if s.peekErr != nil {
		return domain.Sample{}, s.peekErr
	}
	t, ok := s.tables[source]
	if !ok {
		return domain.Sample{}, domain.ErrSourceNotFound
	}
	records := t.records()
	if len(records) > rows {
		records = records[:rows]
	}
	return domain.Sample{Columns: t.columns, Rows: records}, nil
}

func (s *stubStorage) ReadChunks(_ context.Context, source string, size int) (ports.ChunkReader, error) {
	t, ok := s.tables[source]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return &stubChunks{columns: t.columns, rows: t.records(), size: size, failAfter: s.failNext}, nil
}

type stubChunks struct {
	columns   []string
	rows      []domain.Record
	size      int
	offset    int
	served    int
	failAfter error
	closed    bool
}

func (c *stubChunks) Next(_ context.Context) (domain.Chunk, error) {
	if c.failAfter != nil && c.served > 0 {
		return domain.Chunk{}, c.failAfter
	}
	if c.offset >= len(c.rows) {
		return domain.Chunk{}, io.EOF
	}
	end := min(c.offset+c.size, len(c.rows))
	chunk := domain.Chunk{Offset: c.offset, Columns: c.columns, Rows: c.rows[c.offset:end]}
	c.offset = end
	c.served++
	return chunk, nil
}

func (c *stubChunks) Close() error {
	c.closed = true
	return nil
}

type recordingObserver struct {
	runs []domain.ValidationRun
	err  error
}

func (o *recordingObserver) ValidationCompleted(_ context.Context, run domain.ValidationRun) error {
	o.runs = append(o.runs, run)
	return o.err
}

// fieldSet is a helper returning sorted keys of a FieldErrors detail.
func fieldSet(detail any) []string {
	fe, ok := detail.(domain.FieldErrors)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var errBoom = errors.New("boom")
