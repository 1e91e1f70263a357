package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/csvschema/internal/adapters/rules"
	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
)

var identityMapping = map[string]string{
	"user_email":         "user_email",
	"transaction_amount": "transaction_amount",
	"signup_date":        "signup_date",
}

func newTestService(storage *stubStorage, schemas []domain.Schema, opts ...ServiceOption) *CSVService {
	reg := NewSchemaRegistry(context.Background(), &stubSchemaRepo{schemas: schemas})
	return NewCSVService(storage, reg, rules.NewValidator(), opts...)
}

func TestAvailableSchemasReturnsRegistryNames(t *testing.T) {
	svc := newTestService(&stubStorage{}, []domain.Schema{testSchema})
	assert.Equal(t, []string{"test"}, svc.AvailableSchemas())
}

func TestValidateValidSourceReturnsNoErrors(t *testing.T) {
	storage := &stubStorage{tables: map[string]table{
		"test.csv": {
			columns: []string{"user_email", "transaction_amount", "signup_date"},
			rows: [][]string{
				{"a@b.com", "10.0", "2026-01-01"},
				{"b@c.com", "20.0", "2026-01-02"},
			},
		},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema})

	resp, err := svc.Validate(context.Background(), domain.NewValidationRequest("test.csv", "test", identityMapping))
	require.NoError(t, err)
	assert.True(t, resp.IsValid())
	assert.Empty(t, resp.Errors)
	assert.Equal(t, "test.csv", resp.Source)
	assert.Equal(t, "test", resp.SchemaName)
}

func TestValidateReportsGlobalRowIndexAcrossChunks(t *testing.T) {
	storage := &stubStorage{tables: map[string]table{
		"orders.csv": {
			columns: []string{"Email", "Amount", "Date", "Notes"},
			rows: [][]string{
				{"a@b.com", "1", "2026-01-01", "x"},
				{"b@c.com", "2", "2026-01-02", "y"},
				{"c@d.com", "3", "2026-01-03", "z"},
				{"not-an-email", "-1", "2026-01-04", "w"},
				{"e@f.com", "5", "2026-01-05", "v"},
			},
		},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema}, WithServiceConfig(ServiceConfig{ChunkSize: 2}))

	req := domain.NewValidationRequest("orders.csv", "test", map[string]string{
		"Email":  "user_email",
		"Amount": "transaction_amount",
		"Date":   "signup_date",
	})
	resp, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.IsValid())
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 3, resp.Errors[0].Row)
	assert.Equal(t, []string{"transaction_amount", "user_email"}, fieldSet(resp.Errors[0].Detail))
	assert.Equal(t, req.ID, resp.RequestID)
}

func TestValidateUnmappedColumnsAreIgnored(t *testing.T) {
	schema := domain.Schema{Name: "loose", Definition: domain.Definition{
		{Name: "user_email", Rules: domain.RuleSet{"type": "string", "regex": `[^@]+@[^@]+\.[^@]+`}},
	}}
	storage := &stubStorage{tables: map[string]table{
		"s.csv": {columns: []string{"email", "garbage"}, rows: [][]string{{"a@b.com", "###"}}},
	}}
	svc := newTestService(storage, []domain.Schema{schema})

	resp, err := svc.Validate(context.Background(), domain.NewValidationRequest("s.csv", "loose", map[string]string{"email": "user_email"}))
	require.NoError(t, err)
	assert.True(t, resp.IsValid())
}

func TestValidateUnopenableSourceReturnsInvalidResponse(t *testing.T) {
	obs := &recordingObserver{}
	svc := newTestService(&stubStorage{}, []domain.Schema{testSchema}, WithObservers(obs))

	resp, err := svc.Validate(context.Background(), domain.ValidationRequest{
		ID:         uuid.New(),
		Source:     "missing.csv",
		SchemaName: "test",
	})
	require.NoError(t, err)
	assert.False(t, resp.IsValid())
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 0, resp.Errors[0].Row)
	require.Len(t, obs.runs, 1)
	assert.Equal(t, domain.OutcomeFailedOpen, obs.runs[0].Outcome)
}

func TestValidateStopsOnceBudgetExceeded(t *testing.T) {
	rows := make([][]string, 0, 10)
	for range 10 {
		rows = append(rows, []string{"bad", "-1", "2026-01-01"})
	}
	storage := &stubStorage{tables: map[string]table{
		"bad.csv": {columns: []string{"user_email", "transaction_amount", "signup_date"}, rows: rows},
	}}
	obs := &recordingObserver{}
	svc := newTestService(storage, []domain.Schema{testSchema},
		WithServiceConfig(ServiceConfig{ChunkSize: 3}),
		WithObservers(obs),
	)

	req := domain.NewValidationRequest("bad.csv", "test", identityMapping)
	req.ErrorBudget = 4
	resp, err := svc.Validate(context.Background(), req)
	require.NoError(t, err)

	// chunks of 3: after the second chunk 6 > 4 errors, the rest is skipped
	assert.Len(t, resp.Errors, 6)
	assert.Equal(t, 5, resp.Errors[5].Row)
	require.Len(t, obs.runs, 1)
	assert.Equal(t, domain.OutcomeBudgetExceeded, obs.runs[0].Outcome)
	assert.Equal(t, 6, obs.runs[0].RowsChecked)
}

func TestValidateMidStreamReadFailureIsReturned(t *testing.T) {
	storage := &stubStorage{
		tables: map[string]table{
			"flaky.csv": {columns: []string{"user_email"}, rows: [][]string{{"a@b.com"}, {"b@c.com"}}},
		},
		failNext: errBoom,
	}
	svc := newTestService(storage, []domain.Schema{testSchema}, WithServiceConfig(ServiceConfig{ChunkSize: 1}))

	_, err := svc.Validate(context.Background(), domain.NewValidationRequest("flaky.csv", "test", identityMapping))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, domain.ErrUnreadableSource)
}

func TestValidateUnknownSchemaIsConfigurationFault(t *testing.T) {
	svc := newTestService(&stubStorage{}, []domain.Schema{testSchema})

	_, err := svc.Validate(context.Background(), domain.NewValidationRequest("x.csv", "nope", nil))
	assert.ErrorIs(t, err, domain.ErrSchemaNotFound)
}

func TestValidateRejectsIncompleteRequest(t *testing.T) {
	svc := newTestService(&stubStorage{}, []domain.Schema{testSchema})

	_, err := svc.Validate(context.Background(), domain.ValidationRequest{SchemaName: "test"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestValidateObserverFailureDoesNotChangeResponse(t *testing.T) {
	storage := &stubStorage{tables: map[string]table{
		"ok.csv": {columns: []string{"user_email"}, rows: [][]string{{"a@b.com"}}},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema}, WithObservers(&recordingObserver{err: errBoom}))

	resp, err := svc.Validate(context.Background(), domain.NewValidationRequest("ok.csv", "test", map[string]string{"user_email": "user_email"}))
	require.NoError(t, err)
	assert.True(t, resp.IsValid())
}

func TestInspectReturnsResultFromPeek(t *testing.T) {
	storage := &stubStorage{tables: map[string]table{
		"some.csv": {columns: []string{"User Email", "transaction_amount"}, rows: [][]string{{"a@b.com", "1.0"}}},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema})

	result, err := svc.Inspect(context.Background(), "some.csv", "test")
	require.NoError(t, err)
	assert.Equal(t, testSchema, result.Schema)
	assert.Equal(t, []string{"User Email", "transaction_amount"}, result.Columns)
	assert.Equal(t, 1, storage.peeks)
}

func TestInspectWrapsReadErrors(t *testing.T) {
	svc := newTestService(&stubStorage{peekErr: errors.New("not found")}, []domain.Schema{testSchema})

	_, err := svc.Inspect(context.Background(), "missing.csv", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnreadableSource)
	assert.True(t, strings.HasPrefix(err.Error(), "error reading file missing.csv"))
}

func TestInspectUnknownSchema(t *testing.T) {
	svc := newTestService(&stubStorage{}, []domain.Schema{testSchema})

	_, err := svc.Inspect(context.Background(), "x.csv", "")
	assert.ErrorIs(t, err, domain.ErrSchemaNotFound)
}

func TestRecommendPicksBestSchemaAboveThreshold(t *testing.T) {
	a := domain.Schema{Name: "a", Definition: domain.Definition{
		{Name: "email", Rules: domain.RuleSet{"type": "string"}},
		{Name: "amount", Rules: domain.RuleSet{"type": "float"}},
	}}
	b := domain.Schema{Name: "b", Definition: domain.Definition{
		{Name: "email", Rules: domain.RuleSet{"type": "string"}},
		{Name: "sku", Rules: domain.RuleSet{"regex": "SKU-[0-9]+"}},
		{Name: "warehouse", Rules: domain.RuleSet{"regex": "WH-[0-9]+"}},
		{Name: "bin", Rules: domain.RuleSet{"regex": "BIN-[0-9]+"}},
		{Name: "lot", Rules: domain.RuleSet{"regex": "LOT-[0-9]+"}},
	}}
	storage := &stubStorage{tables: map[string]table{
		"x.csv": {columns: []string{"Email", "Amount"}, rows: [][]string{{"a@b.com", "1.5"}}},
	}}
	svc := newTestService(storage, []domain.Schema{b, a})

	got, ok, err := svc.Recommend(context.Background(), "x.csv", DefaultRecommendation)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 1, storage.peeks)
}

func TestRecommendTieKeepsFirstSchema(t *testing.T) {
	first := domain.Schema{Name: "first", Definition: domain.Definition{{Name: "email", Rules: domain.RuleSet{}}}}
	second := domain.Schema{Name: "second", Definition: domain.Definition{{Name: "email", Rules: domain.RuleSet{}}}}
	storage := &stubStorage{tables: map[string]table{
		"x.csv": {columns: []string{"email"}, rows: [][]string{{"a@b.com"}}},
	}}
	svc := newTestService(storage, []domain.Schema{first, second})

	got, ok, err := svc.Recommend(context.Background(), "x.csv", 0.5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
}

func TestRecommendFallsBackToDefault(t *testing.T) {
	fallback := domain.Schema{Name: "default", Definition: domain.Definition{{Name: "anything", Rules: domain.RuleSet{"regex": "zzz"}}}}
	storage := &stubStorage{tables: map[string]table{
		"x.csv": {columns: []string{"unknown_col"}, rows: [][]string{{"a"}, {"b"}}},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema, fallback})

	got, ok, err := svc.Recommend(context.Background(), "x.csv", 0.99)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "default", got.Name)
}

func TestRecommendWithoutDefaultIsAbsent(t *testing.T) {
	storage := &stubStorage{tables: map[string]table{
		"x.csv": {columns: []string{"unknown_col"}, rows: [][]string{{"a"}}},
	}}
	svc := newTestService(storage, []domain.Schema{testSchema})

	_, ok, err := svc.Recommend(context.Background(), "x.csv", 0.99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecommendFailsFastOnReadError(t *testing.T) {
	svc := newTestService(&stubStorage{peekErr: errBoom}, []domain.Schema{testSchema})

	_, _, err := svc.Recommend(context.Background(), "x.csv", DefaultRecommendation)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, domain.ErrUnreadableSource)
}

func TestUploadWithoutStoreFails(t *testing.T) {
	svc := newTestService(&stubStorage{}, nil)

	_, err := svc.UploadFile(context.Background(), "a.csv", strings.NewReader("a,b\n"))
	assert.Error(t, err)
}

func TestInspectHonoursZeroMatchThreshold(t *testing.T) {
	schema := domain.Schema{Name: "counts", Definition: domain.Definition{
		{Name: "count", Rules: domain.RuleSet{"type": "integer"}},
	}}
	storage := &stubStorage{tables: map[string]table{
		"x.csv": {columns: []string{"mixed"}, rows: [][]string{{"1"}, {"a"}, {"b"}, {"c"}, {"d"}}},
	}}

	strict := newTestService(storage, []domain.Schema{schema})
	result, err := strict.Inspect(context.Background(), "x.csv", "counts")
	require.NoError(t, err)
	assert.Equal(t, "", result.Suggestions["mixed"])

	loose := newTestService(storage, []domain.Schema{schema}, WithMatchThreshold(0))
	result, err = loose.Inspect(context.Background(), "x.csv", "counts")
	require.NoError(t, err)
	assert.Equal(t, "count", result.Suggestions["mixed"])
}

func TestWithMatchThresholdIgnoresOutOfRange(t *testing.T) {
	svc := newTestService(&stubStorage{}, nil, WithMatchThreshold(1.5))
	assert.Equal(t, DefaultMatchThreshold, svc.matchThreshold)

	svc = newTestService(&stubStorage{}, nil, WithMatchThreshold(0))
	assert.Equal(t, 0.0, svc.matchThreshold)
}
