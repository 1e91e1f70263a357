package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/csvschema/internal/core/domain"
	"github.com/atvirokodosprendimai/csvschema/internal/core/ports"
)

const (
	DefaultSampleSize     = 5
	DefaultChunkSize      = 10000
	DefaultSchemaName     = "default"
	DefaultRecommendation = 0.8
)

type ServiceConfig struct {
	SampleSize    int
	ChunkSize     int
	DefaultSchema string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SampleSize:    DefaultSampleSize,
		ChunkSize:     DefaultChunkSize,
		DefaultSchema: DefaultSchemaName,
	}
}

type ServiceOption func(*CSVService)

func WithServiceConfig(cfg ServiceConfig) ServiceOption {
	return func(s *CSVService) {
		if cfg.SampleSize > 0 {
			s.cfg.SampleSize = cfg.SampleSize
		}
		if cfg.ChunkSize > 0 {
			s.cfg.ChunkSize = cfg.ChunkSize
		}
		if cfg.DefaultSchema != "" {
			s.cfg.DefaultSchema = cfg.DefaultSchema
		}
	}
}

// WithMatchThreshold sets the fraction of sampled values a field must accept
// before a column is guessed as that field. Zero is a valid threshold; values
// outside [0, 1] are ignored.
func WithMatchThreshold(threshold float64) ServiceOption {
	return func(s *CSVService) {
		if threshold >= 0 && threshold <= 1 {
			s.matchThreshold = threshold
		}
	}
}

func WithUploadStore(uploads ports.UploadStore) ServiceOption {
	return func(s *CSVService) {
		s.uploads = uploads
	}
}

func WithObservers(observers ...ports.ValidationObserver) ServiceOption {
	return func(s *CSVService) {
		s.observers = append(s.observers, observers...)
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *CSVService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// CSVService inspects, recommends schemas for and validates tabular sources.
// It holds no per-call state and is safe for concurrent use.
type CSVService struct {
	storage   ports.TabularStorage
	uploads   ports.UploadStore
	registry  *SchemaRegistry
	rules     ports.RuleValidator
	observers []ports.ValidationObserver
	cfg       ServiceConfig
	logger    *slog.Logger

	matchThreshold float64
}

func NewCSVService(storage ports.TabularStorage, registry *SchemaRegistry, rules ports.RuleValidator, opts ...ServiceOption) *CSVService {
	s := &CSVService{
		storage:  storage,
		registry: registry,
		rules:    rules,
		cfg:      DefaultServiceConfig(),
		logger:   slog.Default(),

		matchThreshold: DefaultMatchThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CSVService) AvailableSchemas() []string {
	return s.registry.Names()
}

func (s *CSVService) Schema(name string) (domain.Schema, bool) {
	return s.registry.Get(name)
}

func (s *CSVService) RegisterSchema(ctx context.Context, schema domain.Schema) error {
	return s.registry.Register(ctx, schema)
}

func (s *CSVService) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	if s.uploads == nil {
		return "", errors.New("uploads are not configured")
	}
	return s.uploads.SaveUpload(ctx, filename, r)
}

// Inspect samples source and suggests a mapping onto schemaName. An empty
// schemaName selects the default schema.
func (s *CSVService) Inspect(ctx context.Context, source, schemaName string) (domain.InspectionResult, error) {
	if schemaName == "" {
		schemaName = s.cfg.DefaultSchema
	}
	schema, ok := s.registry.Get(schemaName)
	if !ok {
		return domain.InspectionResult{}, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, schemaName)
	}

	sample, err := s.storage.Peek(ctx, source, s.cfg.SampleSize)
	if err != nil {
		return domain.InspectionResult{}, &domain.SourceError{Source: source, Err: err}
	}
	return Inspect(s.rules, sample, schema, s.matchThreshold)
}

// Recommend scores source against every registered schema and returns the best
// one if its score is above threshold. Otherwise the default schema is
// returned; ok is false when that is not registered either. Any read failure
// aborts the whole recommendation.
func (s *CSVService) Recommend(ctx context.Context, source string, threshold float64) (schema domain.Schema, ok bool, err error) {
	sample, err := s.storage.Peek(ctx, source, s.cfg.SampleSize)
	if err != nil {
		s.logger.Warn("problem recommending schema", "source", source, "error", err)
		return domain.Schema{}, false, &domain.SourceError{Source: source, Err: err}
	}

	var (
		best    domain.Schema
		found   bool
		highest float64
	)
	for _, name := range s.registry.Names() {
		candidate, exists := s.registry.Get(name)
		if !exists {
			continue
		}
		result, err := Inspect(s.rules, sample, candidate, s.matchThreshold)
		if err != nil {
			return domain.Schema{}, false, fmt.Errorf("inspect %s against %s: %w", source, name, err)
		}
		if score := result.Score(); score > highest {
			best, highest, found = candidate, score, true
		}
	}

	if found && highest > threshold {
		return best, true, nil
	}
	schema, ok = s.registry.Get(s.cfg.DefaultSchema)
	return schema, ok, nil
}

// Validate streams source chunk by chunk and validates every mapped record.
// A source that cannot be opened yields InvalidSourceResponse rather than an
// error. Reading stops after the first chunk that takes the error count past
// req.ErrorBudget.
func (s *CSVService) Validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResponse, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if err := req.Validate(); err != nil {
		return domain.ValidationResponse{}, err
	}
	schema, ok := s.registry.Get(req.SchemaName)
	if !ok {
		return domain.ValidationResponse{}, fmt.Errorf("%w: %s", domain.ErrSchemaNotFound, req.SchemaName)
	}

	started := time.Now()
	chunks, err := s.storage.ReadChunks(ctx, req.Source, s.cfg.ChunkSize)
	if err != nil {
		s.logger.Warn("could not open source for validation", "request_id", req.ID, "source", req.Source, "error", err)
		resp := domain.InvalidSourceResponse(req)
		s.notify(ctx, domain.ValidationRun{Response: resp, Outcome: domain.OutcomeFailedOpen, Duration: time.Since(started)})
		return resp, nil
	}
	defer func() {
		if closeErr := chunks.Close(); closeErr != nil {
			s.logger.Warn("close source", "source", req.Source, "error", closeErr)
		}
	}()

	resp := domain.NewValidationResponse(req)
	outcome := domain.OutcomeExhausted
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return domain.ValidationResponse{}, err
		}
		chunk, err := chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.ValidationResponse{}, &domain.SourceError{Source: req.Source, Err: err}
		}

		for i, record := range chunk.Rename(req.ColumnMapping) {
			fieldErrs, err := s.rules.ValidateRecord(schema, record)
			if err != nil {
				return domain.ValidationResponse{}, fmt.Errorf("validate row %d: %w", chunk.Offset+i, err)
			}
			if len(fieldErrs) > 0 {
				resp.Errors = append(resp.Errors, domain.ValidationError{Row: chunk.Offset + i, Detail: fieldErrs})
			}
		}
		rows += len(chunk.Rows)

		if len(resp.Errors) > req.ErrorBudget {
			outcome = domain.OutcomeBudgetExceeded
			break
		}
	}

	s.notify(ctx, domain.ValidationRun{
		Response:    resp,
		Outcome:     outcome,
		RowsChecked: rows,
		Duration:    time.Since(started),
	})
	return resp, nil
}

func (s *CSVService) notify(ctx context.Context, run domain.ValidationRun) {
	for _, o := range s.observers {
		if err := o.ValidationCompleted(ctx, run); err != nil {
			s.logger.Warn("validation observer failed", "request_id", run.Response.RequestID, "error", err)
		}
	}
}
