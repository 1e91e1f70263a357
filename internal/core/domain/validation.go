package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const DefaultErrorBudget = 100

var requestValidate = validator.New()

// ValidationRequest asks for a source to be validated against a named schema
// once the column mapping has been confirmed.
type ValidationRequest struct {
	ID            uuid.UUID         `json:"id"`
	Source        string            `json:"source" validate:"required"`
	SchemaName    string            `json:"schema" validate:"required"`
	ColumnMapping map[string]string `json:"mappings"`
	ErrorBudget   int               `json:"error_threshold" validate:"gte=0"`
}

func NewValidationRequest(source, schemaName string, mapping map[string]string) ValidationRequest {
	return ValidationRequest{
		ID:            uuid.New(),
		Source:        source,
		SchemaName:    schemaName,
		ColumnMapping: mapping,
		ErrorBudget:   DefaultErrorBudget,
	}
}

func (r ValidationRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// FieldErrors maps a schema field to the reasons its value was rejected.
type FieldErrors map[string][]string

// ValidationError locates a rejected record. Row is the 0-based data row
// position in the source, header excluded.
type ValidationError struct {
	Row    int `json:"row"`
	Detail any `json:"error"`
}

type ValidationResponse struct {
	RequestID  uuid.UUID         `json:"request_id"`
	Source     string            `json:"source"`
	SchemaName string            `json:"schema"`
	Errors     []ValidationError `json:"errors"`
}

func NewValidationResponse(req ValidationRequest) ValidationResponse {
	return ValidationResponse{
		RequestID:  req.ID,
		Source:     req.Source,
		SchemaName: req.SchemaName,
		Errors:     []ValidationError{},
	}
}

// InvalidSourceResponse is the degraded response returned when the source
// cannot be opened at all.
func InvalidSourceResponse(req ValidationRequest) ValidationResponse {
	resp := NewValidationResponse(req)
	resp.Errors = append(resp.Errors, ValidationError{Row: 0, Detail: "could not read file"})
	return resp
}

func (r ValidationResponse) IsValid() bool {
	return len(r.Errors) == 0
}

type ValidationOutcome string

const (
	OutcomeExhausted      ValidationOutcome = "exhausted"
	OutcomeBudgetExceeded ValidationOutcome = "budget_exceeded"
	OutcomeFailedOpen     ValidationOutcome = "failed_open"
)

// ValidationRun summarises a finished validation for observers.
type ValidationRun struct {
	Response    ValidationResponse
	Outcome     ValidationOutcome
	RowsChecked int
	Duration    time.Duration
}
