package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSchemaNotFound   = fmt.Errorf("schema %w", ErrNotFound)
	ErrSourceNotFound   = fmt.Errorf("source %w", ErrNotFound)
	ErrUnreadableSource = errors.New("unreadable source")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidUpload    = errors.New("invalid upload")
)

// SourceError reports that a tabular source could not be read or parsed.
// It matches ErrUnreadableSource with errors.Is.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("error reading file %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

func (e *SourceError) Is(target error) bool {
	return target == ErrUnreadableSource
}

// RuleSetError is returned when a field's rule set cannot be understood by the
// rule validator (unknown type, bad regex, ...). It is a configuration fault.
type RuleSetError struct {
	Field string
	Err   error
}

func (e *RuleSetError) Error() string {
	return fmt.Sprintf("invalid rules for field %q: %v", e.Field, e.Err)
}

func (e *RuleSetError) Unwrap() error {
	return e.Err
}
