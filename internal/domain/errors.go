package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModel is returned when no trained bundle has been loaded yet.
	ErrNoModel = errors.New("no forecast model loaded")

	// ErrMissingIdentifier is returned when a request lacks a usable postcode.
	ErrMissingIdentifier = errors.New("a valid postcode is required")

	// ErrRateLimited is returned once an external API keeps answering 429
	// after the bounded number of attempts.
	ErrRateLimited = errors.New("rate limited")
)

// DataError describes a malformed input row. Rows carrying one are dropped.
type DataError struct {
	Field  string
	Value  string
	Reason string
}

func (e *DataError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// TrainingError reports that a model bundle could not be produced.
type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failure from a hazard or price lookup.
type ExternalServiceError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
