// Package pipeline runs the six-stage discussion-to-task pipeline: validate,
// resolve flow and open the job ledger, build the thread, analyze it, fan
// tasks out to outputs, and notify the source thread.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/analyzer"
	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/retry"
	"github.com/taskbridge/taskbridge/pkg/services"
	"github.com/taskbridge/taskbridge/pkg/source"
)

// ErrorKind buckets pipeline failures for callers: webhook handlers map
// kinds to HTTP statuses, the ledger records them verbatim.
type ErrorKind string

// Pipeline error kinds.
const (
	KindValidation   ErrorKind = "validation"
	KindFlowNotFound ErrorKind = "flow_not_found"
	KindParse        ErrorKind = "parse"
	KindAnalysis     ErrorKind = "analysis"
	KindAuth         ErrorKind = "auth"
	KindRateLimit    ErrorKind = "rate_limit"
	KindTransient    ErrorKind = "transient"
	KindIntegrity    ErrorKind = "integrity"
	KindInternal     ErrorKind = "internal"
)

// Error wraps a stage failure with its kind and the stage it surfaced in.
type Error struct {
	Kind  ErrorKind
	Stage models.JobStage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// stageError classifies err into the pipeline taxonomy at the given stage.
func stageError(stage models.JobStage, err error) *Error {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return pipeErr
	}
	return &Error{Kind: classify(err), Stage: stage, Err: err}
}

func classify(err error) ErrorKind {
	var parseErr *source.ParseError
	if errors.As(err, &parseErr) {
		return KindParse
	}
	var analysisErr *analyzer.AnalysisError
	if errors.As(err, &analysisErr) {
		return KindAnalysis
	}
	if services.IsValidationError(err) {
		return KindValidation
	}
	if errors.Is(err, flow.ErrFlowNotFound) {
		return KindFlowNotFound
	}
	if errors.Is(err, flow.ErrMultipleDefaults) || errors.Is(err, flow.ErrNoDefaultOutput) {
		return KindIntegrity
	}
	var httpErr *retry.HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsAuthError():
			return KindAuth
		case httpErr.IsRateLimit():
			return KindRateLimit
		case httpErr.Retryable():
			return KindTransient
		}
	}
	if retry.IsRetryable(err) {
		return KindTransient
	}
	return KindInternal
}
