package cases

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no case exists for an id.
	ErrNotFound = errors.New("case not found")

	// ErrPrecondition is returned when a stage is requested before its inputs exist.
	ErrPrecondition = errors.New("case missing observations or answers")
)

// ValidationError reports bad client input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Stage error codes surfaced by the API.
const (
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeAnalysisFailed = "AI_ANALYSIS_FAILED"
	CodeAnswersFailed  = "ANSWER_SUBMISSION_FAILED"
	CodeTriageFailed   = "TRIAGE_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeGetCaseFailed  = "GET_CASE_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodePrecondition   = "PRECONDITION_FAILED"
)

// StageError is a storage or database failure inside a workflow stage.
type StageError struct {
	Code string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(code string, err error) error {
	return &StageError{Code: code, Err: err}
}
