// Package apperr defines the typed error variant used across the service
// in place of exception-style control flow (see Design Note in SPEC_FULL.md
// §9 / §10): every user-visible failure carries a stable code and message.
package apperr

import "net/http"

// Error is the tagged error variant the HTTP layer and the stage runner
// both switch on.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New builds an *Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying err's message under code.
func Wrap(code string, err error) *Error {
	if err == nil {
		return &Error{Code: code}
	}
	return &Error{Code: code, Message: err.Error()}
}

// Error codes, the user-visible contract (spec.md §7).
const (
	CodeInvalidFileType    = "invalid_file_type"
	CodeFileTooLarge       = "file_too_large"
	CodePDFProcessingError = "pdf_processing_error"
	CodeNoQATranscript     = "no_q_a_transcript"

	CodeLLMInvalidJSON     = "llm_invalid_json"
	CodeLLMSummaryError    = "llm_summary_error"
	CodeLLMOverviewError   = "llm_overview_error"
	CodeLLMJudgeError      = "llm_judge_error"
	CodeProviderEmptyOutput = "provider_empty_output"

	CodeCancelled        = "cancelled"
	CodeJobNotFound      = "job_not_found"
	CodeStatusReadError  = "status_read_error"

	CodePersistError = "persist_error"
	CodeInternal     = "internal_error"
)

// StatusFor maps an error code to its HTTP status per spec.md §6.
func StatusFor(code string) int {
	switch code {
	case CodeInvalidFileType, CodeFileTooLarge, CodePDFProcessingError, CodeNoQATranscript:
		return http.StatusBadRequest
	case CodeLLMInvalidJSON:
		return http.StatusUnprocessableEntity
	case CodeLLMSummaryError, CodeLLMJudgeError, CodeLLMOverviewError, CodeProviderEmptyOutput:
		return http.StatusBadGateway
	case CodeJobNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if any, by a direct type assertion; an
// *Error wrapped inside another error is not found.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
