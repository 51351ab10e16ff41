// Package errors defines the structured error type shared by all serial-pdf
// components. Every failure surfaced to a caller or stored on a job carries a
// Kind (the taxonomy the HTTP layer and job workers dispatch on), a stable
// machine-readable Code, and an optional captured output stream for failures
// of external commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error for dispatch decisions.
type Kind string

const (
	// KindValidation marks malformed input rejected before a job exists.
	KindValidation Kind = "validation"
	// KindNotFound marks unknown template IDs, entry files or job IDs.
	KindNotFound Kind = "not_found"
	// KindCheckout marks commits or paths that version history cannot serve.
	KindCheckout Kind = "checkout"
	// KindCompilation marks a document build that ran and failed.
	KindCompilation Kind = "compilation"
	// KindConfig marks invalid service configuration.
	KindConfig Kind = "config"
	// KindInternal marks unexpected faults inside the service.
	KindInternal Kind = "internal"
)

// Error is the structured error used across serial-pdf.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	// Output holds captured stdout/stderr or a build log for failures of
	// external commands (git, latexmk). May be large; callers decide what
	// to persist.
	Output   string
	Context  map[string]interface{}
	JobID    string
	Template string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.JobID != "" {
		parts = append(parts, "job:"+e.JobID)
	}
	if e.Template != "" {
		parts = append(parts, "template:"+e.Template)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds a context entry to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithJob tags the error with the job it belongs to.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID

	return e
}

// WithTemplate tags the error with the template it concerns.
func (e *Error) WithTemplate(templateID string) *Error {
	e.Template = templateID

	return e
}

// WithOutput attaches captured command output to the error.
func (e *Error) WithOutput(output string) *Error {
	e.Output = output

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewCheckoutError creates a checkout error.
func NewCheckoutError(code, message string, cause error) *Error {
	return &Error{Kind: KindCheckout, Code: code, Message: message, Cause: cause}
}

// NewCompilationError creates a compilation error.
func NewCompilationError(code, message string, cause error) *Error {
	return &Error{Kind: KindCompilation, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{Kind: KindConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message, Cause: cause}
}

// Classification helpers

// KindOf returns the kind of an error, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsValidation checks whether an error is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsNotFound checks whether an error is a not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsCheckout checks whether an error is a checkout error.
func IsCheckout(err error) bool {
	return KindOf(err) == KindCheckout
}

// IsCompilation checks whether an error is a compilation error.
func IsCompilation(err error) bool {
	return KindOf(err) == KindCompilation
}

// OutputOf returns the captured command output of an error, if any.
func OutputOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Output
	}

	return ""
}

// CodeOf returns the machine-readable code of an error, or ErrCodeInternal
// for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeInternal
}

// MessageOf returns the bare message of an error without its code and tag
// prefixes. Foreign errors return their Error text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return err.Error()
}

// Common error codes.
const (
	ErrCodeInvalidJobID      = "ERR_INVALID_JOB_ID"
	ErrCodeInvalidCommit     = "ERR_INVALID_COMMIT"
	ErrCodeInvalidData       = "ERR_INVALID_DATA"
	ErrCodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeEntryNotFound     = "ERR_ENTRY_NOT_FOUND"
	ErrCodeJobNotFound       = "ERR_JOB_NOT_FOUND"
	ErrCodeCommitUnknown     = "ERR_COMMIT_UNKNOWN"
	ErrCodeCheckoutFailed    = "ERR_CHECKOUT_FAILED"
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeCompileTimeout    = "ERR_COMPILE_TIMEOUT"
	ErrCodeArtifactMissing   = "ERR_ARTIFACT_MISSING"
	ErrCodeArtifactInvalid   = "ERR_ARTIFACT_INVALID"
	ErrCodeExportFailed      = "ERR_EXPORT_FAILED"
	ErrCodeQueueFull         = "ERR_QUEUE_FULL"
	ErrCodeShutdown          = "ERR_SHUTDOWN"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeInternal          = "ERR_INTERNAL"
)

// Helpers for frequently constructed errors

// ErrTemplateNotFound reports a template ID with no tree at the commit.
func ErrTemplateNotFound(templateID, commit string) *Error {
	return NewNotFoundError(
		ErrCodeTemplateNotFound,
		fmt.Sprintf("no template for id %q at commit %s", templateID, commit),
	).WithTemplate(templateID)
}

// ErrEntryNotFound reports a template missing its compilation entry file.
func ErrEntryNotFound(templateID, entry, commit string) *Error {
	return NewNotFoundError(
		ErrCodeEntryNotFound,
		fmt.Sprintf("template %q has no entry file %q at commit %s", templateID, entry, commit),
	).WithTemplate(templateID)
}

// ErrJobNotFound reports an unknown job ID.
func ErrJobNotFound(jobID string) *Error {
	return NewNotFoundError(ErrCodeJobNotFound, "unknown job id").WithJob(jobID)
}

// ErrQueueFull reports a saturated submission queue.
func ErrQueueFull() *Error {
	return NewInternalError(ErrCodeQueueFull, "job queue is full", nil)
}
