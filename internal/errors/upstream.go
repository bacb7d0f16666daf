package errors

import (
	"errors"
	"fmt"
)

// UpstreamKind identifies which downstream collaborator an UpstreamError
// originated from.
type UpstreamKind string

const (
	// UpstreamPromptGeneration covers the prompt-generation completion call.
	UpstreamPromptGeneration UpstreamKind = "prompt_generation"
	// UpstreamImageRender covers the image-generation service call.
	UpstreamImageRender UpstreamKind = "image_render"
	// UpstreamValidation covers the validator completion call.
	UpstreamValidation UpstreamKind = "validation"
	// UpstreamReport covers the failure-report completion call.
	UpstreamReport UpstreamKind = "report"
)

// UpstreamError represents a transient failure of a downstream service call.
// These errors are recorded into the current attempt and never abort the
// whole job; only exhausting the attempt budget does.
type UpstreamError struct {
	Kind UpstreamKind
	// Status is the upstream HTTP status, 0 when the call never completed.
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s service error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s service error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s service error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// GenerationServiceError creates an UpstreamError for the prompt generator.
func GenerationServiceError(status int, message string, cause error) *UpstreamError {
	return &UpstreamError{Kind: UpstreamPromptGeneration, Status: status, Message: message, Cause: cause}
}

// RenderServiceError creates an UpstreamError for the image renderer.
func RenderServiceError(status int, message string, cause error) *UpstreamError {
	return &UpstreamError{Kind: UpstreamImageRender, Status: status, Message: message, Cause: cause}
}

// ValidationServiceError creates an UpstreamError for the result validator.
func ValidationServiceError(status int, message string, cause error) *UpstreamError {
	return &UpstreamError{Kind: UpstreamValidation, Status: status, Message: message, Cause: cause}
}

// ReportGenerationError creates an UpstreamError for the report generator.
func ReportGenerationError(status int, message string, cause error) *UpstreamError {
	return &UpstreamError{Kind: UpstreamReport, Status: status, Message: message, Cause: cause}
}

// IsUpstream checks if an error is an UpstreamError of the given kind.
func IsUpstream(err error, kind UpstreamKind) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == kind
}
