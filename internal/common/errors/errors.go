// Package errors provides the structured error types shared by the Devchain
// coordinator services. Callers branch on the error kind via errors.As, never
// on message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// FileConflict describes one conflicting file in a blocked merge.
type FileConflict struct {
	File string `json:"file"`
	Type string `json:"type"` // content, delete/modify, add/add
}

// ConflictError signals that an operation is blocked by existing state:
// an already-running session or a merge with conflicting files.
type ConflictError struct {
	Message string `json:"message"`
	// SessionID is set when the conflict is an already-active session.
	SessionID string `json:"session_id,omitempty"`
	// Conflicts is set when the conflict is a blocked merge.
	Conflicts []FileConflict `json:"conflicts,omitempty"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

// PreconditionError signals a provider-side precondition failure. The Code is
// the stable contract; Message is advisory only.
type PreconditionError struct {
	Code         string `json:"code"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	Message      string `json:"message"`
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError carries the identifying value that failed to resolve.
type NotFoundError struct {
	Resource string `json:"resource"`
	Value    string `json:"value"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Value)
}

// RefusalError is a safety refusal. It always fails closed; no partial
// application precedes it.
type RefusalError struct {
	Message string `json:"message"`
}

func (e *RefusalError) Error() string {
	return e.Message
}

// ValidationError is raised before any store or git call is made.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
}

// Conflict creates a ConflictError with the given message.
func Conflict(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// SessionConflict creates a ConflictError for an already-active session.
func SessionConflict(agentID, sessionID string) *ConflictError {
	return &ConflictError{
		Message:   fmt.Sprintf("agent %s already has active session %s", agentID, sessionID),
		SessionID: sessionID,
	}
}

// MergeBlocked creates a ConflictError carrying the conflicting file list.
func MergeBlocked(conflicts []FileConflict) *ConflictError {
	return &ConflictError{
		Message:   fmt.Sprintf("merge blocked by %d conflicting file(s)", len(conflicts)),
		Conflicts: conflicts,
	}
}

// NotFound creates a NotFoundError for a resource identified by value.
func NotFound(resource, value string) *NotFoundError {
	return &NotFoundError{Resource: resource, Value: value}
}

// Refusal creates a RefusalError.
func Refusal(format string, args ...any) *RefusalError {
	return &RefusalError{Message: fmt.Sprintf(format, args...)}
}

// Validation creates a ValidationError for a field.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// HTTPStatus maps an error to the HTTP status its kind implies, unwrapping
// as needed. Unrecognized errors map to 500.
func HTTPStatus(err error) int {
	var (
		conflict     *ConflictError
		precondition *PreconditionError
		notFound     *NotFoundError
		refusal      *RefusalError
		validation   *ValidationError
	)
	switch {
	case stderrors.As(err, &conflict):
		return http.StatusConflict
	case stderrors.As(err, &precondition):
		return http.StatusPreconditionFailed
	case stderrors.As(err, &notFound):
		return http.StatusNotFound
	case stderrors.As(err, &refusal):
		return http.StatusForbidden
	case stderrors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
