package app

import (
	"errors"
	"fmt"

	"metaman/api/internal/hooks"
	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// asDomainError maps the pipeline error taxonomy onto the API-facing shape.
// Validation and duplication failures keep their field-level detail; an
// optimistic-lock conflict is surfaced as retryable.
func asDomainError(err error) *DomainError {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain
	}
	var duplicate *hooks.DuplicateEntityIDError
	if errors.As(err, &duplicate) {
		return domainError(400, "DuplicateEntityId", duplicate.Error(), nil)
	}
	var failure *validation.Error
	if errors.As(err, &failure) {
		return domainError(400, "ValidationFailure", failure.Error(), failure.Violations)
	}
	var notAllowed *hooks.NotAllowedError
	if errors.As(err, &notAllowed) {
		return domainError(403, "EndpointNotAllowed", notAllowed.Message, nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return domainError(404, "ResourceNotFound", err.Error(), nil)
	}
	if errors.Is(err, store.ErrOptimisticLock) {
		return domainError(409, "OptimisticLockConflict", err.Error()+"; retry with the latest version", nil)
	}
	return domainError(500, "InternalError", err.Error(), nil)
}
