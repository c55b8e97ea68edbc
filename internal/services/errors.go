package services

import (
	"errors"
	"fmt"

	apperrors "github.com/acadex/attempt-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	// Generic errors
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrInternalError    = errors.New("internal server error")
	ErrConflict         = errors.New("resource conflict")

	// Test definition errors
	ErrTestNotFound     = errors.New("test not found")
	ErrTestNotAvailable = errors.New("test is not available for taking")

	// Attempt errors. A start against an active attempt resumes it rather
	// than conflicting, so there is no already-started sentinel.
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptNotActive     = errors.New("attempt is not active")
	ErrAttemptNotCompleted  = errors.New("attempt is not completed")
	ErrAttemptArchived      = errors.New("attempt is archived and immutable")
	ErrAttemptLimitExceeded = errors.New("maximum attempts exceeded")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type PermissionError struct {
	StudentID  string `json:"student_id"`
	ResourceID uint   `json:"resource_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

func (pe *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: student %s cannot %s %s %d - %s",
		pe.StudentID, pe.Action, pe.Resource, pe.ResourceID, pe.Reason)
}

// ===== ERROR HELPERS =====

func NewPermissionError(studentID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		StudentID:  studentID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTestNotFound) ||
		errors.Is(err, ErrAttemptNotFound)
}

// IsPermission checks if error represents a permission failure
func IsPermission(err error) bool {
	if errors.Is(err, ErrForbidden) {
		return true
	}
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsConflict checks if error represents a resource conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAttemptLimitExceeded)
}
