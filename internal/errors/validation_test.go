package errors

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("student_id", "is required", "")

	assert.Equal(t, "student_id", err.Field)
	assert.Equal(t, "is required", err.Message)
	assert.Equal(t, "", err.Value)
	assert.Equal(t, "validation error on field 'student_id': is required", err.Error())
}

func TestValidationErrors_Message(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "validation failed", errs.Error())

	errs = append(errs, *NewValidationError("test_id", "is required", nil))
	assert.Equal(t, "validation failed: test_id is required", errs.Error())

	errs = append(errs, *NewValidationError("question_id", "is required", nil))
	assert.Equal(t, "validation failed: 2 field errors", errs.Error())
}

func TestNewValidationErrorWithRule(t *testing.T) {
	err := NewValidationErrorWithRule("duration_minutes", "must be between 1 and 600 minutes", "test_duration", 0)

	assert.Equal(t, "test_duration", err.Rule)
	assert.Equal(t, "duration_minutes", err.Field)
}

func TestToValidationErrors(t *testing.T) {
	type startPayload struct {
		TestID    uint   `validate:"required"`
		StudentID string `validate:"required"`
		Status    string `validate:"omitempty,oneof=in_progress completed"`
	}

	v := validator.New()
	err := v.Struct(startPayload{Status: "archived"})
	assert.Error(t, err)

	converted := ToValidationErrors(err)
	assert.Len(t, converted, 3)

	byField := map[string]ValidationError{}
	for _, fe := range converted {
		byField[fe.Field] = fe
	}
	assert.Equal(t, "is required", byField["TestID"].Message)
	assert.Equal(t, "required", byField["StudentID"].Rule)
	assert.Equal(t, "must be one of: in_progress completed", byField["Status"].Message)

	// Non-validator errors convert to nothing.
	assert.Empty(t, ToValidationErrors(assert.AnError))
}
