package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/acadex/attempt-service/internal/models"
)

// Validator combines struct-tag validation with answer-shape validation.
type Validator struct {
	structValidator *validator.Validate
	answerValidator *AnswerValidator
}

// New creates the centralized validator instance.
func New() *Validator {
	structValidator := validator.New()
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator: structValidator,
		answerValidator: NewAnswerValidator(),
	}
}

// ValidateStruct validates struct tags only.
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.structValidator.Struct(s)
}

// Validate performs complete validation, converting tag failures to the
// shared ValidationErrors type so callers can classify them.
func (v *Validator) Validate(s interface{}) error {
	if err := v.ValidateStruct(s); err != nil {
		if converted := ToValidationErrors(err); len(converted) > 0 {
			return converted
		}
		return err
	}
	return nil
}

// Answer returns the answer-shape validator.
func (v *Validator) Answer() *AnswerValidator {
	return v.answerValidator
}

func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("question_type", validateQuestionType)
	validate.RegisterValidation("attempt_status", validateAttemptStatus)
	validate.RegisterValidation("test_status", validateTestStatus)

	// Use JSON field names in error messages.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateQuestionType(fl validator.FieldLevel) bool {
	switch models.QuestionType(fl.Field().String()) {
	case models.QuestionSingleChoice, models.QuestionMultiChoice, models.QuestionText, models.QuestionMatching:
		return true
	}
	return false
}

func validateAttemptStatus(fl validator.FieldLevel) bool {
	switch models.AttemptStatus(fl.Field().String()) {
	case models.AttemptNotStarted, models.AttemptInProgress, models.AttemptCompleted, models.AttemptArchived:
		return true
	}
	return false
}

func validateTestStatus(fl validator.FieldLevel) bool {
	switch models.TestStatus(fl.Field().String()) {
	case models.TestStatusDraft, models.TestStatusActive, models.TestStatusExpired, models.TestStatusArchived:
		return true
	}
	return false
}

// AnswerValidator checks that an answer value's shape matches the declared
// question type before it is stored.
type AnswerValidator struct{}

func NewAnswerValidator() *AnswerValidator {
	return &AnswerValidator{}
}

// ValidateValue checks value against the question's declared type. An empty
// value is always valid: clearing a selection is a legitimate write.
func (v *AnswerValidator) ValidateValue(q *models.TestQuestion, value models.AnswerValue) error {
	if value.Type != q.Type {
		return fmt.Errorf("answer type %q does not match question type %q", value.Type, q.Type)
	}
	if value.IsEmpty() {
		return nil
	}

	switch q.Type {
	case models.QuestionSingleChoice:
		if !optionKnown(q.Options, value.Selected) {
			return fmt.Errorf("selected option %q is not among the question's options", value.Selected)
		}
	case models.QuestionMultiChoice:
		for _, opt := range value.Options {
			if !optionKnown(q.Options, opt) {
				return fmt.Errorf("selected option %q is not among the question's options", opt)
			}
		}
	case models.QuestionText:
		// Free text, nothing to check beyond the type tag.
	case models.QuestionMatching:
		// Keys are question-defined; unknown keys are caught at scoring time.
	default:
		return fmt.Errorf("unsupported question type: %s", q.Type)
	}
	return nil
}

func optionKnown(options []string, candidate string) bool {
	// Questions without a stored option list accept any selection.
	if len(options) == 0 {
		return true
	}
	for _, opt := range options {
		if opt == candidate {
			return true
		}
	}
	return false
}
