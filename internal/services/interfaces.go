package services

import (
	"context"

	"github.com/acadex/attempt-service/internal/clock"
	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
)

// AttemptService owns the timed attempt lifecycle: the state machine, the
// authoritative clock reads, the auto-save protocol, and submission scoring.
type AttemptService interface {
	// Start creates an attempt and transitions it to in_progress in one
	// operation, or resumes an existing unexpired active attempt.
	Start(ctx context.Context, req *StartAttemptRequest) (*AttemptResponse, error)

	// RecordAnswer upserts one answer while the attempt is active.
	RecordAnswer(ctx context.Context, attemptID uint, studentID string, req *SubmitAnswerRequest) error

	// AutoSaveBatch flushes a batch of staged answers and reports the current
	// time status back so clients reconcile their local countdown.
	AutoSaveBatch(ctx context.Context, attemptID uint, studentID string, req *AutoSaveRequest) (*AutoSaveResponse, error)

	// GetTimeStatus never errors for an expired or completed attempt; it
	// reports TestEnded instead.
	GetTimeStatus(ctx context.Context, attemptID uint) (*clock.TimeStatus, error)

	// Complete is idempotent: repeat callers receive the already-computed
	// result. Exactly one caller triggers scoring.
	Complete(ctx context.Context, attemptID uint, studentID string, reason string) (*models.Result, error)

	// Result returns the stored result of a completed attempt.
	Result(ctx context.Context, attemptID uint) (*models.Result, error)

	// Progress reports answered count and flagged questions for display.
	Progress(ctx context.Context, attemptID uint) (*repositories.AttemptProgress, error)

	// FlagQuestion marks a question for review while the attempt is active.
	FlagQuestion(ctx context.Context, attemptID uint, studentID string, questionID uint, flagged bool) error

	// Archive permanently freezes a completed attempt. Administrative.
	Archive(ctx context.Context, attemptID uint) error

	List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error)

	// ExpireOverdue completes every in_progress attempt whose duration plus
	// grace elapsed. Server-side backstop for clients that never came back.
	ExpireOverdue(ctx context.Context) (int, error)
}

// ===== REQUEST / RESPONSE TYPES =====

type StartAttemptRequest struct {
	TestID    uint   `json:"test_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
}

type SubmitAnswerRequest struct {
	QuestionID uint               `json:"question_id" validate:"required"`
	Answer     models.AnswerValue `json:"answer" validate:"required"`
	TimeSpent  int                `json:"time_spent" validate:"min=0"`
	Flagged    bool               `json:"flagged"`
}

type AutoSaveRequest struct {
	Answers []SubmitAnswerRequest `json:"answers" validate:"required,min=1,dive"`
}

type AutoSaveResponse struct {
	Saved          int               `json:"saved"`
	TimeStatus     *clock.TimeStatus `json:"time_status"`
	ShouldWarn     bool              `json:"should_warn"`
	WarningMessage string            `json:"warning_message,omitempty"`
}

// QuestionForAttempt is a question as exposed to the taking student: order,
// marks and any previously stored answer. The correct answer and the advisory
// per-answer scoring figures never appear here.
type QuestionForAttempt struct {
	ID      uint                `json:"id"`
	Order   int                 `json:"order"`
	Type    models.QuestionType `json:"type"`
	Text    string              `json:"text"`
	Options []string            `json:"options,omitempty"`
	Marks   int                 `json:"marks"`

	Answer  *models.AnswerValue `json:"answer,omitempty"`
	Flagged bool                `json:"flagged"`
}

type AttemptResponse struct {
	*models.Attempt
	Resumed    bool                 `json:"resumed"`
	TimeStatus *clock.TimeStatus    `json:"time_status,omitempty"`
	Questions  []QuestionForAttempt `json:"questions,omitempty"`
}
