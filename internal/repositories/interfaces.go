package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/acadex/attempt-service/internal/models"
)

// Repository aggregates the per-entity repositories. WithTx runs fn against a
// transactional copy; returning an error rolls the transaction back.
type Repository interface {
	Test() TestRepository
	Attempt() AttemptRepository
	Answer() AnswerRepository

	WithTx(ctx context.Context, fn func(Repository) error) error
}

// TestRepository is the read-only question set provider boundary. Test
// definitions are owned by the course-management service.
type TestRepository interface {
	GetByID(ctx context.Context, id uint) (*models.TestDefinition, error)
	GetByIDWithQuestions(ctx context.Context, id uint) (*models.TestDefinition, error)
}

type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (*models.Attempt, error)
	GetByIDWithAnswers(ctx context.Context, id uint) (*models.Attempt, error)
	Update(ctx context.Context, attempt *models.Attempt) error

	// Active attempt management
	GetActiveAttempt(ctx context.Context, testID uint, studentID string) (*models.Attempt, error)
	CountByStudent(ctx context.Context, testID uint, studentID string) (int, error)

	// ClaimCompletion is the atomic single-winner transition in_progress ->
	// completed. It reports whether this caller won the claim; on a lost race
	// the already-stored attempt is authoritative.
	ClaimCompletion(ctx context.Context, id uint, submittedAt time.Time, endReason string) (bool, error)

	// SaveResult persists the scored result columns for a completed attempt.
	SaveResult(ctx context.Context, id uint, result *models.Result) error

	UpdateStatus(ctx context.Context, id uint, status models.AttemptStatus) error

	// GetOverdue returns in_progress attempts whose nominal duration plus
	// grace period elapsed before cutoff. Used by the server-side reaper.
	GetOverdue(ctx context.Context, cutoff time.Time) ([]*models.Attempt, error)

	List(ctx context.Context, filters AttemptFilters) ([]*models.Attempt, int64, error)
}

type AnswerRepository interface {
	// Upsert writes the answer for (attempt, question), last write wins.
	Upsert(ctx context.Context, answer *models.AnswerRecord) error
	UpsertBatch(ctx context.Context, answers []*models.AnswerRecord) error

	GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AnswerRecord, error)
	GetByAttemptAndQuestion(ctx context.Context, attemptID, questionID uint) (*models.AnswerRecord, error)

	CountAnswered(ctx context.Context, attemptID uint) (int, error)
	GetFlaggedQuestions(ctx context.Context, attemptID uint) ([]uint, error)
	SetFlagged(ctx context.Context, attemptID, questionID uint, flagged bool) error
}

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	Status    models.AttemptStatus `json:"status"`
	TestID    *uint                `json:"test_id"`
	StudentID *string              `json:"student_id"`
	DateFrom  *time.Time           `json:"date_from"`
	DateTo    *time.Time           `json:"date_to"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	SortBy    string               `json:"sort_by"`    // "created_at", "submitted_at", "score_percentage"
	SortOrder string               `json:"sort_order"` // "asc", "desc"
}

// ===== SHARED HELPER STRUCTS =====

// AttemptProgress is the presentation-layer progress surface: answered count
// and flagged set, plus totals.
type AttemptProgress struct {
	AttemptID         uint   `json:"attempt_id"`
	QuestionsAnswered int    `json:"questions_answered"`
	TotalQuestions    int    `json:"total_questions"`
	FlaggedQuestions  []uint `json:"flagged_questions"`
}

// IsNotFoundError reports whether err is a store miss.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
