package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptArchived   AttemptStatus = "archived"
)

const (
	AttemptEndReasonManual  = "manual_submit"
	AttemptEndReasonTimeout = "time_out"
	AttemptEndReasonReaper  = "server_expired"
)

// Attempt is one student's run of a test definition. StartedAt is set exactly
// once when the attempt transitions to in_progress and never changes after.
// SubmittedAt is set by the first caller that wins the completion claim.
type Attempt struct {
	ID        uint          `json:"id" gorm:"primaryKey"`
	TestID    uint          `json:"test_id" gorm:"not null;index:idx_attempt_test_student"`
	StudentID string        `json:"student_id" gorm:"not null;index:idx_attempt_test_student;size:255"`
	Status    AttemptStatus `json:"status" gorm:"default:in_progress;index"`

	AttemptNumber int `json:"attempt_number" gorm:"not null;default:1"`

	// Timing
	StartedAt   *time.Time `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	TimeTaken   int        `json:"time_taken"` // seconds, set at completion
	EndReason   *string    `json:"end_reason" gorm:"type:text"`

	// Result, written once by the completion claim winner.
	TotalMarks       float64        `json:"total_marks"`
	MaxMarks         int            `json:"max_marks"`
	ScorePercentage  int            `json:"score_percentage"`
	CorrectCount     int            `json:"correct_count"`
	WrongCount       int            `json:"wrong_count"`
	UnattemptedCount int            `json:"unattempted_count"`
	Breakdown        datatypes.JSON `json:"breakdown,omitempty" gorm:"type:jsonb"` // []QuestionScore

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test    TestDefinition `json:"test" gorm:"foreignKey:TestID"`
	Answers []AnswerRecord `json:"answers" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// IsActive reports whether the attempt still accepts answer writes, ignoring
// the clock. Callers must additionally consult the attempt clock.
func (a *Attempt) IsActive() bool {
	return a.Status == AttemptInProgress
}

// Immutable reports whether the attempt permanently rejects mutation.
func (a *Attempt) Immutable() bool {
	return a.Status == AttemptCompleted || a.Status == AttemptArchived
}

// Result is the scored outcome of a completed attempt, derived from the full
// answer set at completion time and immutable once written.
type Result struct {
	AttemptID        uint            `json:"attempt_id"`
	TotalMarks       float64         `json:"total_marks"`
	MaxMarks         int             `json:"max_marks"`
	ScorePercentage  int             `json:"score_percentage"`
	CorrectAnswers   int             `json:"correct_answers"`
	WrongAnswers     int             `json:"wrong_answers"`
	UnattemptedQuestions int         `json:"unattempted_questions"`
	TimeTaken        int             `json:"time_taken"` // seconds
	Breakdown        []QuestionScore `json:"breakdown,omitempty"`
}

// QuestionScore is the per-question line of a result breakdown.
type QuestionScore struct {
	QuestionID   uint    `json:"question_id"`
	Attempted    bool    `json:"attempted"`
	IsCorrect    bool    `json:"is_correct"`
	MarksAwarded float64 `json:"marks_awarded"`
	MaxMarks     int     `json:"max_marks"`
}
