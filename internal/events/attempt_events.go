package events

import (
	"time"

	"github.com/acadex/attempt-service/internal/clock"
)

// EventType represents the attempt lifecycle events published for the
// external notification service.
type EventType string

const (
	EventAttemptStarted     EventType = "attempt.started"
	EventAttemptTimeWarning EventType = "attempt.time_warning"
	EventAttemptCompleted   EventType = "attempt.completed"
	EventAttemptArchived    EventType = "attempt.archived"
)

// AttemptEvent is the envelope for all published events.
type AttemptEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type AttemptStartedEvent struct {
	AttemptID     uint      `json:"attempt_id"`
	TestID        uint      `json:"test_id"`
	TestTitle     string    `json:"test_title"`
	StudentID     string    `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	Duration      int       `json:"duration"` // minutes
}

type AttemptTimeWarningEvent struct {
	AttemptID        uint               `json:"attempt_id"`
	TestID           uint               `json:"test_id"`
	StudentID        string             `json:"student_id"`
	WarningLevel     clock.WarningLevel `json:"warning_level"`
	RemainingSeconds int                `json:"remaining_seconds"`
}

type AttemptCompletedEvent struct {
	AttemptID       uint      `json:"attempt_id"`
	TestID          uint      `json:"test_id"`
	StudentID       string    `json:"student_id"`
	SubmittedAt     time.Time `json:"submitted_at"`
	EndReason       string    `json:"end_reason"`
	TotalMarks      float64   `json:"total_marks"`
	MaxMarks        int       `json:"max_marks"`
	ScorePercentage int       `json:"score_percentage"`
}

type AttemptArchivedEvent struct {
	AttemptID uint   `json:"attempt_id"`
	TestID    uint   `json:"test_id"`
	StudentID string `json:"student_id"`
}
