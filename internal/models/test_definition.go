package models

import (
	"time"

	"gorm.io/gorm"
)

type TestStatus string

const (
	TestStatusDraft    TestStatus = "Draft"
	TestStatusActive   TestStatus = "Active"
	TestStatusExpired  TestStatus = "Expired"
	TestStatusArchived TestStatus = "Archived"
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionText         QuestionType = "text"
	QuestionMatching     QuestionType = "matching"
)

// TestDefinition is read-only input for the attempt lifecycle. It is owned by
// the course-management service; this service never mutates it.
type TestDefinition struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Title       string     `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string    `json:"description" gorm:"type:text" validate:"omitempty,max=1000"`
	Duration    int        `json:"duration" gorm:"not null" validate:"required,min=1,max=600"` // minutes
	Status      TestStatus `json:"status" gorm:"default:Draft;index" validate:"omitempty,oneof=Draft Active Expired Archived"`

	// Scheduling window. Attempts may only start between StartsAt and EndsAt
	// when both are set.
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`

	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Settings  TestSettings   `json:"settings" gorm:"foreignKey:TestID"`
	Questions []TestQuestion `json:"questions" gorm:"foreignKey:TestID"`

	// Computed fields (not stored)
	QuestionsCount int `json:"questions_count" gorm:"-"`
	TotalMarks     int `json:"total_marks" gorm:"-"`
}

type TestSettings struct {
	TestID uint `json:"test_id" gorm:"primaryKey"`

	// Time settings
	GracePeriodSeconds  int  `json:"grace_period_seconds" gorm:"default:0" validate:"min=0,max=900"`
	AutoSubmitOnTimeout bool `json:"auto_submit_on_timeout" gorm:"default:true"`

	// Attempt settings
	MaxAttempts int  `json:"max_attempts" gorm:"default:1" validate:"min=1,max=10"`
	AllowRetake bool `json:"allow_retake" gorm:"default:false"`

	// Scoring settings
	NegativeMarking   bool    `json:"negative_marking" gorm:"default:false"`
	NegativeMarkValue float64 `json:"negative_mark_value" gorm:"default:0" validate:"min=0"`

	// Result settings
	ShowResults        bool `json:"show_results" gorm:"default:true"`
	ShowCorrectAnswers bool `json:"show_correct_answers" gorm:"default:false"`
}

// TestQuestion is one ordered question in a test definition. CorrectAnswer
// holds the exact stored representation the scoring engine compares against;
// comparison is case- and whitespace-sensitive string equality.
type TestQuestion struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	TestID uint `json:"test_id" gorm:"not null;index"`
	Order  int  `json:"order" gorm:"not null"`

	Type    QuestionType `json:"type" gorm:"not null" validate:"required,question_type"`
	Text    string       `json:"text" gorm:"type:text;not null" validate:"required"`
	Options []string     `json:"options" gorm:"serializer:json"`
	Marks   int          `json:"marks" gorm:"not null;default:1" validate:"min=1,max=100"`

	// Stored correct answer, shape depends on Type. For multi_choice it is the
	// canonical sorted comma-joined option list, for matching sorted key=value
	// pairs. Never serve this model to students directly; the attempt surface
	// maps questions through a view that omits it.
	CorrectAnswer string `json:"correct_answer,omitempty" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TestDefinition) TableName() string {
	return "test_definitions"
}

func (TestQuestion) TableName() string {
	return "test_questions"
}

// MaxMarks sums per-question marks. The total-marks invariant on the
// definition is enforced upstream; this recomputes rather than trusting it.
func (t *TestDefinition) MaxMarks() int {
	total := 0
	for _, q := range t.Questions {
		total += q.Marks
	}
	return total
}

// AvailableAt reports whether attempts may start at the given instant.
func (t *TestDefinition) AvailableAt(now time.Time) bool {
	if t.Status != TestStatusActive {
		return false
	}
	if t.StartsAt != nil && now.Before(*t.StartsAt) {
		return false
	}
	if t.EndsAt != nil && now.After(*t.EndsAt) {
		return false
	}
	return true
}
