package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AnswerValue is the tagged answer payload sent by the client. Exactly one of
// the value fields is meaningful, selected by Type, which must match the
// question's declared type. The scoring engine dispatches on Type rather than
// inferring shape from the payload.
type AnswerValue struct {
	Type     QuestionType      `json:"type" validate:"required,question_type"`
	Selected string            `json:"selected,omitempty"` // single_choice
	Options  []string          `json:"options,omitempty"`  // multi_choice
	Text     string            `json:"text,omitempty"`     // text
	Matches  map[string]string `json:"matches,omitempty"`  // matching
}

// IsEmpty reports whether the value carries no selection. An empty value and
// a missing answer row both count as unattempted.
func (v AnswerValue) IsEmpty() bool {
	switch v.Type {
	case QuestionSingleChoice:
		return v.Selected == ""
	case QuestionMultiChoice:
		return len(v.Options) == 0
	case QuestionText:
		return v.Text == ""
	case QuestionMatching:
		return len(v.Matches) == 0
	}
	return true
}

// Canonical renders the value in the same representation stored correct
// answers use, so scoring reduces to string equality. Multi-choice options are
// sorted; matching pairs are rendered key=value sorted by key.
func (v AnswerValue) Canonical() string {
	switch v.Type {
	case QuestionSingleChoice:
		return v.Selected
	case QuestionMultiChoice:
		opts := make([]string, len(v.Options))
		copy(opts, v.Options)
		sort.Strings(opts)
		return strings.Join(opts, ",")
	case QuestionText:
		return v.Text
	case QuestionMatching:
		keys := make([]string, 0, len(v.Matches))
		for k := range v.Matches {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+v.Matches[k])
		}
		return strings.Join(pairs, ";")
	}
	return ""
}

// DecodeAnswerValue parses a stored answer payload.
func DecodeAnswerValue(data []byte) (AnswerValue, error) {
	var v AnswerValue
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode answer payload: %w", err)
	}
	return v, nil
}

// AnswerRecord is the stored answer for one (attempt, question) pair. At most
// one row exists per pair; writes upsert with last-write-wins.
type AnswerRecord struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_attempt_question"`

	// Tagged AnswerValue payload.
	Answer datatypes.JSON `json:"answer" gorm:"type:jsonb"`

	// Advisory figures filled during auto-save. Authoritative scoring at
	// completion recomputes from scratch and never trusts these.
	IsCorrect    *bool   `json:"is_correct"`
	MarksAwarded float64 `json:"marks_awarded"`

	Flagged   bool `json:"flagged"`
	TimeSpent int  `json:"time_spent"` // seconds

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Attempt  Attempt      `json:"-" gorm:"foreignKey:AttemptID"`
	Question TestQuestion `json:"-" gorm:"foreignKey:QuestionID"`
}

func (AnswerRecord) TableName() string {
	return "answer_records"
}

// Value decodes the stored payload, returning the zero value on a missing
// payload.
func (r *AnswerRecord) Value() (AnswerValue, error) {
	return DecodeAnswerValue(r.Answer)
}
