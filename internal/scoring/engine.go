// Package scoring computes the final result of a completed attempt from the
// stored answer set and the test definition. Scoring is deterministic and
// replayable: the same inputs always produce the same result, which lets the
// completion claim race safely.
package scoring

import (
	"log/slog"
	"math"
	"sort"

	"github.com/acadex/attempt-service/internal/models"
)

type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Score grades the full answer set against the test definition. Questions in
// definition order; answers not matching any question are a data-integrity
// fault: logged and excluded rather than fatal. Answer rows with an empty or
// undecodable payload count as unattempted.
func (e *Engine) Score(test *models.TestDefinition, answers []*models.AnswerRecord, timeTaken int) *models.Result {
	byQuestion := make(map[uint]*models.AnswerRecord, len(answers))
	known := make(map[uint]bool, len(test.Questions))
	for _, q := range test.Questions {
		known[q.ID] = true
	}
	for _, ans := range answers {
		if !known[ans.QuestionID] {
			e.logger.Error("Answer references question not in test definition, excluding from scoring",
				"attempt_id", ans.AttemptID,
				"question_id", ans.QuestionID,
				"test_id", test.ID)
			continue
		}
		byQuestion[ans.QuestionID] = ans
	}

	questions := make([]models.TestQuestion, len(test.Questions))
	copy(questions, test.Questions)
	sort.Slice(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })

	result := &models.Result{
		MaxMarks:  test.MaxMarks(),
		TimeTaken: timeTaken,
		Breakdown: make([]models.QuestionScore, 0, len(questions)),
	}

	for _, q := range questions {
		qs := e.scoreQuestion(&q, byQuestion[q.ID], &test.Settings)
		switch {
		case !qs.Attempted:
			result.UnattemptedQuestions++
		case qs.IsCorrect:
			result.CorrectAnswers++
		default:
			result.WrongAnswers++
		}
		result.TotalMarks += qs.MarksAwarded
		result.Breakdown = append(result.Breakdown, qs)
	}

	// Aggregate floor: negative marking never drives the total below zero.
	if result.TotalMarks < 0 {
		result.TotalMarks = 0
	}
	result.ScorePercentage = Percentage(result.TotalMarks, result.MaxMarks)

	return result
}

// ScoreQuestion grades a single answer. Also used by auto-save to fill the
// advisory per-answer figures; the completion-time pass recomputes everything.
func (e *Engine) ScoreQuestion(q *models.TestQuestion, ans *models.AnswerRecord, settings *models.TestSettings) models.QuestionScore {
	return e.scoreQuestion(q, ans, settings)
}

func (e *Engine) scoreQuestion(q *models.TestQuestion, ans *models.AnswerRecord, settings *models.TestSettings) models.QuestionScore {
	qs := models.QuestionScore{
		QuestionID: q.ID,
		MaxMarks:   q.Marks,
	}

	if ans == nil {
		return qs
	}
	value, err := ans.Value()
	if err != nil {
		e.logger.Error("Undecodable answer payload, scoring as unattempted",
			"attempt_id", ans.AttemptID,
			"question_id", ans.QuestionID,
			"error", err)
		return qs
	}
	if value.IsEmpty() {
		return qs
	}

	qs.Attempted = true
	// Exact string equality against the stored representation; no trimming,
	// no case folding.
	qs.IsCorrect = value.Type == q.Type && value.Canonical() == q.CorrectAnswer

	if qs.IsCorrect {
		qs.MarksAwarded = float64(q.Marks)
	} else if settings != nil && settings.NegativeMarking {
		qs.MarksAwarded = -settings.NegativeMarkValue
	}

	return qs
}

// Percentage rounds total/max to the nearest whole percent, guarding the
// zero-max case.
func Percentage(total float64, max int) int {
	if max == 0 {
		return 0
	}
	return int(math.Round(total / float64(max) * 100))
}
