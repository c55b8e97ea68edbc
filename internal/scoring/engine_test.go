package scoring

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/attempt-service/internal/models"
)

func testEngine() *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func singleChoiceTest(numQuestions int) *models.TestDefinition {
	test := &models.TestDefinition{
		ID:       1,
		Title:    "Unit test",
		Duration: 30,
		Status:   models.TestStatusActive,
	}
	for i := 1; i <= numQuestions; i++ {
		test.Questions = append(test.Questions, models.TestQuestion{
			ID:            uint(i),
			TestID:        1,
			Order:         i,
			Type:          models.QuestionSingleChoice,
			Text:          "q",
			Options:       []string{"A", "B", "C", "D"},
			Marks:         1,
			CorrectAnswer: "B",
		})
	}
	return test
}

func answerFor(t *testing.T, attemptID, questionID uint, value models.AnswerValue) *models.AnswerRecord {
	t.Helper()
	payload, err := json.Marshal(value)
	require.NoError(t, err)
	return &models.AnswerRecord{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Answer:     payload,
	}
}

func TestScore_OnTimeSubmit(t *testing.T) {
	test := singleChoiceTest(10)

	var answers []*models.AnswerRecord
	for i := 1; i <= 7; i++ {
		answers = append(answers, answerFor(t, 1, uint(i), models.AnswerValue{
			Type: models.QuestionSingleChoice, Selected: "B",
		}))
	}
	for i := 8; i <= 10; i++ {
		answers = append(answers, answerFor(t, 1, uint(i), models.AnswerValue{
			Type: models.QuestionSingleChoice, Selected: "A",
		}))
	}

	result := testEngine().Score(test, answers, 1200)

	assert.Equal(t, float64(7), result.TotalMarks)
	assert.Equal(t, 10, result.MaxMarks)
	assert.Equal(t, 70, result.ScorePercentage)
	assert.Equal(t, 7, result.CorrectAnswers)
	assert.Equal(t, 3, result.WrongAnswers)
	assert.Equal(t, 0, result.UnattemptedQuestions)
	assert.Equal(t, 1200, result.TimeTaken)
}

func TestScore_UnattemptedQuestions(t *testing.T) {
	test := singleChoiceTest(5)

	// Questions 1-3 answered, 4 has an explicit empty selection, 5 has no row.
	answers := []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		answerFor(t, 1, 2, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		answerFor(t, 1, 3, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "C"}),
		answerFor(t, 1, 4, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: ""}),
	}

	result := testEngine().Score(test, answers, 600)

	assert.Equal(t, 2, result.CorrectAnswers)
	assert.Equal(t, 1, result.WrongAnswers)
	assert.Equal(t, 2, result.UnattemptedQuestions)
	assert.Equal(t, 5, result.CorrectAnswers+result.WrongAnswers+result.UnattemptedQuestions)
	assert.Equal(t, float64(2), result.TotalMarks)
}

func TestScore_UnattemptedNeverPenalized(t *testing.T) {
	test := singleChoiceTest(5)
	test.Settings = models.TestSettings{NegativeMarking: true, NegativeMarkValue: 0.5}

	answers := []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		answerFor(t, 1, 2, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		answerFor(t, 1, 3, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
	}

	result := testEngine().Score(test, answers, 600)

	assert.Equal(t, 2, result.UnattemptedQuestions)
	assert.Equal(t, float64(3), result.TotalMarks)
	for _, qs := range result.Breakdown {
		if !qs.Attempted {
			assert.Zero(t, qs.MarksAwarded)
		}
	}
}

func TestScore_NegativeMarkingFloorsAtZero(t *testing.T) {
	test := singleChoiceTest(3)
	test.Settings = models.TestSettings{NegativeMarking: true, NegativeMarkValue: 2}

	answers := []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "A"}),
		answerFor(t, 1, 2, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "A"}),
		answerFor(t, 1, 3, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
	}

	result := testEngine().Score(test, answers, 60)

	// 1 - 2 - 2 would be -3; the total is floored at zero.
	assert.Equal(t, float64(0), result.TotalMarks)
	assert.Equal(t, 0, result.ScorePercentage)
	assert.Equal(t, 1, result.CorrectAnswers)
	assert.Equal(t, 2, result.WrongAnswers)
}

func TestScore_Deterministic(t *testing.T) {
	test := singleChoiceTest(6)
	answers := []*models.AnswerRecord{
		answerFor(t, 1, 2, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		answerFor(t, 1, 5, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "D"}),
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
	}

	engine := testEngine()
	first := engine.Score(test, answers, 300)
	second := engine.Score(test, answers, 300)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestScore_UnknownQuestionExcluded(t *testing.T) {
	test := singleChoiceTest(2)
	answers := []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
		// Stale row from a question no longer in the definition.
		answerFor(t, 1, 99, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: "B"}),
	}

	result := testEngine().Score(test, answers, 60)

	assert.Equal(t, 1, result.CorrectAnswers)
	assert.Equal(t, 1, result.UnattemptedQuestions)
	assert.Len(t, result.Breakdown, 2)
	assert.Equal(t, float64(1), result.TotalMarks)
}

func TestScore_ExactStringEquality(t *testing.T) {
	test := singleChoiceTest(1)

	// Case and whitespace differences are wrong answers, not fuzzy matches.
	for _, selected := range []string{"b", " B", "B "} {
		answers := []*models.AnswerRecord{
			answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionSingleChoice, Selected: selected}),
		}
		result := testEngine().Score(test, answers, 10)
		assert.Equal(t, 1, result.WrongAnswers, "selected %q must not match", selected)
	}
}

func TestScore_MultiChoiceOrderInsensitive(t *testing.T) {
	test := &models.TestDefinition{
		ID: 1, Duration: 10, Status: models.TestStatusActive,
		Questions: []models.TestQuestion{{
			ID: 1, TestID: 1, Order: 1,
			Type:          models.QuestionMultiChoice,
			Options:       []string{"A", "B", "C", "D"},
			Marks:         4,
			CorrectAnswer: "A,D",
		}},
	}

	result := testEngine().Score(test, []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionMultiChoice, Options: []string{"D", "A"}}),
	}, 10)
	assert.Equal(t, 1, result.CorrectAnswers)
	assert.Equal(t, float64(4), result.TotalMarks)

	// Extra selection breaks exact-set equality.
	result = testEngine().Score(test, []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionMultiChoice, Options: []string{"A", "D", "B"}}),
	}, 10)
	assert.Equal(t, 1, result.WrongAnswers)
}

func TestScore_TypeMismatchIsWrong(t *testing.T) {
	test := singleChoiceTest(1)

	result := testEngine().Score(test, []*models.AnswerRecord{
		answerFor(t, 1, 1, models.AnswerValue{Type: models.QuestionText, Text: "B"}),
	}, 10)

	assert.Equal(t, 1, result.WrongAnswers)
	assert.Equal(t, float64(0), result.TotalMarks)
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 0, Percentage(5, 0))
	assert.Equal(t, 70, Percentage(7, 10))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 100, Percentage(10, 10))
}
