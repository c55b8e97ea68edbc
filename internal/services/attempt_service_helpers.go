package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/acadex/attempt-service/internal/clock"
	"github.com/acadex/attempt-service/internal/events"
	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
)

const (
	testDefinitionCacheTTL = 5 * time.Minute
	warningDedupeTTL       = 12 * time.Hour
)

// ===== SECONDARY OPERATIONS =====

func (s *attemptService) Progress(ctx context.Context, attemptID uint) (*repositories.AttemptProgress, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	test, err := s.getTestDefinition(ctx, attempt.TestID)
	if err != nil {
		return nil, err
	}

	answered, err := s.repo.Answer().CountAnswered(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to count answered questions: %w", err)
	}
	flagged, err := s.repo.Answer().GetFlaggedQuestions(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get flagged questions: %w", err)
	}

	return &repositories.AttemptProgress{
		AttemptID:         attemptID,
		QuestionsAnswered: answered,
		TotalQuestions:    len(test.Questions),
		FlaggedQuestions:  flagged,
	}, nil
}

func (s *attemptService) FlagQuestion(ctx context.Context, attemptID uint, studentID string, questionID uint, flagged bool) error {
	attempt, test, err := s.activeAttempt(ctx, attemptID, studentID, "flag_question")
	if err != nil {
		return err
	}

	if findQuestion(test, questionID) == nil {
		return fmt.Errorf("%w: question %d is not part of test %d", ErrValidationFailed, questionID, attempt.TestID)
	}

	if err := s.repo.Answer().SetFlagged(ctx, attemptID, questionID, flagged); err != nil {
		return fmt.Errorf("failed to update flag: %w", err)
	}
	return nil
}

func (s *attemptService) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.nowFn()
	overdue, err := s.repo.Attempt().GetOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query overdue attempts: %w", err)
	}

	expired := 0
	for _, attempt := range overdue {
		if _, err := s.completeInProgress(ctx, attempt, models.AttemptEndReasonReaper); err != nil {
			s.logger.Error("Failed to expire overdue attempt",
				"attempt_id", attempt.ID,
				"error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired overdue attempts", "count", expired)
	}
	return expired, nil
}

// ===== INTERNAL HELPERS =====

// getTestDefinition loads a test with its questions, through the cache. Test
// definitions change rarely, so a short TTL is enough to absorb the per-save
// read load.
func (s *attemptService) getTestDefinition(ctx context.Context, testID uint) (*models.TestDefinition, error) {
	cacheKey := fmt.Sprintf("test:%d:def", testID)

	var cached models.TestDefinition
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	}

	test, err := s.repo.Test().GetByIDWithQuestions(ctx, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test definition: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey, test, testDefinitionCacheTTL); err != nil {
		s.logger.Warn("Failed to cache test definition", "test_id", testID, "error", err)
	}
	return test, nil
}

// activeAttempt loads the attempt and its test and enforces every write-path
// guard: ownership, status, and the clock. A grace-period attempt still
// accepts writes; an ended one is finalized here and the write rejected.
func (s *attemptService) activeAttempt(ctx context.Context, attemptID uint, studentID, action string) (*models.Attempt, *models.TestDefinition, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if studentID != "" && attempt.StudentID != studentID {
		return nil, nil, NewPermissionError(studentID, attemptID, "attempt", action, "not owned by student")
	}
	if !attempt.IsActive() {
		return nil, nil, ErrAttemptNotActive
	}

	test, err := s.getTestDefinition(ctx, attempt.TestID)
	if err != nil {
		return nil, nil, err
	}

	ts := s.timeStatusFor(attempt, test)
	if ts.TestEnded {
		if _, err := s.finalizeExpired(ctx, attempt); err != nil {
			s.logger.Error("Failed to finalize expired attempt",
				"attempt_id", attempt.ID,
				"error", err)
		}
		return nil, nil, ErrAttemptNotActive
	}

	return attempt, test, nil
}

func (s *attemptService) timeStatusFor(attempt *models.Attempt, test *models.TestDefinition) clock.TimeStatus {
	if attempt.StartedAt == nil {
		return clock.TimeStatus{RemainingSeconds: test.Duration * 60}
	}
	return clock.Compute(s.nowFn(), *attempt.StartedAt, test.Duration, test.Settings.GracePeriodSeconds)
}

// finalizeExpired completes an attempt whose clock ran out without the client
// submitting. The stored answers are scored as-is.
func (s *attemptService) finalizeExpired(ctx context.Context, attempt *models.Attempt) (*models.Result, error) {
	return s.completeInProgress(ctx, attempt, models.AttemptEndReasonTimeout)
}

// buildAnswerRecord validates the submitted value against its question and
// attaches advisory scoring figures. Authoritative scoring at completion
// ignores these.
func (s *attemptService) buildAnswerRecord(attempt *models.Attempt, test *models.TestDefinition, req *SubmitAnswerRequest) (*models.AnswerRecord, error) {
	question := findQuestion(test, req.QuestionID)
	if question == nil {
		return nil, fmt.Errorf("%w: question %d is not part of test %d", ErrValidationFailed, req.QuestionID, test.ID)
	}

	if err := s.validator.Answer().ValidateValue(question, req.Answer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	payload, err := json.Marshal(req.Answer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer: %w", err)
	}

	record := &models.AnswerRecord{
		AttemptID:  attempt.ID,
		QuestionID: req.QuestionID,
		Answer:     datatypes.JSON(payload),
		Flagged:    req.Flagged,
		TimeSpent:  req.TimeSpent,
	}

	if !req.Answer.IsEmpty() {
		score := s.engine.ScoreQuestion(question, record, &test.Settings)
		record.IsCorrect = &score.IsCorrect
		record.MarksAwarded = score.MarksAwarded
	}
	return record, nil
}

// raiseTimeWarning publishes at most one warning event per (attempt, level),
// deduplicated through the cache so concurrent saves and pollers agree.
func (s *attemptService) raiseTimeWarning(ctx context.Context, attempt *models.Attempt, ts *clock.TimeStatus) bool {
	if ts.WarningLevel.Severity() == 0 || ts.WarningLevel == clock.WarningEnded {
		return false
	}

	key := fmt.Sprintf("attempt:%d:warned:%s", attempt.ID, ts.WarningLevel)
	first, err := s.cache.SetNX(ctx, key, true, warningDedupeTTL)
	if err != nil {
		s.logger.Warn("Failed to deduplicate time warning", "attempt_id", attempt.ID, "error", err)
		return false
	}
	if !first {
		return false
	}

	s.publishEvent(ctx, events.EventAttemptTimeWarning, &events.AttemptTimeWarningEvent{
		AttemptID:        attempt.ID,
		TestID:           attempt.TestID,
		StudentID:        attempt.StudentID,
		WarningLevel:     ts.WarningLevel,
		RemainingSeconds: ts.RemainingSeconds,
	})
	return true
}

func warningMessage(ts *clock.TimeStatus) string {
	if ts.InGracePeriod {
		return fmt.Sprintf("Time is up. Your attempt submits automatically in %d seconds.", ts.GraceRemainingSeconds)
	}
	switch ts.WarningLevel {
	case clock.WarningCritical:
		return fmt.Sprintf("Less than a minute remaining: %d seconds left.", ts.RemainingSeconds)
	case clock.WarningWarning:
		return fmt.Sprintf("%d minutes remaining.", ts.RemainingSeconds/60)
	case clock.WarningNotice:
		return fmt.Sprintf("%d minutes remaining.", ts.RemainingSeconds/60)
	}
	return ""
}

func (s *attemptService) buildAttemptResponse(ctx context.Context, attempt *models.Attempt, test *models.TestDefinition, resumed bool) (*AttemptResponse, error) {
	ts := s.timeStatusFor(attempt, test)

	var existing map[uint]*models.AnswerRecord
	if resumed {
		answers, err := s.repo.Answer().GetByAttempt(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing answers: %w", err)
		}
		existing = make(map[uint]*models.AnswerRecord, len(answers))
		for _, a := range answers {
			existing[a.QuestionID] = a
		}
	}

	questions := make([]QuestionForAttempt, 0, len(test.Questions))
	for i := range test.Questions {
		q := test.Questions[i]
		view := QuestionForAttempt{
			ID:      q.ID,
			Order:   q.Order,
			Type:    q.Type,
			Text:    q.Text,
			Options: q.Options,
			Marks:   q.Marks,
		}
		if record := existing[q.ID]; record != nil {
			view.Flagged = record.Flagged
			if value, err := record.Value(); err == nil && !value.IsEmpty() {
				view.Answer = &value
			}
		}
		questions = append(questions, view)
	}

	return &AttemptResponse{
		Attempt:    attempt,
		Resumed:    resumed,
		TimeStatus: &ts,
		Questions:  questions,
	}, nil
}

func (s *attemptService) publishEvent(ctx context.Context, eventType events.EventType, data interface{}) {
	event := &events.AttemptEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: s.nowFn(),
		Source:    "attempt-service",
		Version:   "1.0",
		Data:      data,
	}
	if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
		// Events are best-effort; the attempt state machine never depends on
		// the broker being reachable.
		s.logger.Error("Failed to publish event",
			"event_type", eventType,
			"error", err)
	}
}

func findQuestion(test *models.TestDefinition, questionID uint) *models.TestQuestion {
	for i := range test.Questions {
		if test.Questions[i].ID == questionID {
			return &test.Questions[i]
		}
	}
	return nil
}
