package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/acadex/attempt-service/internal/cache"
	"github.com/acadex/attempt-service/internal/clock"
	"github.com/acadex/attempt-service/internal/events"
	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
	"github.com/acadex/attempt-service/internal/scoring"
	"github.com/acadex/attempt-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	cache     cache.CacheService
	publisher events.EventPublisher
	engine    *scoring.Engine
	logger    *slog.Logger
	validator *validator.Validator
	nowFn     func() time.Time
}

func NewAttemptService(
	repo repositories.Repository,
	cacheService cache.CacheService,
	publisher events.EventPublisher,
	logger *slog.Logger,
	v *validator.Validator,
) AttemptService {
	return &attemptService{
		repo:      repo,
		cache:     cacheService,
		publisher: publisher,
		engine:    scoring.NewEngine(logger),
		logger:    logger,
		validator: v,
		nowFn:     time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest) (*AttemptResponse, error) {
	s.logger.Info("Starting attempt",
		"test_id", req.TestID,
		"student_id", req.StudentID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	test, err := s.getTestDefinition(ctx, req.TestID)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	if !test.AvailableAt(now) {
		return nil, ErrTestNotAvailable
	}

	// Resume an existing active attempt rather than double-starting.
	current, err := s.repo.Attempt().GetActiveAttempt(ctx, req.TestID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active attempt: %w", err)
	}
	if current != nil {
		ts := s.timeStatusFor(current, test)
		if !ts.TestEnded {
			s.logger.Info("Resuming existing attempt", "attempt_id", current.ID)
			return s.buildAttemptResponse(ctx, current, test, true)
		}
		// The active attempt ran out while the student was away; finalize it
		// before deciding whether a new one may start.
		if _, err := s.finalizeExpired(ctx, current); err != nil {
			s.logger.Error("Failed to finalize expired attempt", "attempt_id", current.ID, "error", err)
		}
	}

	count, err := s.repo.Attempt().CountByStudent(ctx, req.TestID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	if !test.Settings.AllowRetake && count >= test.Settings.MaxAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	attempt := &models.Attempt{
		TestID:        req.TestID,
		StudentID:     req.StudentID,
		Status:        models.AttemptInProgress,
		AttemptNumber: count + 1,
		StartedAt:     &now,
		MaxMarks:      test.MaxMarks(),
	}
	if err := s.repo.Attempt().Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publishEvent(ctx, events.EventAttemptStarted, &events.AttemptStartedEvent{
		AttemptID:     attempt.ID,
		TestID:        test.ID,
		TestTitle:     test.Title,
		StudentID:     attempt.StudentID,
		AttemptNumber: attempt.AttemptNumber,
		StartedAt:     now,
		Duration:      test.Duration,
	})

	s.logger.Info("Attempt started",
		"attempt_id", attempt.ID,
		"test_id", req.TestID,
		"student_id", req.StudentID,
		"attempt_number", attempt.AttemptNumber)

	return s.buildAttemptResponse(ctx, attempt, test, false)
}

func (s *attemptService) RecordAnswer(ctx context.Context, attemptID uint, studentID string, req *SubmitAnswerRequest) error {
	if err := s.validator.Validate(req); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	attempt, test, err := s.activeAttempt(ctx, attemptID, studentID, "record_answer")
	if err != nil {
		return err
	}

	record, err := s.buildAnswerRecord(attempt, test, req)
	if err != nil {
		return err
	}

	if err := s.repo.Answer().Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}

	s.logger.Debug("Answer recorded",
		"attempt_id", attemptID,
		"question_id", req.QuestionID)

	return nil
}

func (s *attemptService) AutoSaveBatch(ctx context.Context, attemptID uint, studentID string, req *AutoSaveRequest) (*AutoSaveResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	attempt, test, err := s.activeAttempt(ctx, attemptID, studentID, "auto_save")
	if err != nil {
		return nil, err
	}

	records := make([]*models.AnswerRecord, 0, len(req.Answers))
	for i := range req.Answers {
		record, err := s.buildAnswerRecord(attempt, test, &req.Answers[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := s.repo.WithTx(ctx, func(tx repositories.Repository) error {
		return tx.Answer().UpsertBatch(ctx, records)
	}); err != nil {
		return nil, fmt.Errorf("failed to save answer batch: %w", err)
	}

	ts := s.timeStatusFor(attempt, test)
	resp := &AutoSaveResponse{
		Saved:      len(records),
		TimeStatus: &ts,
	}
	if s.raiseTimeWarning(ctx, attempt, &ts) {
		resp.ShouldWarn = true
		resp.WarningMessage = warningMessage(&ts)
	}

	s.logger.Debug("Auto-save batch applied",
		"attempt_id", attemptID,
		"answers", len(records),
		"remaining_seconds", ts.RemainingSeconds)

	return resp, nil
}

func (s *attemptService) GetTimeStatus(ctx context.Context, attemptID uint) (*clock.TimeStatus, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	// Completed and archived attempts report ended rather than erroring so
	// pollers converge instead of retrying.
	if attempt.Immutable() {
		return &clock.TimeStatus{TestEnded: true, WarningLevel: clock.WarningEnded}, nil
	}

	test, err := s.getTestDefinition(ctx, attempt.TestID)
	if err != nil {
		return nil, err
	}

	ts := s.timeStatusFor(attempt, test)
	return &ts, nil
}

func (s *attemptService) Complete(ctx context.Context, attemptID uint, studentID string, reason string) (*models.Result, error) {
	s.logger.Info("Completing attempt",
		"attempt_id", attemptID,
		"student_id", studentID,
		"reason", reason)

	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if studentID != "" && attempt.StudentID != studentID {
		return nil, NewPermissionError(studentID, attemptID, "attempt", "complete", "not owned by student")
	}

	switch attempt.Status {
	case models.AttemptCompleted:
		// Lost or repeated call: the stored result is authoritative.
		return s.storedResult(attempt)
	case models.AttemptArchived:
		return nil, ErrAttemptArchived
	}

	return s.completeInProgress(ctx, attempt, reason)
}

// completeInProgress claims the completed transition and, on a won claim,
// runs scoring exactly once. The claim, scoring and result persistence share
// one transaction: a failed scoring run rolls the claim back so the attempt
// stays in_progress and the next Complete call retries from scratch instead
// of finding a completed row with empty result columns. Losers read back the
// winner's stored result.
func (s *attemptService) completeInProgress(ctx context.Context, attempt *models.Attempt, reason string) (*models.Result, error) {
	now := s.nowFn()
	if reason == "" {
		reason = models.AttemptEndReasonManual
	}

	var (
		result *models.Result
		won    bool
	)
	err := s.repo.WithTx(ctx, func(tx repositories.Repository) error {
		claimed, err := tx.Attempt().ClaimCompletion(ctx, attempt.ID, now, reason)
		if err != nil {
			return fmt.Errorf("failed to claim completion: %w", err)
		}
		if !claimed {
			fresh, err := tx.Attempt().GetByID(ctx, attempt.ID)
			if err != nil {
				return fmt.Errorf("failed to reload attempt after lost completion race: %w", err)
			}
			result, err = s.storedResult(fresh)
			return err
		}

		test, err := s.getTestDefinition(ctx, attempt.TestID)
		if err != nil {
			return err
		}
		answers, err := tx.Answer().GetByAttempt(ctx, attempt.ID)
		if err != nil {
			return fmt.Errorf("failed to load answers for scoring: %w", err)
		}

		timeTaken := 0
		if attempt.StartedAt != nil {
			timeTaken = int(now.Sub(*attempt.StartedAt).Seconds())
			// Server-side completions run long after the clock ran out;
			// report the allotted time, not how late the sweep was.
			if reason != models.AttemptEndReasonManual {
				if limit := test.Duration*60 + test.Settings.GracePeriodSeconds; timeTaken > limit {
					timeTaken = limit
				}
			}
		}

		result = s.engine.Score(test, answers, timeTaken)
		result.AttemptID = attempt.ID

		if err := tx.Attempt().SaveResult(ctx, attempt.ID, result); err != nil {
			return fmt.Errorf("failed to persist result: %w", err)
		}
		won = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return result, nil
	}

	s.publishEvent(ctx, events.EventAttemptCompleted, &events.AttemptCompletedEvent{
		AttemptID:       attempt.ID,
		TestID:          attempt.TestID,
		StudentID:       attempt.StudentID,
		SubmittedAt:     now,
		EndReason:       reason,
		TotalMarks:      result.TotalMarks,
		MaxMarks:        result.MaxMarks,
		ScorePercentage: result.ScorePercentage,
	})

	s.logger.Info("Attempt completed",
		"attempt_id", attempt.ID,
		"score_percentage", result.ScorePercentage,
		"end_reason", reason)

	return result, nil
}

func (s *attemptService) Result(ctx context.Context, attemptID uint) (*models.Result, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status != models.AttemptCompleted && attempt.Status != models.AttemptArchived {
		return nil, ErrAttemptNotCompleted
	}
	return s.storedResult(attempt)
}

func (s *attemptService) Archive(ctx context.Context, attemptID uint) error {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.Status == models.AttemptArchived {
		return nil
	}
	if attempt.Status != models.AttemptCompleted {
		return ErrAttemptNotCompleted
	}

	if err := s.repo.Attempt().UpdateStatus(ctx, attemptID, models.AttemptArchived); err != nil {
		return fmt.Errorf("failed to archive attempt: %w", err)
	}

	s.publishEvent(ctx, events.EventAttemptArchived, &events.AttemptArchivedEvent{
		AttemptID: attempt.ID,
		TestID:    attempt.TestID,
		StudentID: attempt.StudentID,
	})

	s.logger.Info("Attempt archived", "attempt_id", attemptID)
	return nil
}

func (s *attemptService) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	attempts, total, err := s.repo.Attempt().List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, total, nil
}

// storedResult rebuilds the result from the attempt's persisted columns.
func (s *attemptService) storedResult(attempt *models.Attempt) (*models.Result, error) {
	result := &models.Result{
		AttemptID:            attempt.ID,
		TotalMarks:           attempt.TotalMarks,
		MaxMarks:             attempt.MaxMarks,
		ScorePercentage:      attempt.ScorePercentage,
		CorrectAnswers:       attempt.CorrectCount,
		WrongAnswers:         attempt.WrongCount,
		UnattemptedQuestions: attempt.UnattemptedCount,
		TimeTaken:            attempt.TimeTaken,
	}
	if len(attempt.Breakdown) > 0 {
		if err := json.Unmarshal(attempt.Breakdown, &result.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode stored result breakdown: %w", err)
		}
	}
	return result, nil
}
