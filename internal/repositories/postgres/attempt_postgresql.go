package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db *gorm.DB
}

func NewAttemptPostgreSQL(db *gorm.DB) repositories.AttemptRepository {
	return &AttemptPostgreSQL{db: db}
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, attempt *models.Attempt) error {
	return a.db.WithContext(ctx).Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithAnswers(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Preload("Answers").
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) Update(ctx context.Context, attempt *models.Attempt) error {
	return a.db.WithContext(ctx).Save(attempt).Error
}

func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, testID uint, studentID string) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := a.db.WithContext(ctx).
		Where("test_id = ? AND student_id = ? AND status = ?", testID, studentID, models.AttemptInProgress).
		Order("started_at DESC").
		First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) CountByStudent(ctx context.Context, testID uint, studentID string) (int, error) {
	var count int64
	if err := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("test_id = ? AND student_id = ?", testID, studentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ClaimCompletion guards the completed transition with a conditional update so
// concurrent submit and expiry callers produce exactly one winner.
func (a *AttemptPostgreSQL) ClaimCompletion(ctx context.Context, id uint, submittedAt time.Time, endReason string) (bool, error) {
	res := a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND status = ?", id, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":       models.AttemptCompleted,
			"submitted_at": submittedAt,
			"end_reason":   endReason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (a *AttemptPostgreSQL) SaveResult(ctx context.Context, id uint, result *models.Result) error {
	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal result breakdown: %w", err)
	}

	return a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_marks":       result.TotalMarks,
			"max_marks":         result.MaxMarks,
			"score_percentage":  result.ScorePercentage,
			"correct_count":     result.CorrectAnswers,
			"wrong_count":       result.WrongAnswers,
			"unattempted_count": result.UnattemptedQuestions,
			"time_taken":        result.TimeTaken,
			"breakdown":         breakdown,
		}).Error
}

func (a *AttemptPostgreSQL) UpdateStatus(ctx context.Context, id uint, status models.AttemptStatus) error {
	return a.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (a *AttemptPostgreSQL) GetOverdue(ctx context.Context, cutoff time.Time) ([]*models.Attempt, error) {
	var attempts []*models.Attempt
	if err := a.db.WithContext(ctx).
		Joins("JOIN test_definitions ON test_definitions.id = attempts.test_id").
		Joins("LEFT JOIN test_settings ON test_settings.test_id = attempts.test_id").
		Where("attempts.status = ?", models.AttemptInProgress).
		Where("attempts.started_at + (test_definitions.duration * interval '1 minute') + (COALESCE(test_settings.grace_period_seconds, 0) * interval '1 second') < ?", cutoff).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	var attempts []*models.Attempt
	var total int64

	query := a.db.WithContext(ctx).Model(&models.Attempt{})
	query = applyAttemptFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Test").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

func applyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.TestID != nil {
		query = query.Where("test_id = ?", *filters.TestID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

func applyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	switch sortBy {
	case "submitted_at", "score_percentage", "created_at":
	default:
		sortBy = "created_at"
	}
	if sortOrder != "asc" {
		sortOrder = "desc"
	}
	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}
