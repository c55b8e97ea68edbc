package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
)

type AnswerPostgreSQL struct {
	db *gorm.DB
}

func NewAnswerPostgreSQL(db *gorm.DB) repositories.AnswerRepository {
	return &AnswerPostgreSQL{db: db}
}

// answerConflict implements last-write-wins on the (attempt, question) unique
// index.
var answerConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"answer", "is_correct", "marks_awarded", "flagged", "time_spent", "updated_at",
	}),
}

func (r *AnswerPostgreSQL) Upsert(ctx context.Context, answer *models.AnswerRecord) error {
	return r.db.WithContext(ctx).Clauses(answerConflict).Create(answer).Error
}

func (r *AnswerPostgreSQL) UpsertBatch(ctx context.Context, answers []*models.AnswerRecord) error {
	if len(answers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(answerConflict).Create(&answers).Error
}

func (r *AnswerPostgreSQL) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AnswerRecord, error) {
	var answers []*models.AnswerRecord
	if err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("question_id").
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *AnswerPostgreSQL) GetByAttemptAndQuestion(ctx context.Context, attemptID, questionID uint) (*models.AnswerRecord, error) {
	var answer models.AnswerRecord
	if err := r.db.WithContext(ctx).
		Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error; err != nil {
		return nil, err
	}
	return &answer, nil
}

func (r *AnswerPostgreSQL) CountAnswered(ctx context.Context, attemptID uint) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.AnswerRecord{}).
		Where("attempt_id = ? AND answer IS NOT NULL", attemptID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *AnswerPostgreSQL) GetFlaggedQuestions(ctx context.Context, attemptID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.AnswerRecord{}).
		Where("attempt_id = ? AND flagged = true", attemptID).
		Order("question_id").
		Pluck("question_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SetFlagged upserts so a question can be flagged before any answer exists;
// an existing answer payload is left untouched.
func (r *AnswerPostgreSQL) SetFlagged(ctx context.Context, attemptID, questionID uint, flagged bool) error {
	record := &models.AnswerRecord{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Flagged:    flagged,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"flagged", "updated_at"}),
	}).Create(record).Error
}
