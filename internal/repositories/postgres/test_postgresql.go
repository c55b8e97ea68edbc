package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/repositories"
)

type TestPostgreSQL struct {
	db *gorm.DB
}

func NewTestPostgreSQL(db *gorm.DB) repositories.TestRepository {
	return &TestPostgreSQL{db: db}
}

func (t *TestPostgreSQL) GetByID(ctx context.Context, id uint) (*models.TestDefinition, error) {
	var test models.TestDefinition
	if err := t.db.WithContext(ctx).
		Preload("Settings").
		First(&test, id).Error; err != nil {
		return nil, err
	}
	return &test, nil
}

func (t *TestPostgreSQL) GetByIDWithQuestions(ctx context.Context, id uint) (*models.TestDefinition, error) {
	var test models.TestDefinition
	if err := t.db.WithContext(ctx).
		Preload("Settings").
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("test_questions.\"order\"")
		}).
		First(&test, id).Error; err != nil {
		return nil, err
	}
	test.QuestionsCount = len(test.Questions)
	test.TotalMarks = test.MaxMarks()
	return &test, nil
}
