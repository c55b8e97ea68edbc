package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/acadex/attempt-service/internal/repositories"
)

type repository struct {
	db      *gorm.DB
	test    repositories.TestRepository
	attempt repositories.AttemptRepository
	answer  repositories.AnswerRepository
}

func NewRepository(db *gorm.DB) repositories.Repository {
	return &repository{
		db:      db,
		test:    NewTestPostgreSQL(db),
		attempt: NewAttemptPostgreSQL(db),
		answer:  NewAnswerPostgreSQL(db),
	}
}

func (r *repository) Test() repositories.TestRepository       { return r.test }
func (r *repository) Attempt() repositories.AttemptRepository { return r.attempt }
func (r *repository) Answer() repositories.AnswerRepository   { return r.answer }

func (r *repository) WithTx(ctx context.Context, fn func(repositories.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
