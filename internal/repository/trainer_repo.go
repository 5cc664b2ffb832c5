package repository

import (
	"context"

	"github.com/fitzone-app/FitZoneBack/internal/models"
)

type TrainerRepository struct {
	db DBTX
}

func NewTrainerRepository(db DBTX) *TrainerRepository {
	return &TrainerRepository{db: db}
}

func (r *TrainerRepository) GetByUserID(ctx context.Context, userID int64) (*models.Trainer, error) {
	query := `
		SELECT id, user_id, first_name, last_name, specialty, created_at, updated_at
		FROM trainers
		WHERE user_id = $1
	`
	var trainer models.Trainer
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&trainer.ID,
		&trainer.UserID,
		&trainer.FirstName,
		&trainer.LastName,
		&trainer.Specialty,
		&trainer.CreatedAt,
		&trainer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &trainer, nil
}
