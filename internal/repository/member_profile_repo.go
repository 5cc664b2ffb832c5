package repository

import (
	"context"

	"github.com/fitzone-app/FitZoneBack/internal/models"
)

type MemberProfileRepository struct {
	db DBTX
}

func NewMemberProfileRepository(db DBTX) *MemberProfileRepository {
	return &MemberProfileRepository{db: db}
}

func (r *MemberProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.MemberProfile, error) {
	query := `
		SELECT id, user_id, full_name, avatar_url, created_at, updated_at
		FROM member_profiles
		WHERE user_id = $1
	`
	var profile models.MemberProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FullName,
		&profile.AvatarURL,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
