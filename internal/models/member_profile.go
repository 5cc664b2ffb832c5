package models

import "time"

type MemberProfile struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
