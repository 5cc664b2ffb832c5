package services

import (
	"context"
	"fmt"

	"github.com/fitzone-app/FitZoneBack/internal/models"
)

const (
	// AdminSupportLabel is the fixed display identity of the club's support
	// inbox. Admin conversations resolve to it unconditionally, whatever
	// user id happens to sit on the other side.
	AdminSupportLabel = "Admin Support"

	fallbackLabel = "User"
)

type trainerReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Trainer, error)
}

type memberProfileReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.MemberProfile, error)
}

// ParticipantResolver turns a conversation's raw party ids into display
// names. Pure lookups; a missing record degrades to a generic label and is
// never an error, so identity problems can't block message display.
type ParticipantResolver struct {
	trainerRepo trainerReader
	profileRepo memberProfileReader
}

func NewParticipantResolver(trainerRepo trainerReader, profileRepo memberProfileReader) *ParticipantResolver {
	return &ParticipantResolver{
		trainerRepo: trainerRepo,
		profileRepo: profileRepo,
	}
}

// ResolveDisplayName names the conversation from the viewer's side: the
// support label for admin conversations, otherwise the counterpart facing
// the viewer.
func (r *ParticipantResolver) ResolveDisplayName(
	ctx context.Context,
	conversation *models.Conversation,
	viewerID int64,
) string {
	if conversation.IsAdmin {
		if viewerID != conversation.MemberID {
			return r.memberName(ctx, conversation.MemberID)
		}
		return AdminSupportLabel
	}

	if viewerID == conversation.MemberID && conversation.TrainerID != nil {
		return r.trainerName(ctx, *conversation.TrainerID)
	}
	return r.memberName(ctx, conversation.MemberID)
}

// ResolveSenderName annotates a single message: "You" for the viewer's own
// messages, the resolved party name otherwise.
func (r *ParticipantResolver) ResolveSenderName(
	ctx context.Context,
	conversation *models.Conversation,
	senderID int64,
	viewerID int64,
) string {
	if senderID == viewerID {
		return "You"
	}
	if senderID == conversation.MemberID {
		return r.memberName(ctx, conversation.MemberID)
	}
	if conversation.TrainerID != nil && senderID == *conversation.TrainerID {
		return r.trainerName(ctx, *conversation.TrainerID)
	}
	if conversation.IsAdmin {
		return AdminSupportLabel
	}
	return fallbackLabel
}

// ResolveSelfName is the name a user publishes under, e.g. on typing
// signals seen by the other party.
func (r *ParticipantResolver) ResolveSelfName(ctx context.Context, userID int64, role string) string {
	if role == RoleTrainer {
		return r.trainerName(ctx, userID)
	}
	if role == RoleAdmin {
		return AdminSupportLabel
	}
	return r.memberName(ctx, userID)
}

func (r *ParticipantResolver) trainerName(ctx context.Context, userID int64) string {
	trainer, err := r.trainerRepo.GetByUserID(ctx, userID)
	if err != nil {
		return fallbackLabel
	}
	return fmt.Sprintf("%s %s", trainer.FirstName, trainer.LastName)
}

func (r *ParticipantResolver) memberName(ctx context.Context, userID int64) string {
	profile, err := r.profileRepo.GetByUserID(ctx, userID)
	if err != nil || profile.FullName == nil || *profile.FullName == "" {
		return fallbackLabel
	}
	return *profile.FullName
}
