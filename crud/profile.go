package crud

import (
	"context"

	"gorm.io/gorm"

	"postboard/domain"
	"postboard/errs"
)

// ProfileService puts together everything a user has written, as seen by a viewer.
type ProfileService struct {
	users userGorm
	posts postGorm
}

// NewProfileService returns an instance of ProfileService.
func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{
		users: userGorm{db: db},
		posts: postGorm{db: db},
	}
}

// Ensure the ProfileService struct properly implements the domain.ProfileService interface.
var _ domain.ProfileService = &ProfileService{}

// ByUserID returns the profile of the user with the given ID: their top-level posts,
// newest first and each with its replies, and every reply they wrote as a flat list.
// Like counts and like flags are computed for viewer. Anonymous viewers like nothing.
func (ps *ProfileService) ByUserID(ctx context.Context, id int, viewer domain.Identity) (*domain.Profile, error) {
	if id <= 0 {
		return nil, errs.IdInvalid
	}
	user, err := ps.users.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	posts, err := ps.posts.ByOwner(ctx, id)
	if err != nil {
		return nil, err
	}
	replies, err := ps.posts.RepliesByOwner(ctx, id)
	if err != nil {
		return nil, err
	}

	replyViews := make([]domain.ReplyView, 0, len(replies))
	for i := range replies {
		replyViews = append(replyViews, domain.NewReplyView(&replies[i], viewer))
	}
	return &domain.Profile{
		User:         *user,
		Posts:        domain.NewPostViews(posts, viewer),
		Replies:      replyViews,
		PostsCount:   len(posts),
		RepliesCount: len(replies),
	}, nil
}
