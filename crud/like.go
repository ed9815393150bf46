package crud

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"postboard/domain"
	"postboard/errs"
)

// toggleAttempts is how often Toggle retries after losing a race on the unique index.
const toggleAttempts = 3

// LikeService manages Likes.
// It implements the domain.LikeService interface.
type LikeService struct {
	likeValidator
}

// likeValidator runs validations on incoming Like data.
// On success, it passes the data on to likeGorm.
// Otherwise, it returns the error of the validation that has failed.
type likeValidator struct {
	likeGorm
}

// likeGorm runs CRUD operations on the database using incoming Like data.
// It assumes that data has been validated. On success, it returns nil.
// Otherwise, it returns the error of the operation that has failed.
type likeGorm struct {
	db *gorm.DB
}

// NewLikeService returns an instance of LikeService.
func NewLikeService(db *gorm.DB) *LikeService {
	return &LikeService{
		likeValidator{
			likeGorm{
				db: db,
			},
		},
	}
}

// Ensure the LikeService struct properly implements the domain.LikeService interface.
// If it does not, then this expression becomes invalid and won't compile.
var _ domain.LikeService = &LikeService{}

// Toggle runs validations needed for liking or unliking a post, then flips the like.
func (lv *likeValidator) Toggle(ctx context.Context, userID, postID int) (*domain.LikeToggle, error) {
	like := domain.Like{UserID: userID, PostID: postID}
	err := runLikeValFns(ctx, &like,
		lv.userIdValid,
		lv.likedPostExists)
	if err != nil {
		return nil, err
	}
	return lv.likeGorm.Toggle(ctx, &like)
}

// ByPost returns the likes of a post, oldest first.
func (lv *likeValidator) ByPost(ctx context.Context, postID int) ([]domain.Like, error) {
	if err := lv.likedPostExists(ctx, &domain.Like{PostID: postID}); err != nil {
		return nil, err
	}
	return lv.likeGorm.ByPost(ctx, postID)
}

// runLikeValFns runs any number of functions of type likeValFn on the passed in Like object.
// If none of them returns an error, it returns nil. Otherwise, it returns the respective error.
func runLikeValFns(ctx context.Context, like *domain.Like, fns ...likeValFn) error {
	for _, fn := range fns {
		if err := fn(ctx, like); err != nil {
			return err
		}
	}
	return nil
}

// A likeValFn is any function that takes in a pointer to a domain.Like object and returns an error.
type likeValFn func(ctx context.Context, like *domain.Like) error

// likedPostExists makes sure that the post to be liked actually exists.
func (lv *likeValidator) likedPostExists(ctx context.Context, like *domain.Like) error {
	if like.PostID <= 0 {
		return errs.IdInvalid
	}
	return first(lv.db.WithContext(ctx).Where("id = ?", like.PostID), &domain.Post{})
}

// userIdValid ensures that the userId is not empty.
func (lv *likeValidator) userIdValid(ctx context.Context, like *domain.Like) error {
	if like.UserID <= 0 {
		return errs.UserIdValid
	}
	return nil
}

// Toggle deletes the user's like on the post if there is one, and creates it otherwise.
// Two concurrent toggles can both see no like and both insert: the unique index
// lets only one of them through, the loser retries and then finds the like.
// The returned count is read after the toggle committed.
func (lg *likeGorm) Toggle(ctx context.Context, like *domain.Like) (*domain.LikeToggle, error) {
	var liked bool
	var err error
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		liked, err = lg.toggleOnce(ctx, like)
		if !isDuplicateKey(err) {
			break
		}
	}
	if err != nil {
		if isDuplicateKey(err) {
			return nil, errs.Errorf(errs.ECONFLICT, "The like changed concurrently, try again.")
		}
		return nil, err
	}
	count, err := lg.Count(ctx, like.PostID)
	if err != nil {
		return nil, err
	}
	return &domain.LikeToggle{
		IsLiked:    liked,
		LikesCount: count,
	}, nil
}

func (lg *likeGorm) toggleOnce(ctx context.Context, like *domain.Like) (bool, error) {
	var liked bool
	err := lg.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", like.UserID, like.PostID).Delete(&domain.Like{})
		if res.Error != nil {
			return fmt.Errorf("removing like: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			liked = false
			return nil
		}
		row := domain.Like{UserID: like.UserID, PostID: like.PostID}
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicateKey(err) {
				return err
			}
			return fmt.Errorf("adding like: %w", err)
		}
		liked = true
		return nil
	})
	return liked, err
}

// Count returns the number of likes on a post.
func (lg *likeGorm) Count(ctx context.Context, postID int) (int, error) {
	var count int64
	err := lg.db.WithContext(ctx).Model(&domain.Like{}).Where("post_id = ?", postID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting likes of post %d: %w", postID, err)
	}
	return int(count), nil
}

// ByPost retrieves the likes of a post.
func (lg *likeGorm) ByPost(ctx context.Context, postID int) ([]domain.Like, error) {
	likes := []domain.Like{}
	err := lg.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at asc").
		Order("id asc").
		Find(&likes).Error
	if err != nil {
		return nil, fmt.Errorf("loading likes of post %d: %w", postID, err)
	}
	return likes, nil
}
