package crud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"postboard/auth"
	"postboard/domain"
	"postboard/errs"
)

// PostService manages Posts and the replies hanging off them.
// It implements the domain.PostService interface.
type PostService struct {
	postValidator
}

// postValidator runs validations on incoming Post data.
// On success, it passes the data on to postGorm.
// Otherwise, it returns the error of the validation that has failed.
type postValidator struct {
	postGorm
}

// postGorm runs CRUD operations on the database using incoming Post data.
// It assumes that data has been validated. On success, it returns nil.
// Otherwise, it returns the error of the operation that has failed.
type postGorm struct {
	db *gorm.DB
}

// NewPostService returns an instance of PostService.
func NewPostService(db *gorm.DB) *PostService {
	return &PostService{
		postValidator{
			postGorm{
				db: db,
			},
		},
	}
}

// Ensure the PostService struct properly implements the domain.PostService interface.
// If it does not, then this expression becomes invalid and won't compile.
var _ domain.PostService = &PostService{}

// Create runs validations needed for creating new Post database records.
// A reply's parent has to exist, otherwise errs.ENOTFOUND is returned.
func (pv *postValidator) Create(ctx context.Context, post *domain.Post) error {
	err := runPostValFns(ctx, post,
		pv.ownerIdValid,
		pv.textRequired,
		pv.parentExists)
	if err != nil {
		return err
	}
	return pv.postGorm.Create(ctx, post)
}

// Update changes the text of a post. Only the post's owner may do that: anonymous
// actors get errs.EUNAUTHORIZED before the post is even looked up, other users
// errs.EFORBIDDEN. The creation timestamp stays what it was.
func (pv *postValidator) Update(ctx context.Context, actor domain.Identity, id int, text string) (*domain.Post, error) {
	if _, err := auth.Actor(actor); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, errs.IdInvalid
	}
	upd := domain.Post{ID: id, Text: text}
	if err := runPostValFns(ctx, &upd, pv.textRequired); err != nil {
		return nil, err
	}
	err := pv.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post domain.Post
		if err := first(tx.Where("id = ?", id), &post); err != nil {
			return err
		}
		if err := auth.AuthorizeOwner(actor, &post); err != nil {
			return err
		}
		err := tx.Model(&domain.Post{}).Where("id = ?", id).Update("text", upd.Text).Error
		if err != nil {
			return fmt.Errorf("updating post %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pv.postGorm.ByID(ctx, id)
}

// Delete removes a post with all of its replies, at every depth, and every like on
// any of them. The same ownership rules as in Update apply.
func (pv *postValidator) Delete(ctx context.Context, actor domain.Identity, id int) error {
	if _, err := auth.Actor(actor); err != nil {
		return err
	}
	if id <= 0 {
		return errs.IdInvalid
	}
	return pv.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post domain.Post
		if err := first(tx.Where("id = ?", id), &post); err != nil {
			return err
		}
		if err := auth.AuthorizeOwner(actor, &post); err != nil {
			return err
		}
		return deleteTrees(tx, []int{post.ID})
	})
}

// runPostValFns runs any number of functions of type postValFn on the passed in Post object.
// If none of them returns an error, it returns nil. Otherwise, it returns the respective error.
func runPostValFns(ctx context.Context, post *domain.Post, fns ...postValFn) error {
	for _, fn := range fns {
		if err := fn(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

// A postValFn is any function that takes in a pointer to a domain.Post object and returns an error.
type postValFn func(ctx context.Context, post *domain.Post) error

// ownerIdValid ensures that the post has an owner.
func (pv *postValidator) ownerIdValid(ctx context.Context, post *domain.Post) error {
	if post.OwnerID <= 0 {
		return errs.UserIdValid
	}
	return nil
}

// textRequired makes sure that the post's text is not blank.
func (pv *postValidator) textRequired(ctx context.Context, post *domain.Post) error {
	if strings.TrimSpace(post.Text) == "" {
		return errs.Errorf(errs.EINVALID, "Post text must not be empty.")
	}
	return nil
}

// parentExists makes sure that the post to be replied to actually exists.
// This check only runs if the incoming Post has a ParentID.
func (pv *postValidator) parentExists(ctx context.Context, post *domain.Post) error {
	if post.ParentID == nil {
		return nil
	}
	err := first(pv.db.WithContext(ctx).Where("id = ?", *post.ParentID), &domain.Post{})
	if errs.Is(err, errs.ENOTFOUND) {
		return errs.Errorf(errs.ENOTFOUND, "Parent post not found.")
	}
	return err
}

// withTree preloads everything a post view needs: the owner, the likes, and one
// level of replies with their owners and likes.
func withTree(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Owner").
		Preload("Likes").
		Preload("Replies", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc").Order("id asc")
		}).
		Preload("Replies.Owner").
		Preload("Replies.Likes")
}

// sortReplies orders the loaded replies of each post oldest first, ties broken by ID.
func sortReplies(posts ...*domain.Post) {
	for _, p := range posts {
		replies := p.Replies
		sort.SliceStable(replies, func(a, b int) bool {
			if replies[a].CreatedAt.Equal(replies[b].CreatedAt) {
				return replies[a].ID < replies[b].ID
			}
			return replies[a].CreatedAt.Before(replies[b].CreatedAt)
		})
	}
}

func sortAllReplies(posts []domain.Post) {
	for i := range posts {
		sortReplies(&posts[i])
	}
}

// ByID retrieves a single Post by ID, along with its owner, likes and replies.
// If the record doesn't exist, it returns errs.ENOTFOUND.
func (pg *postGorm) ByID(ctx context.Context, id int) (*domain.Post, error) {
	var post domain.Post
	if err := first(withTree(pg.db.WithContext(ctx)).Where("id = ?", id), &post); err != nil {
		return nil, err
	}
	sortReplies(&post)
	return &post, nil
}

// List retrieves a page of top-level posts, newest first.
func (pg *postGorm) List(ctx context.Context, skip, limit int) ([]domain.Post, error) {
	skip, limit = page(skip, limit)
	posts := []domain.Post{}
	err := withTree(pg.db.WithContext(ctx)).
		Where("parent_id IS NULL").
		Order("created_at desc").
		Order("id desc").
		Offset(skip).
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	sortAllReplies(posts)
	return posts, nil
}

// ByOwner retrieves all top-level posts of a user, newest first, with their replies.
func (pg *postGorm) ByOwner(ctx context.Context, ownerID int) ([]domain.Post, error) {
	posts := []domain.Post{}
	err := withTree(pg.db.WithContext(ctx)).
		Where("owner_id = ? AND parent_id IS NULL", ownerID).
		Order("created_at desc").
		Order("id desc").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("loading posts of user %d: %w", ownerID, err)
	}
	sortAllReplies(posts)
	return posts, nil
}

// RepliesByOwner retrieves every reply a user wrote, newest first, whatever post it answers.
func (pg *postGorm) RepliesByOwner(ctx context.Context, ownerID int) ([]domain.Post, error) {
	replies := []domain.Post{}
	err := pg.db.WithContext(ctx).
		Preload("Owner").
		Preload("Likes").
		Where("owner_id = ? AND parent_id IS NOT NULL", ownerID).
		Order("created_at desc").
		Order("id desc").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("loading replies of user %d: %w", ownerID, err)
	}
	return replies, nil
}

// Create stores the data from the Post object in a new database record
// and loads its owner, so the response shows who wrote it.
func (pg *postGorm) Create(ctx context.Context, post *domain.Post) error {
	db := pg.db.WithContext(ctx)
	if err := db.Omit("Owner", "Replies", "Likes").Create(post).Error; err != nil {
		return fmt.Errorf("creating post: %w", err)
	}
	if err := db.Preload("Owner").Preload("Likes").First(post, post.ID).Error; err != nil {
		return fmt.Errorf("reloading post %d: %w", post.ID, err)
	}
	post.Replies = []domain.Post{}
	return nil
}

// SetImage stores the URL of an uploaded image on the post.
func (pg *postGorm) SetImage(ctx context.Context, id int, url string) error {
	res := pg.db.WithContext(ctx).Model(&domain.Post{}).Where("id = ?", id).Update("image_url", url)
	if res.Error != nil {
		return fmt.Errorf("setting image of post %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Errorf(errs.ENOTFOUND, "Post not found.")
	}
	return nil
}

// deleteTrees deletes the given posts, all of their replies at any depth, and
// every like on any of them. It's meant to run inside a transaction.
func deleteTrees(tx *gorm.DB, roots []int) error {
	levels := [][]int{}
	for ids := roots; len(ids) > 0; {
		levels = append(levels, ids)
		var children []int
		err := tx.Model(&domain.Post{}).Where("parent_id IN ?", ids).Pluck("id", &children).Error
		if err != nil {
			return fmt.Errorf("loading replies: %w", err)
		}
		ids = children
	}
	for i := len(levels) - 1; i >= 0; i-- {
		ids := levels[i]
		if err := tx.Where("post_id IN ?", ids).Delete(&domain.Like{}).Error; err != nil {
			return fmt.Errorf("deleting likes: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&domain.Post{}).Error; err != nil {
			return fmt.Errorf("deleting posts: %w", err)
		}
	}
	return nil
}
