package domain

import (
	"context"
	"time"
)

// Like represents a many-to-many relationship between a User and a Post.
// There is at most one Like per (user, post) pair, guaranteed by a unique index.
// It's created and destroyed by toggling, never updated.
type Like struct {
	ID     int `json:"id"`
	UserID int `json:"user_id" gorm:"notNull;uniqueIndex:idx_likes_user_post"`
	PostID int `json:"post_id" gorm:"notNull;uniqueIndex:idx_likes_user_post;index"`

	CreatedAt time.Time `json:"timestamp"`
}

// LikeToggle is the outcome of a toggle: whether the user likes the post
// afterwards, and how many likes the post has now.
type LikeToggle struct {
	IsLiked    bool `json:"is_liked"`
	LikesCount int  `json:"likes_count"`
}

// LikeService is a set of methods to manipulate and work with the Like model.
type LikeService interface {
	Toggle(ctx context.Context, userID, postID int) (*LikeToggle, error)
	ByPost(ctx context.Context, postID int) ([]Like, error)
}
