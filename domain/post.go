package domain

import (
	"context"
	"time"
)

// Post is either a top-level post (ParentID is nil) or a reply to another post.
// The parent is set once, when the reply is created, so the posts form a tree.
// Replies are resolved by querying on parent_id, never through in-memory pointers.
// Deleting a Post deletes its Replies and Likes with it.
type Post struct {
	ID       int     `json:"id"`
	Text     string  `json:"text" gorm:"notNull"`
	ImageURL *string `json:"image_url"`
	OwnerID  int     `json:"owner_id" gorm:"notNull;index"`
	Owner    User    `json:"owner"`
	ParentID *int    `json:"parent_id" gorm:"index"`
	Replies  []Post  `json:"-" gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
	Likes    []Like  `json:"-" gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"timestamp" gorm:"index"`
	UpdatedAt time.Time `json:"-"`
}

// IsReply reports whether the post answers another post.
func (p *Post) IsReply() bool {
	return p.ParentID != nil
}

// PostService is a set of methods to manipulate and work with the Post model.
// Update and Delete are guarded: only the post's owner may run them.
type PostService interface {
	ByID(ctx context.Context, id int) (*Post, error)
	List(ctx context.Context, skip, limit int) ([]Post, error)
	Create(ctx context.Context, post *Post) error
	Update(ctx context.Context, actor Identity, id int, text string) (*Post, error)
	Delete(ctx context.Context, actor Identity, id int) error
	SetImage(ctx context.Context, id int, url string) error
}
