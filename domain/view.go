package domain

import (
	"context"
	"time"
)

// ReplyView is a reply as the viewer sees it. ParentID lets clients thread flat reply lists.
type ReplyView struct {
	ID            int       `json:"id"`
	Text          string    `json:"text"`
	ImageURL      *string   `json:"image_url"`
	Timestamp     time.Time `json:"timestamp"`
	Owner         User      `json:"owner"`
	ParentID      *int      `json:"parent_id"`
	LikesCount    int       `json:"likes_count"`
	IsLikedByUser bool      `json:"is_liked_by_user"`
}

// PostView is a post with one level of replies, annotated for the viewer.
type PostView struct {
	ID            int         `json:"id"`
	Text          string      `json:"text"`
	ImageURL      *string     `json:"image_url"`
	Timestamp     time.Time   `json:"timestamp"`
	Owner         User        `json:"owner"`
	ParentID      *int        `json:"parent_id"`
	Replies       []ReplyView `json:"replies"`
	LikesCount    int         `json:"likes_count"`
	IsLikedByUser bool        `json:"is_liked_by_user"`
}

// Profile is a user together with everything they wrote.
type Profile struct {
	User
	Posts        []PostView  `json:"posts"`
	Replies      []ReplyView `json:"replies"`
	PostsCount   int         `json:"posts_count"`
	RepliesCount int         `json:"replies_count"`
}

// ProfileService assembles profiles.
type ProfileService interface {
	ByUserID(ctx context.Context, id int, viewer Identity) (*Profile, error)
}

// NewReplyView annotates a post with its like count and the viewer's like state.
// The post's Likes must be loaded.
func NewReplyView(p *Post, viewer Identity) ReplyView {
	return ReplyView{
		ID:            p.ID,
		Text:          p.Text,
		ImageURL:      p.ImageURL,
		Timestamp:     p.CreatedAt,
		Owner:         p.Owner,
		ParentID:      p.ParentID,
		LikesCount:    len(p.Likes),
		IsLikedByUser: likedBy(p.Likes, viewer),
	}
}

// NewPostView annotates a post and each of its loaded replies for the viewer.
func NewPostView(p *Post, viewer Identity) PostView {
	replies := make([]ReplyView, 0, len(p.Replies))
	for i := range p.Replies {
		replies = append(replies, NewReplyView(&p.Replies[i], viewer))
	}
	return PostView{
		ID:            p.ID,
		Text:          p.Text,
		ImageURL:      p.ImageURL,
		Timestamp:     p.CreatedAt,
		Owner:         p.Owner,
		ParentID:      p.ParentID,
		Replies:       replies,
		LikesCount:    len(p.Likes),
		IsLikedByUser: likedBy(p.Likes, viewer),
	}
}

// NewPostViews annotates a list of posts.
func NewPostViews(posts []Post, viewer Identity) []PostView {
	views := make([]PostView, 0, len(posts))
	for i := range posts {
		views = append(views, NewPostView(&posts[i], viewer))
	}
	return views
}

// likedBy is always false for anonymous viewers.
func likedBy(likes []Like, viewer Identity) bool {
	id, ok := ViewerID(viewer)
	if !ok {
		return false
	}
	for _, l := range likes {
		if l.UserID == id {
			return true
		}
	}
	return false
}
