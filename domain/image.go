package domain

import (
	"context"
	"fmt"
	"io"
)

const (
	// OwnerTypePost expresses that an Image belongs to a Post (or reply).
	OwnerTypePost = "post"
	// OwnerTypeUser expresses that an Image is a User's avatar.
	OwnerTypeUser = "user"
	// MaxUploadSize determines the maximum filesize of an image to be uploaded.
	MaxUploadSize int64 = 5 << 20 // 5 Megabyte
)

// Image represents an uploaded image on its way into the image store.
// Images have no table of their own: only the resulting URL is persisted,
// on the owning post (image_url) or user (avatar_url).
// The owner determines the storage key: images/user/1/<name>.png belongs to the user with ID 1.
type Image struct {
	URL         string        `json:"url"`
	OwnerType   string        `json:"-"`
	OwnerID     int           `json:"-"`
	File        io.ReadSeeker `json:"-"`
	Filename    string        `json:"-"`
	Extension   string        `json:"-"`
	ContentType string        `json:"-"`
}

// ImageService stores uploaded images and forgets them again.
// Delete only removes images stored under the given owner, any other URL is left alone.
type ImageService interface {
	Create(ctx context.Context, img *Image) error
	Delete(ctx context.Context, ownerType string, ownerID int, url string) error
}

// Key returns the storage key of an image, relative to the store's root.
func (i *Image) Key() string {
	return OwnerPrefix(i.OwnerType, i.OwnerID) + i.Filename
}

// OwnerPrefix returns the key prefix all images of one owner share, e.g. "user/1/".
func OwnerPrefix(ownerType string, ownerID int) string {
	return fmt.Sprintf("%v/%v/", ownerType, ownerID)
}
