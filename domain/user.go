package domain

import (
	"context"
	"time"
)

// User represents a registered account. Username and Email are unique, and Email
// doubles as the subject of the user's bearer tokens. Deleting a User deletes
// its Posts and Likes with it.
type User struct {
	ID           int     `json:"id"`
	Username     string  `json:"username" gorm:"notNull;uniqueIndex"`
	Email        string  `json:"email" gorm:"notNull;uniqueIndex"`
	Password     string  `json:"-" gorm:"-"`
	PasswordHash string  `json:"-" gorm:"notNull"`
	AvatarURL    *string `json:"avatar_url"`

	Posts []Post `json:"-" gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	Likes []Like `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// UserUpdate holds the profile fields a user may change about themselves.
// Nil fields are left untouched.
type UserUpdate struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatar_url"`
}

// UserService is a set of methods to manipulate and work with the User model.
type UserService interface {
	ByID(ctx context.Context, id int) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, skip, limit int) ([]User, error)
	Create(ctx context.Context, user *User) error
	Authenticate(ctx context.Context, email, password string) (*User, error)
	Update(ctx context.Context, id int, upd *UserUpdate) (*User, error)
	Delete(ctx context.Context, id int) error
}
