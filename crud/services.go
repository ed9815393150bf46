package crud

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"postboard/auth"
	"postboard/domain"
)

const (
	// DefaultLimit is the page size of list operations when the caller gives none.
	DefaultLimit = 100
	// MaxLimit caps the page size of list operations.
	MaxLimit = 1000
)

// A ServicesConfig is any function that takes in a pointer to a Services
// object and returns an error. It's basically just wrapping the constructor
// method of any given crud service. It exists to be able to easily create
// the crud services using functional options in main.go.
type ServicesConfig func(*Services) error

// Services is a container object holding pointers to all the crud services.
// The crud services all share the database connection provided by Services.
type Services struct {
	db      *gorm.DB
	User    *UserService
	Post    *PostService
	Like    *LikeService
	Profile *ProfileService
}

// NewServices returns a new Services object, containing any crud services
// it's told to create by one of the passed in ServicesConfig functions.
// It shares the passed in database connection with any crud service it creates.
func NewServices(db *gorm.DB, cfgs ...ServicesConfig) (*Services, error) {
	s := Services{
		db: db,
	}
	for _, cfg := range cfgs {
		if err := cfg(&s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// WithUser wraps the constructor of UserService, NewUserService.
func WithUser(creds *auth.Credentials) ServicesConfig {
	return func(s *Services) error {
		if creds == nil {
			return errors.New("crud: user service needs credentials")
		}
		s.User = NewUserService(s.db, creds)
		return nil
	}
}

// WithPost wraps the constructor of PostService, NewPostService.
func WithPost() ServicesConfig {
	return func(s *Services) error {
		s.Post = NewPostService(s.db)
		return nil
	}
}

// WithLike wraps the constructor of LikeService, NewLikeService.
func WithLike() ServicesConfig {
	return func(s *Services) error {
		s.Like = NewLikeService(s.db)
		return nil
	}
}

// WithProfile wraps the constructor of ProfileService, NewProfileService.
func WithProfile() ServicesConfig {
	return func(s *Services) error {
		s.Profile = NewProfileService(s.db)
		return nil
	}
}

// AutoMigrate creates or updates the tables of all models.
// Users go first, posts and likes reference them.
func (s *Services) AutoMigrate() error {
	return s.db.AutoMigrate(&domain.User{}, &domain.Post{}, &domain.Like{})
}

// DestructiveReset drops all tables and rebuilds them.
func (s *Services) DestructiveReset() error {
	if err := s.db.Migrator().DropTable(&domain.Like{}, &domain.Post{}, &domain.User{}); err != nil {
		return err
	}
	return s.AutoMigrate()
}

// page clamps skip and limit into a usable window.
func page(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit
}

// isDuplicateKey reports whether err is a unique constraint violation, whichever
// database produced it.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
