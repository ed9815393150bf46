package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"postboard/auth"
	"postboard/domain"
	"postboard/errs"
)

// UserService manages Users. Password hashing and checking is delegated to
// auth.Credentials, token handling lives in the auth and http packages.
// It implements the domain.UserService interface.
type UserService struct {
	userValidator
}

// userValidator runs validations on incoming User data.
// On success, it passes the data on to userGorm.
// Otherwise, it returns the error of the validation that has failed.
type userValidator struct {
	creds    *auth.Credentials
	validate *validator.Validate
	userGorm
}

// userGorm runs CRUD operations on the database using incoming User data.
// It assumes that data has been validated. On success, it returns nil.
// Otherwise, it returns the error of the operation that has failed.
type userGorm struct {
	db *gorm.DB
}

// NewUserService returns an instance of UserService.
func NewUserService(db *gorm.DB, creds *auth.Credentials) *UserService {
	return &UserService{
		userValidator{
			creds:    creds,
			validate: validator.New(),
			userGorm: userGorm{
				db: db,
			},
		},
	}
}

// Ensure the UserService struct properly implements the domain.UserService interface.
// If it does not, then this expression becomes invalid and won't compile.
var _ domain.UserService = &UserService{}

// Authenticate checks a submitted email address and password. A wrong email and a
// wrong password fail the same way, with errs.CredentialsInvalid.
func (uv *userValidator) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	found, err := uv.userGorm.ByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errs.Is(err, errs.ENOTFOUND) {
			return nil, errs.CredentialsInvalid
		}
		return nil, err
	}
	if !uv.creds.Verify(password, found.PasswordHash) {
		return nil, errs.CredentialsInvalid
	}
	return found, nil
}

// ByEmail normalizes the email before looking it up.
func (uv *userValidator) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	return uv.userGorm.ByEmail(ctx, normalizeEmail(email))
}

// Create runs validations needed for creating new User database records.
// Username and email are checked for availability before the insert. The unique
// indexes catch whatever slips in between, also as errs.ECONFLICT.
func (uv *userValidator) Create(ctx context.Context, user *domain.User) error {
	err := runUserValFns(ctx, user,
		uv.usernameNormalize,
		uv.usernameRequired,
		uv.usernameMaxLength,
		uv.usernameIsAvail,
		uv.emailNormalize,
		uv.emailRequired,
		uv.emailFormat,
		uv.emailIsAvail,
		uv.passwordRequired,
		uv.passwordMinLength,
		uv.passwordBcrypt,
		uv.passwordHashRequired)
	if err != nil {
		return err
	}
	return uv.userGorm.Create(ctx, user)
}

// Update applies the non-nil fields of upd to the user with the given ID and runs
// the same username and email validations as Create.
func (uv *userValidator) Update(ctx context.Context, id int, upd *domain.UserUpdate) (*domain.User, error) {
	if id <= 0 {
		return nil, errs.IdInvalid
	}
	user, err := uv.userGorm.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Username != nil {
		user.Username = *upd.Username
	}
	if upd.Email != nil {
		user.Email = *upd.Email
	}
	if upd.AvatarURL != nil {
		user.AvatarURL = upd.AvatarURL
		if *upd.AvatarURL == "" {
			user.AvatarURL = nil
		}
	}
	err = runUserValFns(ctx, user,
		uv.usernameNormalize,
		uv.usernameRequired,
		uv.usernameMaxLength,
		uv.usernameIsAvail,
		uv.emailNormalize,
		uv.emailRequired,
		uv.emailFormat,
		uv.emailIsAvail)
	if err != nil {
		return nil, err
	}
	if err := uv.userGorm.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete runs validations needed for deleting a User record.
func (uv *userValidator) Delete(ctx context.Context, id int) error {
	if id <= 0 {
		return errs.IdInvalid
	}
	return uv.userGorm.Delete(ctx, id)
}

// runUserValFns runs any number of functions of type userValFn on the passed in User object.
// If none of them returns an error, it returns nil. Otherwise, it returns the respective error.
func runUserValFns(ctx context.Context, user *domain.User, fns ...userValFn) error {
	for _, fn := range fns {
		if err := fn(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

// A userValFn is any function that takes in a pointer to a domain.User object and returns an error.
type userValFn func(ctx context.Context, user *domain.User) error

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailFormat makes sure that a provided email address is a valid address.
func (uv *userValidator) emailFormat(ctx context.Context, user *domain.User) error {
	if err := uv.validate.Var(user.Email, "email"); err != nil {
		return errs.Errorf(errs.EINVALID, "The email address is invalid.")
	}
	return nil
}

// emailIsAvail makes sure that a provided email address is not yet taken.
func (uv *userValidator) emailIsAvail(ctx context.Context, user *domain.User) error {
	existing, err := uv.userGorm.ByEmail(ctx, user.Email)
	if errs.Is(err, errs.ENOTFOUND) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.ID != existing.ID {
		return errs.Errorf(errs.ECONFLICT, "Email already registered.")
	}
	return nil
}

// emailNormalize converts the email to all lowercase and trims its whitespaces.
func (uv *userValidator) emailNormalize(ctx context.Context, user *domain.User) error {
	user.Email = normalizeEmail(user.Email)
	return nil
}

// emailRequired makes sure that the email is not the empty string.
func (uv *userValidator) emailRequired(ctx context.Context, user *domain.User) error {
	if user.Email == "" {
		return errs.Errorf(errs.EINVALID, "An email address is required.")
	}
	return nil
}

// usernameIsAvail makes sure that a provided username is not yet taken.
func (uv *userValidator) usernameIsAvail(ctx context.Context, user *domain.User) error {
	existing, err := uv.userGorm.ByUsername(ctx, user.Username)
	if errs.Is(err, errs.ENOTFOUND) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.ID != existing.ID {
		return errs.Errorf(errs.ECONFLICT, "Username already registered.")
	}
	return nil
}

func (uv *userValidator) usernameNormalize(ctx context.Context, user *domain.User) error {
	user.Username = strings.TrimSpace(user.Username)
	return nil
}

// usernameRequired makes sure that the username is not the empty string.
func (uv *userValidator) usernameRequired(ctx context.Context, user *domain.User) error {
	if user.Username == "" {
		return errs.Errorf(errs.EINVALID, "A username is required.")
	}
	return nil
}

// usernameMaxLength makes sure that the username has at most 50 characters.
func (uv *userValidator) usernameMaxLength(ctx context.Context, user *domain.User) error {
	if utf8.RuneCountInString(user.Username) > 50 {
		return errs.Errorf(errs.EINVALID, "The username must have at most 50 characters.")
	}
	return nil
}

// passwordBcrypt hashes a user's password, if the Password field is not the empty string.
// It then clears the password on the user object in memory.
func (uv *userValidator) passwordBcrypt(ctx context.Context, user *domain.User) error {
	if user.Password == "" {
		return nil
	}
	hash, err := uv.creds.Hash(user.Password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.Password = ""
	return nil
}

// passwordHashRequired makes sure that the user's password hash is not the empty string.
func (uv *userValidator) passwordHashRequired(ctx context.Context, user *domain.User) error {
	if user.PasswordHash == "" {
		return errs.Errorf(errs.EINVALID, "A password is required.")
	}
	return nil
}

// passwordMinLength makes sure that the user's password is at least 8 characters long.
func (uv *userValidator) passwordMinLength(ctx context.Context, user *domain.User) error {
	if user.Password == "" {
		return nil
	}
	if utf8.RuneCountInString(user.Password) < 8 {
		return errs.Errorf(errs.EINVALID, "The password must have at least 8 characters.")
	}
	return nil
}

// passwordRequired makes sure that the user's password is not the empty string.
func (uv *userValidator) passwordRequired(ctx context.Context, user *domain.User) error {
	if user.Password == "" {
		return errs.Errorf(errs.EINVALID, "A password is required.")
	}
	return nil
}

// ByID retrieves a User database record by ID.
func (ug *userGorm) ByID(ctx context.Context, id int) (*domain.User, error) {
	var user domain.User
	db := ug.db.WithContext(ctx).Where("id = ?", id)
	if err := first(db, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ByEmail retrieves a User database record by Email.
func (ug *userGorm) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	db := ug.db.WithContext(ctx).Where("email = ?", email)
	if err := first(db, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ByUsername retrieves a User database record by Username.
func (ug *userGorm) ByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	db := ug.db.WithContext(ctx).Where("username = ?", username)
	if err := first(db, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// List retrieves a page of users ordered by ID.
func (ug *userGorm) List(ctx context.Context, skip, limit int) ([]domain.User, error) {
	skip, limit = page(skip, limit)
	users := []domain.User{}
	err := ug.db.WithContext(ctx).
		Order("id asc").
		Offset(skip).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// Create stores the data from the User object in a new database record.
func (ug *userGorm) Create(ctx context.Context, user *domain.User) error {
	err := ug.db.WithContext(ctx).Create(user).Error
	if isDuplicateKey(err) {
		return errs.Errorf(errs.ECONFLICT, "Username or email already registered.")
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// Update saves changes to an existing user record in the database.
func (ug *userGorm) Update(ctx context.Context, user *domain.User) error {
	err := ug.db.WithContext(ctx).
		Model(user).
		Select("Username", "Email", "AvatarURL").
		Updates(user).Error
	if isDuplicateKey(err) {
		return errs.Errorf(errs.ECONFLICT, "Username or email already registered.")
	}
	if err != nil {
		return fmt.Errorf("updating user %d: %w", user.ID, err)
	}
	return nil
}

// Delete removes a user together with their posts (and everything hanging off
// those) and their likes, in one transaction.
func (ug *userGorm) Delete(ctx context.Context, id int) error {
	return ug.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := first(tx.Where("id = ?", id), &domain.User{}); err != nil {
			return err
		}
		var roots []int
		err := tx.Model(&domain.Post{}).Where("owner_id = ?", id).Pluck("id", &roots).Error
		if err != nil {
			return fmt.Errorf("loading posts of user %d: %w", id, err)
		}
		if err := deleteTrees(tx, roots); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&domain.Like{}).Error; err != nil {
			return fmt.Errorf("deleting likes of user %d: %w", id, err)
		}
		if err := tx.Delete(&domain.User{}, id).Error; err != nil {
			return fmt.Errorf("deleting user %d: %w", id, err)
		}
		return nil
	})
}

// first is a helper for getting the first database record that matches a given query.
// A missing record comes back as errs.ENOTFOUND.
func first(db *gorm.DB, dst interface{}) error {
	err := db.First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(dst)
	}
	return err
}

func notFound(dst interface{}) error {
	switch dst.(type) {
	case *domain.User:
		return errs.Errorf(errs.ENOTFOUND, "User not found.")
	case *domain.Post:
		return errs.Errorf(errs.ENOTFOUND, "Post not found.")
	default:
		return errs.Errorf(errs.ENOTFOUND, "Not found.")
	}
}
