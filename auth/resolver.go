package auth

import (
	"context"

	"postboard/domain"
	"postboard/errs"
)

// UserFinder looks up the user a token's subject names.
type UserFinder interface {
	ByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Resolver turns bearer tokens into identities.
type Resolver struct {
	creds *Credentials
	users UserFinder
}

// NewResolver returns an instance of Resolver.
func NewResolver(creds *Credentials, users UserFinder) *Resolver {
	return &Resolver{
		creds: creds,
		users: users,
	}
}

// Required resolves token to its user. A missing or invalid token, a token for a
// user that no longer exists, and a token whose email now belongs to another
// account all fail the same way, with errs.NotAuthenticated.
// Only store failures come back as something else.
func (res *Resolver) Required(ctx context.Context, token string) (*domain.User, error) {
	claims, err := res.creds.ValidateToken(token)
	if err != nil {
		return nil, errs.NotAuthenticated
	}
	user, err := res.users.ByEmail(ctx, claims.Subject)
	if err != nil {
		if errs.Is(err, errs.ENOTFOUND) {
			return nil, errs.NotAuthenticated
		}
		return nil, err
	}
	if user.ID != claims.UserID {
		return nil, errs.NotAuthenticated
	}
	return user, nil
}

// Optional resolves token to an identity. Missing, invalid and stale tokens all
// yield domain.Anonymous. The error is non-nil only when the user store fails.
func (res *Resolver) Optional(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Anonymous{}, nil
	}
	user, err := res.Required(ctx, token)
	if err != nil {
		if errs.Is(err, errs.EUNAUTHORIZED) {
			return domain.Anonymous{}, nil
		}
		return domain.Anonymous{}, err
	}
	return domain.Authenticated{User: user}, nil
}
