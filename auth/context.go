package auth

import (
	"context"

	"postboard/domain"
)

const (
	identityKey privateKey = "identity"
)

type privateKey string

// SetIdentity stores the caller's identity in the context.
func SetIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller's identity, domain.Anonymous if none was stored.
func GetIdentity(ctx context.Context) domain.Identity {
	if temp := ctx.Value(identityKey); temp != nil {
		if id, ok := temp.(domain.Identity); ok {
			return id
		}
	}
	return domain.Anonymous{}
}

// GetUser returns the authenticated user, or nil for anonymous callers.
func GetUser(ctx context.Context) *domain.User {
	if a, ok := GetIdentity(ctx).(domain.Authenticated); ok {
		return a.User
	}
	return nil
}
