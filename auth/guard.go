package auth

import (
	"postboard/domain"
	"postboard/errs"
)

// Actor returns the user behind an identity. Anonymous callers get errs.NotAuthenticated.
func Actor(id domain.Identity) (*domain.User, error) {
	switch a := id.(type) {
	case domain.Authenticated:
		if a.User == nil {
			return nil, errs.NotAuthenticated
		}
		return a.User, nil
	default:
		return nil, errs.NotAuthenticated
	}
}

// AuthorizeOwner permits a mutation of post only to its owner.
// There are no roles and no admin override.
func AuthorizeOwner(id domain.Identity, post *domain.Post) error {
	user, err := Actor(id)
	if err != nil {
		return err
	}
	if user.ID != post.OwnerID {
		return errs.Errorf(errs.EFORBIDDEN, "You are not allowed to modify this post.")
	}
	return nil
}
