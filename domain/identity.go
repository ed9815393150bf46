package domain

// Identity is whoever makes a request: either Anonymous or Authenticated.
// It's a closed set, no other package can add variants.
type Identity interface {
	identity()
}

// Anonymous is a request without a (valid) bearer token.
type Anonymous struct{}

// Authenticated is a request whose bearer token resolved to an existing user.
type Authenticated struct {
	User *User
}

func (Anonymous) identity()     {}
func (Authenticated) identity() {}

// ViewerID returns the id of the user behind the identity, and false for anonymous callers.
func ViewerID(id Identity) (int, bool) {
	if a, ok := id.(Authenticated); ok && a.User != nil {
		return a.User.ID, true
	}
	return 0, false
}
