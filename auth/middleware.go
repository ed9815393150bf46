package auth

import (
	"net/http"
	"strings"

	"postboard/domain"
	"postboard/errs"
)

// BearerToken returns the token of an "Authorization: Bearer <token>" header,
// or the empty string if there is none.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// UserMw resolves the caller's identity if a token is present. Requests without
// a (valid) token pass through as domain.Anonymous.
type UserMw struct {
	Resolver *Resolver
}

// Apply wraps an http.Handler.
func (mw *UserMw) Apply(next http.Handler) http.HandlerFunc {
	return mw.ApplyFn(next.ServeHTTP)
}

// ApplyFn wraps an http.HandlerFunc.
func (mw *UserMw) ApplyFn(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := mw.Resolver.Optional(r.Context(), BearerToken(r))
		if err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		next(w, r.WithContext(SetIdentity(r.Context(), id)))
	}
}

// RequireUserMw rejects requests without a valid token with 401.
type RequireUserMw struct {
	Resolver *Resolver
}

// Apply wraps an http.Handler.
func (mw *RequireUserMw) Apply(next http.Handler) http.HandlerFunc {
	return mw.ApplyFn(next.ServeHTTP)
}

// ApplyFn wraps an http.HandlerFunc.
func (mw *RequireUserMw) ApplyFn(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := mw.Resolver.Required(r.Context(), BearerToken(r))
		if err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		next(w, r.WithContext(SetIdentity(r.Context(), domain.Authenticated{User: user})))
	}
}
