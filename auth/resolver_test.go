package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postboard/domain"
	"postboard/errs"
)

// fakeUsers is an in-memory UserFinder.
type fakeUsers struct {
	users map[string]*domain.User
	err   error
}

func (f *fakeUsers) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, errs.Errorf(errs.ENOTFOUND, "User not found.")
}

func newTestResolver(t *testing.T) (*Resolver, *fakeUsers, string) {
	t.Helper()
	c := newTestCredentials()
	users := &fakeUsers{users: map[string]*domain.User{
		"alice@example.com": {ID: 1, Username: "alice", Email: "alice@example.com"},
	}}
	tok, err := c.IssueToken("alice@example.com", 1, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return NewResolver(c, users), users, tok.AccessToken
}

func TestResolverRequired(t *testing.T) {
	res, users, tok := newTestResolver(t)
	ctx := context.Background()

	user, err := res.Required(ctx, tok)
	if err != nil {
		t.Fatalf("Required: %v", err)
	}
	if user.ID != 1 {
		t.Errorf("user.ID = %d, want 1", user.ID)
	}

	for name, token := range map[string]string{"missing": "", "invalid": "abc.def.ghi"} {
		if _, err := res.Required(ctx, token); !errs.Is(err, errs.EUNAUTHORIZED) {
			t.Errorf("%s token: got %v, want unauthorized", name, err)
		}
	}

	delete(users.users, "alice@example.com")
	if _, err := res.Required(ctx, tok); err != errs.NotAuthenticated {
		t.Errorf("token of a deleted user: got %v, want %v", err, errs.NotAuthenticated)
	}
}

func TestResolverRequiredReusedEmail(t *testing.T) {
	res, users, tok := newTestResolver(t)
	// alice moved to another address and somebody else registered the old one.
	users.users["alice@example.com"] = &domain.User{ID: 2, Username: "eve", Email: "alice@example.com"}

	if _, err := res.Required(context.Background(), tok); err != errs.NotAuthenticated {
		t.Errorf("old token of a reused email: got %v, want %v", err, errs.NotAuthenticated)
	}
	id, err := res.Optional(context.Background(), tok)
	if err != nil {
		t.Fatalf("Optional: %v", err)
	}
	if _, ok := id.(domain.Anonymous); !ok {
		t.Errorf("reused email: got %T, want domain.Anonymous", id)
	}
}

func TestResolverRequiredStoreFailure(t *testing.T) {
	res, users, tok := newTestResolver(t)
	users.err = errors.New("connection refused")
	_, err := res.Required(context.Background(), tok)
	if errs.ErrorCode(err) != errs.EINTERNAL {
		t.Fatalf("got %v, want an internal error", err)
	}
}

func TestResolverOptional(t *testing.T) {
	res, users, tok := newTestResolver(t)
	ctx := context.Background()

	id, err := res.Optional(ctx, tok)
	if err != nil {
		t.Fatalf("Optional: %v", err)
	}
	if viewer, ok := domain.ViewerID(id); !ok || viewer != 1 {
		t.Errorf("ViewerID = (%d, %v), want (1, true)", viewer, ok)
	}

	for name, token := range map[string]string{"missing": "", "invalid": "abc.def.ghi"} {
		id, err := res.Optional(ctx, token)
		if err != nil {
			t.Errorf("%s token: unexpected error %v", name, err)
		}
		if _, ok := id.(domain.Anonymous); !ok {
			t.Errorf("%s token: got %T, want domain.Anonymous", name, id)
		}
	}

	delete(users.users, "alice@example.com")
	id, err = res.Optional(ctx, tok)
	if err != nil {
		t.Fatalf("Optional for a deleted user: %v", err)
	}
	if _, ok := id.(domain.Anonymous); !ok {
		t.Errorf("deleted user: got %T, want domain.Anonymous", id)
	}
}

func TestGuard(t *testing.T) {
	alice := &domain.User{ID: 1}
	bob := &domain.User{ID: 2}
	post := &domain.Post{ID: 10, OwnerID: alice.ID}

	if err := AuthorizeOwner(domain.Authenticated{User: alice}, post); err != nil {
		t.Errorf("owner: %v", err)
	}
	if err := AuthorizeOwner(domain.Authenticated{User: bob}, post); !errs.Is(err, errs.EFORBIDDEN) {
		t.Errorf("other user: got %v, want forbidden", err)
	}
	if err := AuthorizeOwner(domain.Anonymous{}, post); !errs.Is(err, errs.EUNAUTHORIZED) {
		t.Errorf("anonymous: got %v, want unauthorized", err)
	}
	if _, err := Actor(domain.Authenticated{}); !errs.Is(err, errs.EUNAUTHORIZED) {
		t.Errorf("authenticated without user: got %v, want unauthorized", err)
	}
}

func TestMiddleware(t *testing.T) {
	res, _, tok := newTestResolver(t)
	var seen domain.Identity
	handler := func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentity(r.Context())
	}
	optional := (&UserMw{Resolver: res}).ApplyFn(handler)
	required := (&RequireUserMw{Resolver: res}).ApplyFn(handler)

	tests := []struct {
		name       string
		header     string
		mw         http.HandlerFunc
		wantStatus int
		wantUser   bool
	}{
		{"optional without header", "", optional, http.StatusOK, false},
		{"optional with token", "Bearer " + tok, optional, http.StatusOK, true},
		{"optional with bad token", "Bearer nope", optional, http.StatusOK, false},
		{"optional with basic auth", "Basic YWxpY2U6cHc=", optional, http.StatusOK, false},
		{"required without header", "", required, http.StatusUnauthorized, false},
		{"required with token", "bearer " + tok, required, http.StatusOK, true},
		{"required with bad token", "Bearer nope", required, http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			tt.mw(w, r)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if seen != nil {
					t.Fatal("handler ran for a rejected request")
				}
				if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
					t.Errorf("WWW-Authenticate = %q", got)
				}
				return
			}
			_, isUser := seen.(domain.Authenticated)
			if isUser != tt.wantUser {
				t.Errorf("identity = %T, wantUser %v", seen, tt.wantUser)
			}
		})
	}
}
