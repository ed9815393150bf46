package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"postboard/auth"
	"postboard/domain"
	"postboard/errs"
)

func (s *Server) registerUserRoutes(r *mux.Router) {
	r.HandleFunc("/users", s.handleListUsers).Methods("GET")
	r.HandleFunc("/users", s.handleRegister).Methods("POST")

	// The authenticated user's own account.
	r.HandleFunc("/users/me", s.requireAuth(s.handleMe)).Methods("GET")
	r.HandleFunc("/users/me", s.requireAuth(s.handleUpdateMe)).Methods("PUT")
	r.HandleFunc("/users/me", s.requireAuth(s.handleDeleteMe)).Methods("DELETE")
	r.HandleFunc("/users/me/avatar", s.requireAuth(s.handleUploadAvatar)).Methods("POST")
	r.HandleFunc("/users/me/avatar", s.requireAuth(s.handleDeleteAvatar)).Methods("DELETE")

	// Profile of any user, as seen by the caller.
	r.HandleFunc("/users/{id:[0-9]+}", s.optionalAuth(s.handleGetProfile)).Methods("GET")
}

// handleListUsers handles the route "GET /users?skip=&limit=".
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	users, err := s.us.List(r.Context(), skip, limit)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, users)
}

// handleGetProfile handles the route "GET /users/:id".
// It returns the user with their posts and replies. Like flags are the caller's.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	profile, err := s.prs.ByUserID(r.Context(), id, auth.GetIdentity(r.Context()))
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profile)
}

// updateResponse is the answer to a profile update. Tokens name the email, so
// a changed email comes with a fresh token.
type updateResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token,omitempty"`
	TokenType   string       `json:"token_type,omitempty"`
}

// handleUpdateMe handles the route "PUT /users/me".
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var upd domain.UserUpdate
	if err := decodeJSON(r, &upd); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	current := auth.GetUser(r.Context())
	oldEmail := current.Email
	oldAvatar := current.AvatarURL

	user, err := s.us.Update(r.Context(), current.ID, &upd)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if oldAvatar != nil && (user.AvatarURL == nil || *user.AvatarURL != *oldAvatar) {
		s.forgetImage(r, domain.OwnerTypeUser, user.ID, *oldAvatar)
	}

	resp := updateResponse{User: user}
	if user.Email != oldEmail {
		token, err := s.creds.IssueToken(user.Email, user.ID, 0)
		if err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		resp.AccessToken = token.AccessToken
		resp.TokenType = token.TokenType
	}
	writeJSON(w, r, http.StatusOK, &resp)
}

// handleDeleteMe handles the route "DELETE /users/me".
// It deletes the account with all of its posts and likes.
func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if err := s.us.Delete(r.Context(), user.ID); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if user.AvatarURL != nil {
		s.forgetImage(r, domain.OwnerTypeUser, user.ID, *user.AvatarURL)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadAvatar handles the route "POST /users/me/avatar".
// It takes a multipart form with the image in the field "file", stores it,
// and makes it the user's avatar. The previous avatar is removed.
func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUser(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(domain.MaxUploadSize); err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Invalid multipart body, uploads are limited to %dMB.", domain.MaxUploadSize>>20))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "An image file is required."))
		return
	}
	defer file.Close()

	img := &domain.Image{
		OwnerType: domain.OwnerTypeUser,
		OwnerID:   user.ID,
		File:      file,
		Filename:  header.Filename,
	}
	if err := s.is.Create(ctx, img); err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	updated, err := s.us.Update(ctx, user.ID, &domain.UserUpdate{AvatarURL: &img.URL})
	if err != nil {
		s.forgetImage(r, domain.OwnerTypeUser, user.ID, img.URL)
		errs.ReturnError(w, r, err)
		return
	}
	if user.AvatarURL != nil && *user.AvatarURL != img.URL {
		s.forgetImage(r, domain.OwnerTypeUser, user.ID, *user.AvatarURL)
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// handleDeleteAvatar handles the route "DELETE /users/me/avatar".
func (s *Server) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	none := ""
	updated, err := s.us.Update(r.Context(), user.ID, &domain.UserUpdate{AvatarURL: &none})
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if user.AvatarURL != nil {
		s.forgetImage(r, domain.OwnerTypeUser, user.ID, *user.AvatarURL)
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// forgetImage removes an image stored for the given owner. Clients may point
// avatar_url anywhere, so URLs of other owners' images are left alone.
// Failures are only logged, the database no longer points at the file.
func (s *Server) forgetImage(r *http.Request, ownerType string, ownerID int, url string) {
	if err := s.is.Delete(r.Context(), ownerType, ownerID, url); err != nil {
		errs.LogError(r, err)
	}
}
