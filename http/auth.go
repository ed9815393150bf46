package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"postboard/auth"
	"postboard/domain"
	"postboard/errs"
)

func (s *Server) registerAuthRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/auth/me", s.requireAuth(s.handleMe)).Methods("GET")
}

// registerRequest is the body of a registration.
type registerRequest struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	AvatarURL *string `json:"avatar_url"`
}

// handleRegister handles the routes "POST /auth/register" and "POST /users".
// It creates a new user and returns it. Registering does not log the user in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	user := domain.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	}
	if err := s.us.Create(r.Context(), &user); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, &user)
}

// handleLogin handles the route "POST /auth/login".
// It takes the credentials as json ({"email", "password"}) or as an OAuth2 password
// form, where the email goes into the username field, and returns a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var email, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Invalid form body."))
			return
		}
		email = r.PostForm.Get("email")
		if email == "" {
			email = r.PostForm.Get("username")
		}
		password = r.PostForm.Get("password")
	} else {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &creds); err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		email, password = creds.Email, creds.Password
	}

	user, err := s.us.Authenticate(r.Context(), email, password)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	token, err := s.creds.IssueToken(user.Email, user.ID, 0)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, token)
}

// handleMe handles the route "GET /auth/me". It returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, auth.GetUser(r.Context()))
}
