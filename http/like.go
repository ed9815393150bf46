package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"postboard/auth"
	"postboard/errs"
)

// registerLikeRoutes is a helper for registering all Like routes.
func (s *Server) registerLikeRoutes(r *mux.Router) {
	// Like a post, or unlike it if the caller already does.
	r.HandleFunc("/posts/{id:[0-9]+}/like", s.requireAuth(s.handleToggleLike)).Methods("POST")
	r.HandleFunc("/likes/posts/{id:[0-9]+}/like", s.requireAuth(s.handleToggleLike)).Methods("POST")

	// List who liked a post.
	r.HandleFunc("/likes/posts/{id:[0-9]+}/likes", s.handleListLikes).Methods("GET")
}

// handleToggleLike handles the routes "POST /posts/:id/like" and "POST /likes/posts/:id/like".
// It flips the authenticated user's like on the post and returns the new state.
func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	postID, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	user := auth.GetUser(r.Context())
	toggle, err := s.ls.Toggle(r.Context(), user.ID, postID)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toggle)
}

// handleListLikes handles the route "GET /likes/posts/:id/likes".
func (s *Server) handleListLikes(w http.ResponseWriter, r *http.Request) {
	postID, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	likes, err := s.ls.ByPost(r.Context(), postID)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, likes)
}
