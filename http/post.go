package http

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"postboard/auth"
	"postboard/domain"
	"postboard/errs"
)

func (s *Server) registerPostRoutes(r *mux.Router) {
	r.HandleFunc("/posts", s.optionalAuth(s.handleListPosts)).Methods("GET")
	r.HandleFunc("/posts/{id:[0-9]+}", s.optionalAuth(s.handleGetPost)).Methods("GET")
	r.HandleFunc("/posts", s.requireAuth(s.handleCreatePost)).Methods("POST")
	r.HandleFunc("/posts/{id:[0-9]+}/replies", s.requireAuth(s.handleCreatePost)).Methods("POST")
	r.HandleFunc("/posts/{id:[0-9]+}", s.requireAuth(s.handleUpdatePost)).Methods("PUT")
	r.HandleFunc("/posts/{id:[0-9]+}", s.requireAuth(s.handleDeletePost)).Methods("DELETE")
}

// handleListPosts handles the route "GET /posts?skip=&limit=".
// It returns a page of top-level posts, newest first, as seen by the caller.
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	posts, err := s.ps.List(r.Context(), skip, limit)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, domain.NewPostViews(posts, auth.GetIdentity(r.Context())))
}

// handleGetPost handles the route "GET /posts/:id".
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	post, err := s.ps.ByID(r.Context(), id)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, domain.NewPostView(post, auth.GetIdentity(r.Context())))
}

// postInput is what a client sends to create a post: text and an optional image.
type postInput struct {
	text     string
	image    multipart.File
	filename string
}

// readPostInput takes the post either from a multipart form (fields "text" and
// "image") or from a json body {"text": ...}.
func readPostInput(w http.ResponseWriter, r *http.Request) (*postInput, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		return &postInput{text: body.Text}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(domain.MaxUploadSize); err != nil {
		return nil, errs.Errorf(errs.EINVALID, "Invalid multipart body, uploads are limited to %dMB.", domain.MaxUploadSize>>20)
	}
	in := &postInput{text: r.FormValue("text")}
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return nil, errs.Errorf(errs.EINVALID, "Invalid image upload.")
	}
	in.image = file
	in.filename = header.Filename
	return in, nil
}

// handleCreatePost handles the routes "POST /posts" and "POST /posts/:id/replies".
// An attached image is stored after the post was created, since its key needs the
// post's ID. If storing fails the post is removed again.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUser(ctx)

	post := domain.Post{OwnerID: user.ID}
	if _, found := mux.Vars(r)["id"]; found {
		parentID, err := idParam(r, "id")
		if err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		post.ParentID = &parentID
	}

	in, err := readPostInput(w, r)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if in.image != nil {
		defer in.image.Close()
	}
	post.Text = in.text

	if err := s.ps.Create(ctx, &post); err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	if in.image != nil {
		img := &domain.Image{
			OwnerType: domain.OwnerTypePost,
			OwnerID:   post.ID,
			File:      in.image,
			Filename:  in.filename,
		}
		err := s.is.Create(ctx, img)
		if err == nil {
			err = s.ps.SetImage(ctx, post.ID, img.URL)
		}
		if err != nil {
			if derr := s.ps.Delete(ctx, auth.GetIdentity(ctx), post.ID); derr != nil {
				errs.LogError(r, derr)
			}
			if img.URL != "" {
				s.forgetImage(r, domain.OwnerTypePost, post.ID, img.URL)
			}
			errs.ReturnError(w, r, err)
			return
		}
		post.ImageURL = &img.URL
	}

	writeJSON(w, r, http.StatusCreated, domain.NewPostView(&post, auth.GetIdentity(ctx)))
}

// handleUpdatePost handles the route "PUT /posts/:id".
// The new text comes from the query parameter new_text or from a json body {"text": ...}.
func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	text, ok := r.URL.Query()["new_text"]
	var newText string
	if ok && len(text) > 0 {
		newText = text[0]
	} else {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(r, &body); err != nil {
			errs.ReturnError(w, r, err)
			return
		}
		newText = body.Text
	}

	identity := auth.GetIdentity(r.Context())
	post, err := s.ps.Update(r.Context(), identity, id, newText)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, domain.NewPostView(post, identity))
}

// handleDeletePost handles the route "DELETE /posts/:id".
// It deletes the post with its replies and likes, then forgets the post's image.
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	post, err := s.ps.ByID(r.Context(), id)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if err := s.ps.Delete(r.Context(), auth.GetIdentity(r.Context()), id); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if post.ImageURL != nil {
		s.forgetImage(r, domain.OwnerTypePost, post.ID, *post.ImageURL)
	}
	w.WriteHeader(http.StatusNoContent)
}
