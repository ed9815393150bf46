package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"postboard/auth"
	"postboard/crud"
	"postboard/domain"
	"postboard/errs"
)

// Server provides the http side of the app, namely routing, request handling
// and middleware. Requests are authenticated by bearer token before they're
// handed over to one of the crud services.
type Server struct {
	router *mux.Router
	api    *mux.Router
	creds  *auth.Credentials
	us     domain.UserService
	ps     domain.PostService
	ls     domain.LikeService
	prs    domain.ProfileService
	is     domain.ImageService

	userMw        *auth.UserMw
	requireUserMw *auth.RequireUserMw
	corsOrigins   []string
}

// NewServer returns a new instance of the server, registers all routes and gives
// their handlers access to the services passed in.
func NewServer(services *crud.Services, creds *auth.Credentials, images domain.ImageService, corsOrigins []string) *Server {
	resolver := auth.NewResolver(creds, services.User)
	s := &Server{
		router:        mux.NewRouter(),
		creds:         creds,
		us:            services.User,
		ps:            services.Post,
		ls:            services.Like,
		prs:           services.Profile,
		is:            images,
		userMw:        &auth.UserMw{Resolver: resolver},
		requireUserMw: &auth.RequireUserMw{Resolver: resolver},
		corsOrigins:   corsOrigins,
	}
	s.api = s.router.NewRoute().Subrouter()
	s.api.Use(setContentTypeJSON)

	s.registerAuthRoutes(s.api)
	s.registerPostRoutes(s.api)
	s.registerLikeRoutes(s.api)
	s.registerUserRoutes(s.api)
	s.api.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.api.HandleFunc("/", s.handleRoot).Methods("GET")
	return s
}

// Mount serves h below prefix, outside of the json api. Used for uploaded files.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.router.PathPrefix(prefix).Handler(h)
}

// Handler returns the router wrapped in the middleware that runs on every request:
// panic recovery, CORS, and access logging.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.corsOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowCredentials(),
	)
	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))
	return handlers.LoggingHandler(os.Stdout, recovery(cors(s.router)))
}

// Run listens and serves on the given port until ctx is cancelled,
// then gives open requests a few seconds to finish.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("[http] server stopped")
	return nil
}

// The setContentTypeJSON middleware sets the content type to "application/json".
func setContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// optionalAuth resolves the caller if a token is sent, anonymous otherwise.
func (s *Server) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return s.userMw.ApplyFn(next)
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUserMw.ApplyFn(next)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "Welcome to postboard."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs.LogError(r, err)
	}
}

// decodeJSON reads the request's json body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Errorf(errs.EINVALID, "Invalid json body.")
	}
	return nil
}

// idParam parses the positive integer route parameter name.
func idParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil || id <= 0 {
		return 0, errs.Errorf(errs.EINVALID, "Invalid Id format.")
	}
	return id, nil
}

// pageParams parses the skip and limit query parameters. Missing ones are zero.
func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	var skip, limit int
	var err error
	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, errs.Errorf(errs.EINVALID, "skip must be a non-negative integer.")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errs.Errorf(errs.EINVALID, "limit must be a non-negative integer.")
		}
	}
	return skip, limit, nil
}
