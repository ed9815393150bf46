package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"postboard/auth"
	"postboard/crud"
	"postboard/domain"
	"postboard/storage"
)

// testServer wires the real services to a fresh sqlite database and a disk image store.
func testServer(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("getting sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	creds := auth.NewCredentials(auth.Config{SecretKey: "test-secret", BcryptCost: bcrypt.MinCost})
	services, err := crud.NewServices(db,
		crud.WithUser(creds),
		crud.WithPost(),
		crud.WithLike(),
		crud.WithProfile())
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	if err := services.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	uploads := storage.NewDiskStore(filepath.Join(dir, "uploads"), "/uploads")
	s := NewServer(services, creds, storage.NewImageService(uploads), []string{"http://localhost:3000"})
	s.Mount("/uploads/", uploads.Handler())
	return s.Handler()
}

// do sends a request with an optional bearer token and json body.
func do(t *testing.T, h http.Handler, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(h, req, token)
}

func send(h http.Handler, req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d, body %s", w.Code, status, w.Body.String())
	}
}

// signup registers a user and logs them in.
func signup(t *testing.T, h http.Handler, name string) (domain.User, string) {
	t.Helper()
	w := do(t, h, "POST", "/auth/register", "", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "password-" + name,
	})
	wantStatus(t, w, http.StatusCreated)
	var user domain.User
	decode(t, w, &user)

	w = do(t, h, "POST", "/auth/login", "", map[string]string{
		"email":    name + "@example.com",
		"password": "password-" + name,
	})
	wantStatus(t, w, http.StatusOK)
	var token auth.Token
	decode(t, w, &token)
	return user, token.AccessToken
}

func createPost(t *testing.T, h http.Handler, token, target, text string) domain.PostView {
	t.Helper()
	w := do(t, h, "POST", target, token, map[string]string{"text": text})
	wantStatus(t, w, http.StatusCreated)
	var post domain.PostView
	decode(t, w, &post)
	return post
}

func TestAuthRoutes(t *testing.T) {
	h := testServer(t)
	alice, token := signup(t, h, "alice")
	if alice.ID == 0 || alice.Username != "alice" {
		t.Fatalf("registered %+v", alice)
	}

	t.Run("register hides the password", func(t *testing.T) {
		w := do(t, h, "POST", "/users", "", map[string]string{
			"username": "bob", "email": "bob@example.com", "password": "secret-bob",
		})
		wantStatus(t, w, http.StatusCreated)
		if strings.Contains(w.Body.String(), "secret-bob") || strings.Contains(w.Body.String(), "password") {
			t.Errorf("response leaks the password: %s", w.Body.String())
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		w := do(t, h, "POST", "/auth/register", "", map[string]string{
			"username": "alice", "email": "other@example.com", "password": "password-x",
		})
		wantStatus(t, w, http.StatusConflict)
	})

	t.Run("invalid email", func(t *testing.T) {
		w := do(t, h, "POST", "/auth/register", "", map[string]string{
			"username": "carol", "email": "not-an-email", "password": "password-c",
		})
		wantStatus(t, w, http.StatusBadRequest)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := do(t, h, "POST", "/auth/login", "", map[string]string{
			"email": "alice@example.com", "password": "wrong-password",
		})
		wantStatus(t, w, http.StatusUnauthorized)
	})

	t.Run("form login", func(t *testing.T) {
		form := url.Values{"username": {"alice@example.com"}, "password": {"password-alice"}}
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := send(h, req, "")
		wantStatus(t, w, http.StatusOK)
		var tok auth.Token
		decode(t, w, &tok)
		if tok.AccessToken == "" || tok.TokenType != "bearer" {
			t.Errorf("token %+v", tok)
		}
	})

	t.Run("me", func(t *testing.T) {
		w := do(t, h, "GET", "/auth/me", token, nil)
		wantStatus(t, w, http.StatusOK)
		var me domain.User
		decode(t, w, &me)
		if me.ID != alice.ID {
			t.Errorf("me = %d, want %d", me.ID, alice.ID)
		}
	})

	t.Run("me without token", func(t *testing.T) {
		w := do(t, h, "GET", "/auth/me", "", nil)
		wantStatus(t, w, http.StatusUnauthorized)
		if w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("me with garbage token", func(t *testing.T) {
		wantStatus(t, do(t, h, "GET", "/auth/me", "garbage", nil), http.StatusUnauthorized)
	})
}

func TestPostsAndLikes(t *testing.T) {
	h := testServer(t)
	alice, aliceToken := signup(t, h, "alice")
	bob, bobToken := signup(t, h, "bob")

	post := createPost(t, h, aliceToken, "/posts", "hello")
	if post.Owner.ID != alice.ID || post.Text != "hello" || len(post.Replies) != 0 {
		t.Fatalf("created %+v", post)
	}
	reply := createPost(t, h, bobToken, fmt.Sprintf("/posts/%d/replies", post.ID), "hi alice")
	if reply.ParentID == nil || *reply.ParentID != post.ID {
		t.Fatalf("reply parent = %v", reply.ParentID)
	}

	likePath := fmt.Sprintf("/posts/%d/like", post.ID)
	for i, want := range []domain.LikeToggle{{IsLiked: true, LikesCount: 1}, {IsLiked: false, LikesCount: 0}, {IsLiked: true, LikesCount: 1}} {
		w := do(t, h, "POST", likePath, bobToken, nil)
		wantStatus(t, w, http.StatusOK)
		var got domain.LikeToggle
		decode(t, w, &got)
		if got != want {
			t.Errorf("toggle %d = %+v, want %+v", i, got, want)
		}
	}
	wantStatus(t, do(t, h, "POST", likePath, "", nil), http.StatusUnauthorized)
	wantStatus(t, do(t, h, "POST", "/posts/999/like", bobToken, nil), http.StatusNotFound)

	w := do(t, h, "GET", fmt.Sprintf("/likes/posts/%d/likes", post.ID), "", nil)
	wantStatus(t, w, http.StatusOK)
	var likes []domain.Like
	decode(t, w, &likes)
	if len(likes) != 1 || likes[0].UserID != bob.ID {
		t.Errorf("likes = %+v", likes)
	}

	t.Run("anonymous list", func(t *testing.T) {
		w := do(t, h, "GET", "/posts", "", nil)
		wantStatus(t, w, http.StatusOK)
		var posts []domain.PostView
		decode(t, w, &posts)
		if len(posts) != 1 {
			t.Fatalf("listed %d posts, want only the top-level one", len(posts))
		}
		if posts[0].IsLikedByUser || posts[0].LikesCount != 1 {
			t.Errorf("liked %v, %d likes", posts[0].IsLikedByUser, posts[0].LikesCount)
		}
		if len(posts[0].Replies) != 1 || posts[0].Replies[0].ID != reply.ID {
			t.Errorf("replies = %+v", posts[0].Replies)
		}
	})

	t.Run("liker sees the like", func(t *testing.T) {
		w := do(t, h, "GET", fmt.Sprintf("/posts/%d", post.ID), bobToken, nil)
		wantStatus(t, w, http.StatusOK)
		var got domain.PostView
		decode(t, w, &got)
		if !got.IsLikedByUser {
			t.Error("bob liked the post")
		}
	})

	t.Run("invalid token reads anonymously", func(t *testing.T) {
		wantStatus(t, do(t, h, "GET", "/posts", "garbage", nil), http.StatusOK)
	})

	t.Run("profile", func(t *testing.T) {
		w := do(t, h, "GET", fmt.Sprintf("/users/%d", bob.ID), aliceToken, nil)
		wantStatus(t, w, http.StatusOK)
		var profile domain.Profile
		decode(t, w, &profile)
		if profile.Username != "bob" || profile.PostsCount != 0 || profile.RepliesCount != 1 {
			t.Errorf("profile %+v", profile)
		}
		wantStatus(t, do(t, h, "GET", "/users/999", "", nil), http.StatusNotFound)
	})
}

func TestPostOwnership(t *testing.T) {
	h := testServer(t)
	_, aliceToken := signup(t, h, "alice")
	_, bobToken := signup(t, h, "bob")
	post := createPost(t, h, aliceToken, "/posts", "original")
	postPath := fmt.Sprintf("/posts/%d", post.ID)

	wantStatus(t, do(t, h, "PUT", postPath, "", map[string]string{"text": "anon"}), http.StatusUnauthorized)
	wantStatus(t, do(t, h, "PUT", postPath, bobToken, map[string]string{"text": "bob"}), http.StatusForbidden)
	wantStatus(t, do(t, h, "PUT", "/posts/999", aliceToken, map[string]string{"text": "x"}), http.StatusNotFound)
	wantStatus(t, do(t, h, "PUT", postPath, aliceToken, map[string]string{"text": "   "}), http.StatusBadRequest)

	w := do(t, h, "PUT", postPath+"?new_text=edited", aliceToken, nil)
	wantStatus(t, w, http.StatusOK)
	var edited domain.PostView
	decode(t, w, &edited)
	if edited.Text != "edited" || !edited.Timestamp.Equal(post.Timestamp) {
		t.Errorf("edited %+v, timestamp was %v", edited, post.Timestamp)
	}

	wantStatus(t, do(t, h, "DELETE", postPath, bobToken, nil), http.StatusForbidden)
	wantStatus(t, do(t, h, "DELETE", postPath, aliceToken, nil), http.StatusNoContent)
	wantStatus(t, do(t, h, "GET", postPath, "", nil), http.StatusNotFound)
}

func TestBadInput(t *testing.T) {
	h := testServer(t)
	_, token := signup(t, h, "alice")

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
	}{
		{"empty text", "POST", "/posts", map[string]string{"text": ""}, http.StatusBadRequest},
		{"missing parent", "POST", "/posts/999/replies", map[string]string{"text": "hi"}, http.StatusNotFound},
		{"negative limit", "GET", "/posts?limit=-1", nil, http.StatusBadRequest},
		{"non numeric skip", "GET", "/users?skip=abc", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, do(t, h, tt.method, tt.target, token, tt.body), tt.status)
		})
	}

	t.Run("broken json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/posts", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		wantStatus(t, send(h, req, token), http.StatusBadRequest)
	})
}

func TestAccountRoutes(t *testing.T) {
	h := testServer(t)
	alice, token := signup(t, h, "alice")
	createPost(t, h, token, "/posts", "soon gone")

	w := do(t, h, "PUT", "/users/me", token, map[string]string{"email": "alice@new.example.com"})
	wantStatus(t, w, http.StatusOK)
	var upd struct {
		User        domain.User `json:"user"`
		AccessToken string      `json:"access_token"`
	}
	decode(t, w, &upd)
	if upd.User.Email != "alice@new.example.com" || upd.AccessToken == "" {
		t.Fatalf("update = %+v", upd)
	}
	// The old token names an email nobody has anymore.
	wantStatus(t, do(t, h, "GET", "/users/me", token, nil), http.StatusUnauthorized)
	token = upd.AccessToken

	w = do(t, h, "GET", "/users", "", nil)
	wantStatus(t, w, http.StatusOK)
	var users []domain.User
	decode(t, w, &users)
	if len(users) != 1 || users[0].ID != alice.ID {
		t.Errorf("users = %+v", users)
	}

	wantStatus(t, do(t, h, "DELETE", "/users/me", token, nil), http.StatusNoContent)
	wantStatus(t, do(t, h, "GET", "/users/me", token, nil), http.StatusUnauthorized)

	w = do(t, h, "GET", "/posts", "", nil)
	var posts []domain.PostView
	decode(t, w, &posts)
	if len(posts) != 0 {
		t.Errorf("posts of a deleted user survived: %+v", posts)
	}
}

func TestReusedEmailToken(t *testing.T) {
	h := testServer(t)
	alice, staleToken := signup(t, h, "alice")

	w := do(t, h, "PUT", "/users/me", staleToken, map[string]string{"email": "alice@new.example.com"})
	wantStatus(t, w, http.StatusOK)

	// Somebody else takes over the address the stale token names.
	w = do(t, h, "POST", "/auth/register", "", map[string]string{
		"username": "eve", "email": "alice@example.com", "password": "password-eve",
	})
	wantStatus(t, w, http.StatusCreated)
	var eve domain.User
	decode(t, w, &eve)
	if eve.ID == alice.ID {
		t.Fatalf("eve got alice's ID %d", eve.ID)
	}

	wantStatus(t, do(t, h, "GET", "/users/me", staleToken, nil), http.StatusUnauthorized)
	wantStatus(t, do(t, h, "POST", "/posts", staleToken, map[string]string{"text": "not eve"}), http.StatusUnauthorized)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartRequest builds a form with the given fields and one file.
func multipartRequest(t *testing.T, target string, fields map[string]string, fileField, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImages(t *testing.T) {
	h := testServer(t)
	_, token := signup(t, h, "alice")
	data := pngBytes(t)

	t.Run("post with image", func(t *testing.T) {
		w := send(h, multipartRequest(t, "/posts", map[string]string{"text": "look"}, "image", "dot.png", data), token)
		wantStatus(t, w, http.StatusCreated)
		var post domain.PostView
		decode(t, w, &post)
		if post.ImageURL == nil || !strings.HasPrefix(*post.ImageURL, fmt.Sprintf("/uploads/post/%d/", post.ID)) {
			t.Fatalf("image_url = %v", post.ImageURL)
		}

		got := do(t, h, "GET", *post.ImageURL, "", nil)
		wantStatus(t, got, http.StatusOK)
		if !bytes.Equal(got.Body.Bytes(), data) {
			t.Error("served image differs from the upload")
		}

		wantStatus(t, do(t, h, "DELETE", fmt.Sprintf("/posts/%d", post.ID), token, nil), http.StatusNoContent)
		wantStatus(t, do(t, h, "GET", *post.ImageURL, "", nil), http.StatusNotFound)
	})

	t.Run("mismatched image rolls the post back", func(t *testing.T) {
		w := send(h, multipartRequest(t, "/posts", map[string]string{"text": "lies"}, "image", "dot.gif", data), token)
		wantStatus(t, w, http.StatusBadRequest)

		w = do(t, h, "GET", "/posts", "", nil)
		var posts []domain.PostView
		decode(t, w, &posts)
		if len(posts) != 0 {
			t.Errorf("post survived a failed upload: %+v", posts)
		}
	})

	t.Run("avatar", func(t *testing.T) {
		w := send(h, multipartRequest(t, "/users/me/avatar", nil, "file", "me.png", data), token)
		wantStatus(t, w, http.StatusOK)
		var user domain.User
		decode(t, w, &user)
		if user.AvatarURL == nil || !strings.HasPrefix(*user.AvatarURL, fmt.Sprintf("/uploads/user/%d/", user.ID)) {
			t.Fatalf("avatar_url = %v", user.AvatarURL)
		}
		avatar := *user.AvatarURL
		wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusOK)

		w = do(t, h, "DELETE", "/users/me/avatar", token, nil)
		wantStatus(t, w, http.StatusOK)
		decode(t, w, &user)
		if user.AvatarURL != nil {
			t.Errorf("avatar_url = %v after removal", *user.AvatarURL)
		}
		wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusNotFound)
	})
}

func TestHealthAndCORS(t *testing.T) {
	h := testServer(t)
	w := do(t, h, "GET", "/health", "", nil)
	wantStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = send(h, req, "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestForeignAvatarSurvives(t *testing.T) {
	h := testServer(t)
	_, aliceToken := signup(t, h, "alice")
	_, malloryToken := signup(t, h, "mallory")

	w := send(h, multipartRequest(t, "/users/me/avatar", nil, "file", "me.png", pngBytes(t)), aliceToken)
	wantStatus(t, w, http.StatusOK)
	var alice domain.User
	decode(t, w, &alice)
	avatar := *alice.AvatarURL

	// Mallory points their avatar at alice's file and then lets go of it in every way there is.
	wantStatus(t, do(t, h, "PUT", "/users/me", malloryToken, map[string]string{"avatar_url": avatar}), http.StatusOK)
	wantStatus(t, do(t, h, "DELETE", "/users/me/avatar", malloryToken, nil), http.StatusOK)
	wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusOK)

	wantStatus(t, do(t, h, "PUT", "/users/me", malloryToken, map[string]string{"avatar_url": avatar}), http.StatusOK)
	wantStatus(t, do(t, h, "PUT", "/users/me", malloryToken, map[string]string{"avatar_url": "https://elsewhere.example/x.png"}), http.StatusOK)
	wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusOK)

	wantStatus(t, do(t, h, "PUT", "/users/me", malloryToken, map[string]string{"avatar_url": avatar}), http.StatusOK)
	wantStatus(t, do(t, h, "DELETE", "/users/me", malloryToken, nil), http.StatusNoContent)
	wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusOK)

	// The owner can still remove it.
	wantStatus(t, do(t, h, "DELETE", "/users/me/avatar", aliceToken, nil), http.StatusOK)
	wantStatus(t, do(t, h, "GET", avatar, "", nil), http.StatusNotFound)
}
