package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/bookshelf/internal/api"
	"github.com/justyntemme/bookshelf/internal/auth"
	"github.com/justyntemme/bookshelf/internal/books"
	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/storage"
	"github.com/justyntemme/bookshelf/internal/thumbnail"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockProvider is a mock implementation of metadata.Provider
type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Lookup(ctx context.Context, isbn, apiKey string) metadata.Response {
	args := m.Called(isbn)
	return args.Get(0).(metadata.Response)
}

var jpegCover = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0x11}, 2048)...)

type testServer struct {
	router   *gin.Engine
	queue    *metadata.Queue
	primary  *MockProvider
	fallback *MockProvider
	images   *httptest.Server
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.NewDatabase(filepath.Join(dir, "bookshelf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	covers, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cover.jpg":
			w.Write(jpegCover)
		case "/cover.png":
			w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(images.Close)

	primary := &MockProvider{name: "primary"}
	fallback := &MockProvider{name: "fallback"}
	queue := metadata.NewQueue(metadata.NewResolver(primary, fallback, "key"), 0)
	queue.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		queue.Shutdown(ctx)
	})

	fetcher := thumbnail.NewFetcher(covers, 2*time.Second)
	svc := books.NewService(db, covers, queue, fetcher)
	t.Cleanup(svc.WaitImports)
	tokens := auth.NewTokenManager("test-secret")

	return &testServer{
		router:   api.NewRouter(db, tokens, svc, queue),
		queue:    queue,
		primary:  primary,
		fallback: fallback,
		images:   images,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// login registers a user and returns a token
func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username, "email": username + "@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

type bookResponse struct {
	Book struct {
		ID   string `json:"id"`
		Book struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			ISBN10 string `json:"isbn10"`
			ISBN13 string `json:"isbn13"`
		} `json:"book"`
		Tags []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"book"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := setupTestServer(t)

	for _, path := range []string{"/api/books", "/api/tags", "/api/auth/me", "/api/auth/sessions"} {
		w := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name   string
		body   gin.H
		status int
	}{
		{"short username", gin.H{"username": "ab", "email": "a@example.com", "password": "password123"}, http.StatusBadRequest},
		{"bad username chars", gin.H{"username": "bad name", "email": "a@example.com", "password": "password123"}, http.StatusBadRequest},
		{"bad email", gin.H{"username": "reader", "email": "nope", "password": "password123"}, http.StatusBadRequest},
		{"short password", gin.H{"username": "reader", "email": "a@example.com", "password": "short"}, http.StatusBadRequest},
		{"ok", gin.H{"username": "reader", "email": "a@example.com", "password": "password123"}, http.StatusCreated},
		{"taken", gin.H{"username": "reader", "email": "b@example.com", "password": "password123"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := s.do(t, http.MethodGet, "/api/auth/check-username?username=reader", "", nil)
	assert.JSONEq(t, `{"available":false}`, w.Body.String())
	w = s.do(t, http.MethodGet, "/api/auth/check-username?username=someone", "", nil)
	assert.JSONEq(t, `{"available":true}`, w.Body.String())
}

func TestLoginSetsCookie(t *testing.T) {
	s := setupTestServer(t)
	s.login(t, "reader")

	w := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "reader", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "reader", "password": "password123", "long_lasted": true})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.Positive(t, cookies[0].MaxAge)

	// The cookie alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"reader"`)
}

func TestSessions(t *testing.T) {
	s := setupTestServer(t)
	first := s.login(t, "reader")

	w := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "reader", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[struct {
		Token string `json:"token"`
	}](t, w).Token

	w = s.do(t, http.MethodGet, "/api/auth/sessions", second, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[struct {
		Sessions []struct {
			Current bool `json:"current"`
		} `json:"sessions"`
	}](t, w).Sessions
	require.Len(t, sessions, 2)
	current := 0
	for _, sess := range sessions {
		if sess.Current {
			current++
		}
	}
	assert.Equal(t, 1, current)

	w = s.do(t, http.MethodDelete, "/api/auth/sessions", second, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", first, nil).Code)

	w = s.do(t, http.MethodPost, "/api/auth/logout", second, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", second, nil).Code)
}

func TestUpdateAndDeleteCurrentUser(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	w := s.do(t, http.MethodPut, "/api/auth/me", token, gin.H{"email": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/auth/me", token, gin.H{"email": "New@Example.com", "password": "newpassword1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"email":"new@example.com"`)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "reader", "password": "newpassword1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/auth/me", token, nil).Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "reader", "password": "newpassword1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAddBookByISBN(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	s.primary.On("Lookup", "9780553293357").Return(metadata.Response{Reason: "no result for ISBN"}).Once()
	s.fallback.On("Lookup", "9780553293357").Return(metadata.Response{
		OK:           true,
		Title:        "Foundation",
		Author:       "Isaac Asimov",
		ISBN13:       "9780553293357",
		PublishDate:  "1951",
		ThumbnailURL: s.images.URL + "/cover.jpg",
	}).Once()

	w := s.do(t, http.MethodPost, "/api/books", token, gin.H{"isbn": "978-0553293357"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[bookResponse](t, w)
	assert.Equal(t, "Foundation", added.Book.Book.Title)
	assert.Contains(t, w.Body.String(), `"publish_date":"1951-01-01T00:00:00Z"`)

	// Cover was downloaded and is served with an ETag
	w = s.do(t, http.MethodGet, "/api/books/"+added.Book.ID+"/cover", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, jpegCover, w.Body.Bytes())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/books/"+added.Book.ID+"/cover", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// Same ISBN again is a conflict and needs no lookup
	w = s.do(t, http.MethodPost, "/api/books", token, gin.H{"isbn": "9780553293357"})
	assert.Equal(t, http.StatusConflict, w.Code)

	s.primary.AssertExpectations(t)
	s.fallback.AssertExpectations(t)
}

func TestAddBookErrors(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	s.primary.On("Lookup", "0000000000").Return(metadata.Response{Reason: "primary down"})
	s.fallback.On("Lookup", "0000000000").Return(metadata.Response{Reason: "no result for ISBN"})

	w := s.do(t, http.MethodPost, "/api/books", token, gin.H{"isbn": "0000000000"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Book not found","reason":"no result for ISBN"}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/books", token, gin.H{"isbn": "12-34"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/books", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddBookWhileShuttingDown(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	require.NoError(t, s.queue.Shutdown(context.Background()))

	w := s.do(t, http.MethodPost, "/api/books", token, gin.H{"isbn": "9780553293357"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Service busy, try again")
}

func TestManualBookAndUpdate(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	w := s.do(t, http.MethodPost, "/api/tags", token, gin.H{"name": "scifi", "color": "#336699"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tagID := decode[struct {
		Tag struct {
			ID string `json:"id"`
		} `json:"tag"`
	}](t, w).Tag.ID

	w = s.do(t, http.MethodPost, "/api/books/manual", token, gin.H{"title": "Untitled"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "author is required")

	w = s.do(t, http.MethodPost, "/api/books/manual", token, gin.H{"title": "Untitled", "author": "Anon"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "an ISBN is required")

	w = s.do(t, http.MethodPost, "/api/books/manual", token, gin.H{
		"title": "Hyperion", "author": "Dan Simmons", "isbn13": "978-0553283686",
		"publish_date": "1989-05-26", "tags": []string{tagID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[bookResponse](t, w)
	assert.Equal(t, "9780553283686", created.Book.Book.ISBN13)
	require.Len(t, created.Book.Tags, 1)

	w = s.do(t, http.MethodPut, "/api/books/"+created.Book.ID, token, gin.H{"title": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/books/"+created.Book.ID, token, gin.H{"subtitle": "A Novel", "tags": []string{}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[bookResponse](t, w)
	assert.Equal(t, "Hyperion", updated.Book.Book.Title)
	assert.Empty(t, updated.Book.Tags)

	w = s.do(t, http.MethodPut, "/api/books/"+created.Book.ID, token, gin.H{"publish_date": "someday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/books/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListReadAndDeleteBooks(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")
	other := s.login(t, "other")

	ids := map[string]string{}
	for title, isbn := range map[string]string{"Dune": "0441013597", "Emma": "0141439580", "Ubik": "0547572298"} {
		w := s.do(t, http.MethodPost, "/api/books/manual", token, gin.H{"title": title, "author": "Someone", "isbn10": isbn})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		ids[title] = decode[bookResponse](t, w).Book.ID
	}

	w := s.do(t, http.MethodPost, "/api/books/"+ids["Emma"]+"/read", token, gin.H{"read": true})
	require.Equal(t, http.StatusOK, w.Code)

	type page struct {
		Total int `json:"total"`
		Books []struct {
			ID   string `json:"id"`
			Book struct {
				Title string `json:"title"`
			} `json:"book"`
		} `json:"books"`
	}

	w = s.do(t, http.MethodGet, "/api/books?limit=2&sort_column=0&asc=true", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[page](t, w)
	assert.Equal(t, 3, p.Total)
	require.Len(t, p.Books, 2)
	assert.Equal(t, "Dune", p.Books[0].Book.Title)
	assert.Equal(t, "Emma", p.Books[1].Book.Title)

	w = s.do(t, http.MethodGet, "/api/books?read=true", token, nil)
	p = decode[page](t, w)
	require.Len(t, p.Books, 1)
	assert.Equal(t, "Emma", p.Books[0].Book.Title)

	w = s.do(t, http.MethodGet, "/api/books?search=ubi", token, nil)
	p = decode[page](t, w)
	require.Len(t, p.Books, 1)
	assert.Equal(t, ids["Ubik"], p.Books[0].ID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/books?limit=0", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/books?sort_column=9", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/books?read=maybe", token, nil).Code)

	// Shelves are private
	w = s.do(t, http.MethodGet, "/api/books", other, nil)
	assert.Equal(t, 0, decode[page](t, w).Total)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/books/"+ids["Dune"], other, nil).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/books/"+ids["Dune"], token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/books/"+ids["Dune"], token, nil).Code)
}

func TestUpdateCover(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	w := s.do(t, http.MethodPost, "/api/books/manual", token, gin.H{"title": "Dune", "author": "Frank Herbert", "isbn10": "0441013597"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[bookResponse](t, w).Book.ID

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/books/"+id+"/cover", "", nil).Code)

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"not a url", "cover", http.StatusBadRequest},
		{"png", s.images.URL + "/cover.png", http.StatusBadRequest},
		{"missing", s.images.URL + "/missing.jpg", http.StatusBadGateway},
		{"jpeg", s.images.URL + "/cover.jpg", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/books/"+id+"/cover", token, gin.H{"url": tt.url})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w = s.do(t, http.MethodGet, "/api/books/"+id+"/cover", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jpegCover, w.Body.Bytes())
}

func TestTags(t *testing.T) {
	s := setupTestServer(t)
	token := s.login(t, "reader")

	tests := []struct {
		name   string
		body   gin.H
		status int
	}{
		{"ok", gin.H{"name": "favorites", "color": "#ff0000"}, http.StatusCreated},
		{"duplicate", gin.H{"name": "favorites", "color": "#00ff00"}, http.StatusConflict},
		{"space in name", gin.H{"name": "to read", "color": "#00ff00"}, http.StatusBadRequest},
		{"long name", gin.H{"name": "abcdefghijklmnopqrstuvwxyzabcdefghijk", "color": "#00ff00"}, http.StatusBadRequest},
		{"bad color", gin.H{"name": "later", "color": "red"}, http.StatusBadRequest},
		{"second", gin.H{"name": "later", "color": "#0000ff"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/tags", token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	type tagList struct {
		Tags []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tags"`
	}
	tags := decode[tagList](t, s.do(t, http.MethodGet, "/api/tags", token, nil)).Tags
	require.Len(t, tags, 2)
	assert.Equal(t, "favorites", tags[0].Name)

	w := s.do(t, http.MethodPut, "/api/tags/"+tags[1].ID, token, gin.H{"name": "favorites", "color": "#0000ff"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPut, "/api/tags/"+tags[1].ID, token, gin.H{"name": "soon", "color": "#0000ff"})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/tags/"+tags[0].ID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/tags/"+tags[0].ID, token, nil).Code)
	assert.Len(t, decode[tagList](t, s.do(t, http.MethodGet, "/api/tags", token, nil)).Tags, 1)
}
