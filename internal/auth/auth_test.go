package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/bookshelf/internal/models"
	"github.com/justyntemme/bookshelf/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHashPassword(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)
}

func TestCheckPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	// Correct password
	assert.True(t, CheckPassword(password, hash))

	// Wrong password
	assert.False(t, CheckPassword("wrongpassword", hash))
}

func TestValidateToken(t *testing.T) {
	m := NewTokenManager("test-secret")

	token, err := m.GenerateToken("user-1", "reader", "session-1")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "reader", claims.Username)
	assert.Equal(t, "session-1", claims.SessionID())
}

func TestValidateToken_Invalid(t *testing.T) {
	m := NewTokenManager("test-secret")

	_, err := m.ValidateToken("invalid-token")
	assert.Equal(t, ErrInvalidToken, err)

	token, err := NewTokenManager("other-secret").GenerateToken("user-1", "reader", "session-1")
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewTokenManager("test-secret")
	token, err := m.GenerateToken("user-1", "reader", "session-1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(LongLastedTTL + time.Hour) }
	_, err = m.ValidateToken(token)
	assert.Equal(t, ErrExpiredToken, err)
}

// fakeSessions is an in-memory SessionStore
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func (f *fakeSessions) GetSession(id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) TouchSession(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastConnectionAt = at
		return nil
	}
	return storage.ErrNotFound
}

func (f *fakeSessions) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func newProtectedRouter(m *TokenManager, store SessionStore) *gin.Engine {
	r := gin.New()
	r.GET("/me", m.Middleware(store), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "username": GetUsername(c), "session_id": GetSessionID(c)})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	m := NewTokenManager("test-secret")
	store := &fakeSessions{sessions: map[string]*models.Session{
		"live":  {ID: "live", UserID: "user-1", LastConnectionAt: time.Now()},
		"stale": {ID: "stale", UserID: "user-1", LastConnectionAt: time.Now().Add(-2 * ShortSessionIdle)},
		"long":  {ID: "long", UserID: "user-1", LongLasted: true, LastConnectionAt: time.Now().Add(-2 * ShortSessionIdle)},
		"other": {ID: "other", UserID: "user-2", LastConnectionAt: time.Now()},
	}}
	router := newProtectedRouter(m, store)

	token := func(sessionID string) string {
		tok, err := m.GenerateToken("user-1", "reader", sessionID)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"no token", func(req *http.Request) {}, http.StatusUnauthorized},
		{"cookie", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: CookieName, Value: token("live")})
		}, http.StatusOK},
		{"bearer header", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token("live"))
		}, http.StatusOK},
		{"garbage token", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer nope")
		}, http.StatusUnauthorized},
		{"unknown session", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token("gone"))
		}, http.StatusUnauthorized},
		{"session of another user", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token("other"))
		}, http.StatusUnauthorized},
		{"idle short session", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token("stale"))
		}, http.StatusUnauthorized},
		{"idle long-lasted session", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token("long"))
		}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	_, err := store.GetSession("stale")
	assert.ErrorIs(t, err, storage.ErrNotFound, "idle short sessions are removed")
}

func TestSetTokenCookie(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", nil)

	SetTokenCookie(c, "tok", true)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.Equal(t, int(LongLastedTTL.Seconds()), cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
}
