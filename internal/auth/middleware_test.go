package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSessionMiddleware(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var seen string
	handler := SessionMiddleware(CookieConfig{SameSite: "lax", MaxAge: time.Hour})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetSessionID(r)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	require.Fail(t, "session cookie not set")
	return nil
}

func TestSessionMiddleware_IssuesNewSession(t *testing.T) {
	seen, rec := runSessionMiddleware(t, httptest.NewRequest(http.MethodGet, "/session", nil))

	assert.NoError(t, uuid.Validate(seen))
	cookie := sessionCookie(t, rec)
	assert.Equal(t, seen, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)
}

func TestSessionMiddleware_KeepsExistingSession(t *testing.T) {
	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})

	seen, rec := runSessionMiddleware(t, req)

	assert.Equal(t, id, seen)
	assert.Equal(t, id, sessionCookie(t, rec).Value)
}

func TestSessionMiddleware_ReplacesMalformedSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "../../etc/passwd"})

	seen, _ := runSessionMiddleware(t, req)

	assert.NotEqual(t, "../../etc/passwd", seen)
	assert.NoError(t, uuid.Validate(seen))
}

func TestGetSessionID_Missing(t *testing.T) {
	assert.Empty(t, GetSessionID(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteStrictMode, parseSameSite("strict"))
	assert.Equal(t, http.SameSiteLaxMode, parseSameSite("lax"))
	assert.Equal(t, http.SameSiteNoneMode, parseSameSite("none"))
	assert.Equal(t, http.SameSiteDefaultMode, parseSameSite("bogus"))
}
