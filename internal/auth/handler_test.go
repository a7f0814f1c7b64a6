package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/session"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
	_ "github.com/donorportal/donorportal/testing"
)

type handlerHarness struct {
	handler  *Handler
	sessions *shared.SessionManager
	sess     *shared.Session
	api      *stubBackend
}

func newHandlerHarness(t *testing.T, api *stubBackend) *handlerHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions := shared.NewSessionManager(rdb, "test_session", "secret", time.Hour, false)
	templates, err := view.NewEngine()
	require.NoError(t, err)

	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return &handlerHarness{
		handler:  NewHandler(nil, templates, sessions, shared.NewCSRFManager("csrfsecret")),
		sessions: sessions,
		sess:     sess,
		api:      api,
	}
}

// serve runs req through the auth routes with the harness session attached,
// the way the portal middleware stack does.
func (h *handlerHarness) serve(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	ctx := shared.ContextWithSession(req.Context(), h.sess)
	m := NewManager(session.NewCookieStore(h.sess), h.api, nil)
	_ = m.RestoreSession(ctx)
	ctx = ContextWithManager(ctx, m)

	r := chi.NewRouter()
	r.Route("/auth", h.handler.MountRoutes)
	r.Route("/api", h.handler.MountAPIRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func loginRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLoginPage(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{})
	rec := h.serve(t, httptest.NewRequest(http.MethodGet, "/auth/login?next=/admin/inventory", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<form")
	assert.Contains(t, body, `value="/admin/inventory"`)
	assert.NotEmpty(t, h.sess.Get(shared.CSRFSessionKey))
}

func TestLoginPageDropsForeignNext(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{})
	rec := h.serve(t, httptest.NewRequest(http.MethodGet, "/auth/login?next=//evil.example.org", nil))
	assert.NotContains(t, rec.Body.String(), "evil.example.org")
}

func TestLoginPageRedirectsSignedInVisitor(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{me: admin})
	require.NoError(t, session.NewCookieStore(h.sess).Save(background, stored))

	rec := h.serve(t, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))
}

func TestLoginValidationErrors(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{})
	rec := h.serve(t, loginRequest(url.Values{"email": {"not-an-email"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Enter a valid email address.")
	assert.Contains(t, rec.Body.String(), "Password is required.")
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{loginErr: &backend.APIError{Status: 401}})
	rec := h.serve(t, loginRequest(url.Values{"email": {"dana@example.org"}, "password": {"wrong"}}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), msgInvalidCredentials)
}

func TestLoginConflictKeepsStoredCredentials(t *testing.T) {
	api := &stubBackend{meErr: &backend.APIError{Status: 503}, loginErr: &backend.APIError{Status: 409, Code: backend.CodeActiveSessionExists}}
	h := newHandlerHarness(t, api)
	require.NoError(t, session.NewCookieStore(h.sess).Save(background, stored))

	rec := h.serve(t, loginRequest(url.Values{"email": {"ari@example.org"}, "password": {"pw"}}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already logged in elsewhere")

	creds, ok := session.NewCookieStore(h.sess).Load(background)
	require.True(t, ok)
	assert.Equal(t, stored, creds)
}

func TestLoginInactiveAdmin(t *testing.T) {
	inactive := admin
	inactive.Status = "inactive"
	h := newHandlerHarness(t, &stubBackend{login: backend.LoginResult{Credentials: issued, Identity: inactive}})

	rec := h.serve(t, loginRequest(url.Values{"email": {"ari@example.org"}, "password": {"pw"}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "deactivated")
	_, ok := session.NewCookieStore(h.sess).Load(background)
	assert.False(t, ok)
}

func TestLoginRedirectsToRememberedLocation(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{login: backend.LoginResult{Credentials: issued, Identity: donor}})
	h.sess.Set(ReturnToKey, "/campaigns/slots?date=2030-01-01")
	h.sess.Set(shared.CSRFSessionKey, "before")

	rec := h.serve(t, loginRequest(url.Values{"email": {"dana@example.org"}, "password": {"pw"}}))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/campaigns/slots?date=2030-01-01", rec.Header().Get("Location"))

	creds, ok := session.NewCookieStore(h.sess).Load(background)
	require.True(t, ok)
	assert.Equal(t, issued, creds)
	assert.Empty(t, h.sess.Get(ReturnToKey))
	assert.NotEqual(t, "before", h.sess.Get(shared.CSRFSessionKey), "csrf token rotates on login")
}

func TestLogoutClearsBrowserSession(t *testing.T) {
	api := &stubBackend{me: donor}
	h := newHandlerHarness(t, api)
	require.NoError(t, session.NewCookieStore(h.sess).Save(background, stored))

	rec := h.serve(t, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, []session.Credentials{stored}, api.logoutArgs)
	_, ok := session.NewCookieStore(h.sess).Load(background)
	assert.False(t, ok)
}

func TestAPISession(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{me: donor})
	require.NoError(t, session.NewCookieStore(h.sess).Save(background, stored))

	rec := h.serve(t, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var res sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Loading)
	assert.True(t, res.Authenticated)
	require.NotNil(t, res.User)
	assert.Equal(t, "user", res.User.Role)
	assert.NotEmpty(t, res.CSRFToken)
}

func TestAPILoginConflict(t *testing.T) {
	h := newHandlerHarness(t, &stubBackend{loginErr: &backend.APIError{Status: 409, Code: backend.CodeActiveSessionExists}})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"ari@example.org","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := h.serve(t, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), msgConflict)
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"/admin":               "/admin",
		"/campaigns/slots?x=1": "/campaigns/slots?x=1",
		"":                     "",
		"https://evil.example": "",
		"//evil.example":       "",
		"/\\evil.example":      "",
		"admin":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeNext(in), in)
	}
}
