package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/donorportal/donorportal/internal/app"
	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/devapi"
	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/observability"
	_ "github.com/donorportal/donorportal/testing"
)

const password = "donate-blood"

type portal struct {
	url     string
	api     *devapi.Server
	metrics *observability.Metrics
}

func startPortal(t *testing.T) *portal {
	t.Helper()
	api := devapi.New(nil, devapi.WithBcryptCost(bcrypt.MinCost))
	for _, a := range []devapi.Account{
		{ID: "u1", Name: "Dana", Email: "dana@example.org", Role: identity.RoleUser, BloodType: "AB-"},
		{ID: "a1", Name: "Ari", Email: "ari@example.org", Role: identity.RoleAdmin, Permissions: map[string]bool{
			"can_manage_inventory": false,
			"can_manage_campaigns": true,
		}},
		{ID: "a2", Name: "Ira", Email: "ira@example.org", Role: identity.RoleAdmin, Status: identity.StatusInactive},
		{ID: "s1", Name: "Sam", Email: "sam@example.org", Role: identity.RoleSuperAdmin},
	} {
		require.NoError(t, api.AddAccount(a, password))
	}
	apiServer := httptest.NewServer(api.Routes())
	t.Cleanup(apiServer.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &app.Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
		SessionSecret:     "session-secret",
		SessionTTL:        time.Hour,
		SessionCookie:     "portal_session",
		CSRFSecret:        "csrf-secret",
		APIBaseURL:        apiServer.URL,
		LoginRateLimit:    100,
		Timezone:          "UTC",
	}
	metrics := observability.NewMetrics()
	handler, err := app.NewHandler(app.Dependencies{
		Config:  cfg,
		Redis:   rdb,
		API:     backend.NewClient(apiServer.URL, 0),
		Metrics: metrics,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &portal{url: srv.URL, api: api, metrics: metrics}
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (p *portal) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: p.url, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	res, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	return res, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

type sessionState struct {
	Loading       bool              `json:"loading"`
	Authenticated bool              `json:"authenticated"`
	User          *identity.Payload `json:"user"`
	CSRFToken     string            `json:"csrfToken"`
}

func (b *browser) session() sessionState {
	b.t.Helper()
	res, body := b.get("/api/session")
	require.Equal(b.t, http.StatusOK, res.StatusCode, body)
	var state sessionState
	require.NoError(b.t, json.Unmarshal([]byte(body), &state))
	return state
}

func (b *browser) postForm(path string, values url.Values) (*http.Response, string) {
	b.t.Helper()
	values.Set("csrf_token", b.session().CSRFToken)
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(values.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, payload any) (*http.Response, string) {
	b.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(b.t, err)
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(string(data)))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", b.session().CSRFToken)
	return b.do(req)
}

func (b *browser) login(email string) *http.Response {
	b.t.Helper()
	res, _ := b.postForm("/auth/login", url.Values{"email": {email}, "password": {password}})
	return res
}

func TestAnonymousVisitorIsSentToLoginAndBack(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)

	res, _ := b.get("/dashboard")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/auth/login?next=%2Fdashboard", res.Header.Get("Location"))

	res = b.login("dana@example.org")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/dashboard", res.Header.Get("Location"))

	res, body := b.get("/dashboard")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Welcome, Dana")
	assert.Contains(t, body, "AB-")
}

func TestDonorCannotEnterAdminAreas(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	b.login("dana@example.org")

	res, body := b.get("/admin/permissions")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Contains(t, body, "Access denied")

	res, _ = b.get("/admin/inventory")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/dashboard", res.Header.Get("Location"))
}

func TestAdminCapabilitiesAreFetchedOnEveryNavigation(t *testing.T) {
	p := startPortal(t)
	admin := p.browser(t)
	res := admin.login("ari@example.org")
	assert.Equal(t, "/admin", res.Header.Get("Location"))

	res, _ = admin.get("/admin/inventory")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, body := admin.get("/admin/campaigns")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Campaigns")

	super := p.browser(t)
	super.login("sam@example.org")
	res, _ = super.postForm("/admin/permissions", url.Values{
		"admin_id":   {"a1"},
		"capability": {"can_manage_inventory", "can_manage_campaigns"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res, _ = admin.get("/admin/inventory")
	assert.Equal(t, http.StatusOK, res.StatusCode, "no capability is cached between navigations")
}

func TestSecondLoginElsewhereConflicts(t *testing.T) {
	p := startPortal(t)
	first := p.browser(t)
	first.login("ari@example.org")

	second := p.browser(t)
	res, body := second.postJSON("/api/auth/login", map[string]string{"email": "ari@example.org", "password": password})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Contains(t, body, "already logged in elsewhere")
	assert.False(t, second.session().Authenticated)
	assert.True(t, first.session().Authenticated)
}

func TestInactiveAdminCannotLogIn(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	res := b.login("ira@example.org")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.False(t, b.session().Authenticated)
}

func TestDeactivatedAdminLosesAdminAreas(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	b.login("ari@example.org")
	require.NoError(t, p.api.SetStatus("a1", identity.StatusInactive))

	res, _ := b.get("/admin/campaigns")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = b.get("/admin")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestInvalidatedSessionIsCleared(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	b.login("dana@example.org")
	p.api.Revoke("u1")

	res, _ := b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Contains(t, res.Header.Get("Location"), "/auth/login")

	res = b.login("dana@example.org")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode, "the api session was released, so a fresh login works")
}

func TestLogoutEndsBothSessions(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	b.login("dana@example.org")

	res, _ := b.postForm("/auth/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	res, _ = b.get("/dashboard")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)

	other := p.browser(t)
	res = other.login("dana@example.org")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/dashboard", res.Header.Get("Location"))
}

func TestGuardAPIAndMetrics(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	b.login("ari@example.org")

	res, body := b.get("/api/guard/inventory")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"outcome":"deny"`)

	res, body = b.get("/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `portal_guard_outcomes_total{outcome="deny",route="inventory"} 1`)
}

func TestCampaignSlotsRequireLogin(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)

	res, _ := b.get("/campaigns/slots?date=2030-01-01")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)

	b.login("dana@example.org")
	res, body := b.get("/campaigns/slots?date=2030-01-01&open=09:00&close=10:00&step=30")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"start":"09:30"`)
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	p := startPortal(t)
	b := p.browser(t)
	req, err := http.NewRequest(http.MethodPost, p.url+"/auth/login", strings.NewReader("email=dana%40example.org&password="+password))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, _ := b.do(req)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}
