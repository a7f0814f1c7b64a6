package guard

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/donorportal/donorportal/internal/auth"
	"github.com/donorportal/donorportal/internal/platform/httpx"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
)

// Locations the guard redirects to.
const (
	LoginPath = "/auth/login"
	HomePath  = "/dashboard"
)

type deniedView struct {
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// WithDeniedPage renders the access-denied page with templates instead of a
// plain text response.
func WithDeniedPage(templates *view.Engine, csrf *shared.CSRFManager) Option {
	return func(g *Guard) { g.views = &deniedView{templates: templates, csrf: csrf} }
}

// SubjectFromRequest returns the request's auth manager, or an anonymous
// subject when none is bound.
func SubjectFromRequest(r *http.Request) Subject {
	if m := auth.ManagerFromContext(r.Context()); m != nil {
		return m
	}
	return anonymous{}
}

// Protect only lets requests through that the guard allows on route.
func (g *Guard) Protect(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome, err := g.Navigate(r.Context(), SubjectFromRequest(r), route).Wait(r.Context())
			if err != nil {
				g.logger.Warn("navigation abandoned", slog.String("route", route.Name), slog.Any("error", err))
				return
			}
			g.record(route, outcome)

			switch outcome {
			case Allow:
				next.ServeHTTP(w, r)
			case RedirectLogin:
				if sess := shared.SessionFromContext(r.Context()); sess != nil {
					sess.Set(auth.ReturnToKey, r.URL.RequestURI())
				}
				http.Redirect(w, r, loginLocation(r.URL.RequestURI()), http.StatusSeeOther)
			case RedirectHome:
				http.Redirect(w, r, HomePath, http.StatusSeeOther)
			default:
				g.renderDenied(w, r)
			}
		})
	}
}

type decision struct {
	Route    string  `json:"route"`
	Path     string  `json:"path"`
	Outcome  Outcome `json:"outcome"`
	Location string  `json:"location,omitempty"`
}

// MountAPIRoutes exposes GET /guard/{route} so the SPA can ask for the
// outcome of a navigation before performing it.
func (g *Guard) MountAPIRoutes(r chi.Router, routes []Route) {
	byName := make(map[string]Route, len(routes))
	for _, rt := range routes {
		byName[rt.Name] = rt
	}
	r.Get("/guard/{route}", func(w http.ResponseWriter, req *http.Request) {
		route, ok := byName[chi.URLParam(req, "route")]
		if !ok {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		outcome, err := g.Navigate(req.Context(), SubjectFromRequest(req), route).Wait(req.Context())
		if err != nil {
			return
		}
		g.record(route, outcome)
		res := decision{Route: route.Name, Path: route.Path, Outcome: outcome}
		switch outcome {
		case RedirectLogin:
			res.Location = loginLocation(route.Path)
		case RedirectHome:
			res.Location = HomePath
		}
		httpx.JSON(w, http.StatusOK, res)
	})
}

func loginLocation(next string) string {
	return LoginPath + "?next=" + url.QueryEscape(next)
}

type deniedPageData struct {
	Route string
}

func (g *Guard) renderDenied(w http.ResponseWriter, r *http.Request) {
	if g.views == nil || g.views.templates == nil {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	if g.views.csrf != nil {
		csrfToken, _ = g.views.csrf.EnsureToken(r.Context(), sess)
	}
	data := view.TemplateData{
		Title:       "Access denied",
		CSRFToken:   csrfToken,
		CurrentPath: r.URL.Path,
		User:        auth.ViewerFromContext(r.Context()),
		Data:        deniedPageData{Route: r.URL.Path},
	}
	w.WriteHeader(http.StatusForbidden)
	if err := g.views.templates.Render(w, "pages/denied.html", data); err != nil {
		g.logger.Error("render denied page", slog.Any("error", err))
	}
}
