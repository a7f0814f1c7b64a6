package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/donorportal/donorportal/internal/auth"
	"github.com/donorportal/donorportal/internal/campaigns"
	"github.com/donorportal/donorportal/internal/guard"
	"github.com/donorportal/donorportal/internal/observability"
	"github.com/donorportal/donorportal/internal/rbac"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
	"github.com/donorportal/donorportal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Templates          *view.Engine
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	Restorer           auth.Restorer
	Guard              *guard.Guard
	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.PermissionsHandler
	CampaignsHandler   *campaigns.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	loginLimit := 10
	if params.Config != nil && params.Config.LoginRateLimit > 0 {
		loginLimit = params.Config.LoginRateLimit
	}
	loginLimiter := limitPosts(httprate.LimitByIP(loginLimit, time.Minute))
	pages := pageRenderer{params: params}
	g := params.Guard

	r.Group(func(r chi.Router) {
		r.Use(params.Restorer.Middleware)

		r.Get("/", pages.home)
		r.Route("/auth", func(r chi.Router) {
			r.Use(loginLimiter)
			params.AuthHandler.MountRoutes(r)
		})

		r.With(g.Protect(DashboardRoute)).Get(DashboardRoute.Path, pages.dashboard)
		if params.CampaignsHandler != nil {
			r.Route("/campaigns", func(r chi.Router) {
				r.Use(g.Protect(SlotsRoute))
				params.CampaignsHandler.MountRoutes(r)
			})
		}

		r.With(g.Protect(AdminRoute)).Get(AdminRoute.Path, pages.adminIndex)
		for _, section := range adminSections {
			r.With(g.Protect(section.Route)).Get(section.Route.Path, pages.adminSection(section))
		}
		if params.PermissionsHandler != nil {
			r.Route(PermissionsRoute.Path, func(r chi.Router) {
				r.Use(g.Protect(PermissionsRoute))
				params.PermissionsHandler.MountRoutes(r)
			})
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(corsOptions(params.Config)))
			r.Group(func(r chi.Router) {
				r.Use(loginLimiter)
				params.AuthHandler.MountAPIRoutes(r)
			})
			g.MountAPIRoutes(r, ProtectedRoutes())
			if params.PermissionsHandler != nil {
				r.Route("/admin", params.PermissionsHandler.MountAPIRoutes)
			}
		})
	})

	return r
}

func corsOptions(cfg *Config) cors.Options {
	var origins []string
	if cfg != nil {
		origins = cfg.CORSAllowedOrigins
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", shared.CSRFHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// limitPosts applies limiter to form and JSON submissions only, so page loads
// and session polling do not eat into the login budget.
func limitPosts(limiter func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
