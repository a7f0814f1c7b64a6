package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/donorportal/donorportal/internal/auth"
	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/campaigns"
	"github.com/donorportal/donorportal/internal/guard"
	"github.com/donorportal/donorportal/internal/observability"
	"github.com/donorportal/donorportal/internal/rbac"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
)

// Dependencies are the external collaborators of the portal.
type Dependencies struct {
	Config  *Config
	Logger  *slog.Logger
	Redis   *redis.Client
	API     *backend.Client
	Metrics *observability.Metrics
}

// NewHandler wires every component of the portal into one http.Handler.
func NewHandler(deps Dependencies) (http.Handler, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := deps.API
	if api == nil {
		api = backend.NewClient(deps.Config.APIBaseURL, deps.Config.APITimeout)
	}

	templates, err := view.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("app: parse templates: %w", err)
	}
	sessionManager := shared.NewSessionManager(deps.Redis, deps.Config.SessionCookie, deps.Config.SessionSecret, deps.Config.SessionTTL, deps.Config.IsProduction())
	csrfManager := shared.NewCSRFManager(deps.Config.CSRFSecret)

	resolver := rbac.NewResolver(api, logger, rbac.WithFailureRecorder(deps.Metrics))
	routeGuard := guard.New(resolver, logger,
		guard.WithMetrics(deps.Metrics),
		guard.WithDeniedPage(templates, csrfManager),
	)

	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             deps.Config,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Restorer:           auth.Restorer{Backend: api, Logger: logger},
		Guard:              routeGuard,
		AuthHandler:        auth.NewHandler(logger, templates, sessionManager, csrfManager),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, resolver, templates, csrfManager),
		CampaignsHandler:   campaigns.NewHandler(logger, deps.Config.Location()),
		Metrics:            deps.Metrics,
	}), nil
}
