// Command devapi serves an in-memory copy of the donation API with a few demo
// accounts, for running the portal locally.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/donorportal/donorportal/internal/devapi"
	"github.com/donorportal/donorportal/internal/identity"
)

type config struct {
	Addr          string `envconfig:"DEVAPI_ADDR" default:":5000"`
	Prefix        string `envconfig:"DEVAPI_PREFIX" default:"/api"`
	DemoPassword  string `envconfig:"DEVAPI_DEMO_PASSWORD" default:"donate-blood"`
	LogFormatJSON bool   `envconfig:"DEVAPI_LOG_JSON" default:"false"`
}

func main() {
	_ = godotenv.Load()
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true})
	}
	logger := slog.New(handler)

	api := devapi.New(logger)
	if err := seed(api, cfg.DemoPassword); err != nil {
		logger.Error("seed accounts", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Prefix+"/", http.StripPrefix(cfg.Prefix, api.Routes()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting dev api", slog.String("addr", cfg.Addr), slog.String("prefix", cfg.Prefix))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func seed(api *devapi.Server, password string) error {
	accounts := []devapi.Account{
		{ID: "u-1", Name: "Dana Donor", Email: "donor@example.org", Role: identity.RoleUser, BloodType: "O+"},
		{ID: "a-1", Name: "Ari Admin", Email: "admin@example.org", Role: identity.RoleAdmin, Permissions: map[string]bool{
			"can_manage_campaigns":    true,
			"can_manage_appointments": true,
			"can_manage_inventory":    false,
		}},
		{ID: "a-2", Name: "Ira Inactive", Email: "inactive@example.org", Role: identity.RoleAdmin, Status: identity.StatusInactive},
		{ID: "s-1", Name: "Sam Super", Email: "super@example.org", Role: identity.RoleSuperAdmin},
	}
	for _, a := range accounts {
		if err := api.AddAccount(a, password); err != nil {
			return err
		}
	}
	return nil
}
