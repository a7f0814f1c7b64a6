package app

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the portal.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	// AppRequestTimeout of zero applies no per-request deadline.
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"0s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"portal_session"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	// APIBaseURL is the remote donation API. APITimeout of zero leaves
	// calls bounded only by the request context.
	APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://127.0.0.1:5000/api"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"0s"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
	LoginRateLimit     int      `envconfig:"LOGIN_RATE_LIMIT" default:"10"`

	// Location for campaign slot times.
	Timezone string `envconfig:"PORTAL_TIMEZONE" default:"Local"`
}

// LoadConfig reads configuration from environment variables, after loading
// a .env file when one is present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.CSRFSecret == "" {
		return nil, errors.New("csrf secret must be provided")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url must be provided")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
