// Package guard decides what a navigation to a protected route renders.
package guard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/rbac"
	"github.com/donorportal/donorportal/internal/session"
)

// Requirement is the role a route demands.
type Requirement int

const (
	// RequireUser admits any signed-in identity.
	RequireUser Requirement = iota
	// RequireAdmin admits admins and superadmins.
	RequireAdmin
	// RequireSuperAdmin admits superadmins only.
	RequireSuperAdmin
)

func (r Requirement) String() string {
	switch r {
	case RequireUser:
		return "user"
	case RequireAdmin:
		return "admin-or-super"
	case RequireSuperAdmin:
		return "super-only"
	}
	return fmt.Sprintf("requirement(%d)", int(r))
}

// Route describes a protected location. Capability is only consulted for
// RequireAdmin routes.
type Route struct {
	Name        string
	Path        string
	Requirement Requirement
	Capability  rbac.Capability
}

// Outcome is the state of one navigation attempt. Every outcome but Loading
// is terminal.
type Outcome int

const (
	Loading Outcome = iota
	Allow
	RedirectLogin
	RedirectHome
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	case Deny:
		return "deny"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Terminal reports whether o ends the navigation.
func (o Outcome) Terminal() bool { return o != Loading }

// Subject is the view of the auth session the guard needs.
type Subject interface {
	Loading() bool
	Ready() <-chan struct{}
	Current() (identity.Identity, bool)
	Credentials() session.Credentials
}

// CapabilityChecker answers capability questions with an explicit credential.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, token string, id identity.Identity, key rbac.Capability) bool
}

// OutcomeRecorder counts terminal outcomes per route.
type OutcomeRecorder interface {
	GuardOutcome(route, outcome string)
}

// Guard evaluates routes against the current identity.
type Guard struct {
	checker CapabilityChecker
	logger  *slog.Logger
	metrics OutcomeRecorder
	views   *deniedView
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics counts terminal outcomes.
func WithMetrics(rec OutcomeRecorder) Option {
	return func(g *Guard) { g.metrics = rec }
}

// New constructs a Guard.
func New(checker CapabilityChecker, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{checker: checker, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate returns the outcome for route without waiting: Loading while the
// subject's restore is in flight, otherwise the terminal decision. A
// capability lookup, when needed, runs synchronously.
func (g *Guard) Evaluate(ctx context.Context, s Subject, route Route) Outcome {
	if s == nil {
		s = anonymous{}
	}
	if s.Loading() {
		return Loading
	}
	return g.decide(ctx, s, route)
}

func (g *Guard) decide(ctx context.Context, s Subject, route Route) Outcome {
	id, ok := s.Current()
	if !ok {
		id = nil
	}

	switch route.Requirement {
	case RequireUser:
		if id == nil {
			return RedirectLogin
		}
		return Allow

	case RequireAdmin:
		if id == nil {
			return RedirectLogin
		}
		if !identity.IsAdministrator(id) {
			return RedirectHome
		}
		if !identity.IsActive(id) {
			return Deny
		}
		if route.Capability != "" && id.Role() == identity.RoleAdmin {
			if !g.hasCapability(ctx, s.Credentials().Token, id, route.Capability) {
				return Deny
			}
		}
		return Allow

	case RequireSuperAdmin:
		if !identity.IsSuperAdmin(id) || !identity.IsActive(id) {
			return Deny
		}
		return Allow
	}

	g.logger.Error("route with unknown requirement", slog.String("route", route.Name), slog.Int("requirement", int(route.Requirement)))
	return Deny
}

func (g *Guard) hasCapability(ctx context.Context, token string, id identity.Identity, key rbac.Capability) (granted bool) {
	if g.checker == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("capability check panicked", slog.String("capability", key.String()), slog.Any("panic", rec))
			granted = false
		}
	}()
	return g.checker.HasCapability(ctx, token, id, key)
}

func (g *Guard) record(route Route, o Outcome) {
	if g.metrics != nil && o.Terminal() {
		g.metrics.GuardOutcome(route.Name, o.String())
	}
}

type anonymous struct{}

var settled = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (anonymous) Loading() bool                      { return false }
func (anonymous) Ready() <-chan struct{}             { return settled }
func (anonymous) Current() (identity.Identity, bool) { return nil, false }
func (anonymous) Credentials() session.Credentials   { return session.Credentials{} }
