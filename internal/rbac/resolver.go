package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/donorportal/donorportal/internal/identity"
)

var (
	// ErrNotSuperAdmin indicates a capability update attempted by anyone but a superadmin.
	ErrNotSuperAdmin = errors.New("rbac: superadmin required")
	// ErrUnknownCapability indicates an update referencing an unknown key.
	ErrUnknownCapability = errors.New("rbac: unknown capability")
	// ErrAdminRequired indicates an update without a target admin.
	ErrAdminRequired = errors.New("rbac: admin id required")
)

// PermissionSource is the API surface the resolver reads and writes.
type PermissionSource interface {
	Permissions(ctx context.Context, token string) (map[string]bool, error)
	UpdatePermissions(ctx context.Context, token, adminID string, caps map[string]bool) error
}

// FailureRecorder counts lookups that degraded to "no capability".
type FailureRecorder interface {
	PermissionLookupFailed()
}

// Resolver answers capability questions for an identity.
type Resolver struct {
	source  PermissionSource
	logger  *slog.Logger
	metrics FailureRecorder
	group   singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFailureRecorder counts failed lookups.
func WithFailureRecorder(rec FailureRecorder) Option {
	return func(r *Resolver) { r.metrics = rec }
}

// NewResolver constructs a Resolver.
func NewResolver(source PermissionSource, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{source: source, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasCapability reports whether id may use the feature guarded by key. An
// empty key asks only whether id is an admin. Superadmins hold every
// capability without a remote call. For admins the capability map is fetched
// once per call with token; any failure counts as not granted.
func (r *Resolver) HasCapability(ctx context.Context, token string, id identity.Identity, key Capability) (granted bool) {
	if id == nil {
		return false
	}
	switch id.Role() {
	case identity.RoleSuperAdmin:
		return true
	case identity.RoleAdmin:
	default:
		return false
	}
	if key == "" {
		return true
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(id, key, fmt.Errorf("panic: %v", rec))
			granted = false
		}
	}()

	caps, err := r.lookup(ctx, token)
	if err != nil {
		r.fail(id, key, err)
		return false
	}
	return caps.Has(key)
}

// Capabilities fetches the capability map of the admin owning token.
func (r *Resolver) Capabilities(ctx context.Context, token string) (CapabilitySet, error) {
	return r.lookup(ctx, token)
}

// UpdateCapabilities replaces the capability map of adminID. Only a
// superadmin may call it; the API enforces the same rule.
func (r *Resolver) UpdateCapabilities(ctx context.Context, token string, actor identity.Identity, adminID string, caps CapabilitySet) error {
	if !identity.IsSuperAdmin(actor) || !identity.IsActive(actor) {
		return ErrNotSuperAdmin
	}
	if adminID == "" {
		return ErrAdminRequired
	}
	for c := range caps {
		if !c.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownCapability, c)
		}
	}
	if err := r.source.UpdatePermissions(ctx, token, adminID, caps.Wire()); err != nil {
		return fmt.Errorf("rbac: update capabilities of %s: %w", adminID, err)
	}
	r.logger.Info("capabilities updated",
		slog.String("admin_id", adminID),
		slog.String("actor_id", actor.Subject().ID),
	)
	return nil
}

func (r *Resolver) lookup(ctx context.Context, token string) (CapabilitySet, error) {
	// The shared call runs detached from every caller so one cancelled
	// request cannot fail the others waiting on the same token. Nothing
	// outlives the call.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(token, func() (v any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return r.source.Permissions(detached, token)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		m, _ := res.Val.(map[string]bool)
		return FromWire(m), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) fail(id identity.Identity, key Capability, err error) {
	r.logger.Warn("permission lookup failed",
		slog.String("admin_id", id.Subject().ID),
		slog.String("capability", key.String()),
		slog.Any("error", err),
	)
	if r.metrics != nil {
		r.metrics.PermissionLookupFailed()
	}
}
