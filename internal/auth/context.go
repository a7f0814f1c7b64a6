package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/session"
	"github.com/donorportal/donorportal/internal/shared"
)

type managerContextKey struct{}

// ContextWithManager stores the request's Manager in context.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerContextKey{}, m)
}

// ManagerFromContext extracts the Manager from context, or nil.
func ManagerFromContext(ctx context.Context) *Manager {
	m, _ := ctx.Value(managerContextKey{}).(*Manager)
	return m
}

// Restorer binds a Manager to the browser session of every request and
// restores it before the request is handled.
type Restorer struct {
	Backend Backend
	Logger  *slog.Logger
}

// Middleware implements the chi middleware signature.
func (rs Restorer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := shared.SessionFromContext(ctx)
		m := NewManager(session.NewCookieStore(sess), rs.Backend, rs.Logger)
		if err := m.RestoreSession(ctx); err != nil {
			if errors.Is(err, ErrSessionInvalid) && sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Your session has ended. Please log in again."})
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithManager(ctx, m)))
	})
}

// ViewerFromContext returns the wire form of the signed-in identity for
// templates, or nil.
func ViewerFromContext(ctx context.Context) *identity.Payload {
	m := ManagerFromContext(ctx)
	if m == nil {
		return nil
	}
	id, ok := m.Current()
	if !ok {
		return nil
	}
	return identity.Encode(id)
}
