package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/session"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrConflict indicates the account is already logged in elsewhere.
	ErrConflict = errors.New("auth: already logged in elsewhere")
	// ErrSessionInvalid indicates the API invalidated the stored session.
	ErrSessionInvalid = errors.New("auth: session invalidated")
	// ErrAccountInactive indicates a deactivated admin tried to log in.
	ErrAccountInactive = errors.New("auth: account deactivated")
)

// Backend is the part of the API the manager depends on.
type Backend interface {
	Me(ctx context.Context, token string) (identity.Identity, error)
	Login(ctx context.Context, email, password string) (backend.LoginResult, error)
	Logout(ctx context.Context, creds session.Credentials) error
}

// Manager owns the current identity of one browser context. It is the only
// writer of its session.Store.
type Manager struct {
	store   session.Store
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	current identity.Identity
	creds   session.Credentials

	ready     chan struct{}
	readyOnce sync.Once
}

// NewManager constructs a Manager in the loading state.
func NewManager(store session.Store, api Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		backend: api,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// RestoreSession verifies stored credentials with the API. The loading state
// ends when it returns, whatever the outcome.
func (m *Manager) RestoreSession(ctx context.Context) error {
	defer m.finishLoading()

	creds, ok := m.store.Load(ctx)
	if !ok {
		m.setIdentity(nil)
		return nil
	}
	m.setCredentials(creds)

	id, err := m.backend.Me(ctx, creds.Token)
	if err != nil {
		m.setIdentity(nil)
		if errors.Is(err, backend.ErrSessionInvalid) {
			if clearErr := m.store.Clear(ctx); clearErr != nil {
				m.logger.Error("clear invalidated session", slog.Any("error", clearErr))
			}
			m.setCredentials(session.Credentials{})
			return ErrSessionInvalid
		}
		m.logger.Warn("restore session", slog.Any("error", err))
		return fmt.Errorf("auth: restore session: %w", err)
	}
	m.setIdentity(id)
	return nil
}

// Login authenticates against the API and stores the issued credentials.
// On failure the store is left untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (identity.Identity, error) {
	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, backend.ErrActiveSession) {
			return nil, ErrConflict
		}
		if res.Credentials.Valid() {
			m.release(ctx, res.Credentials, "release session of unreadable login")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if !identity.IsActive(res.Identity) {
		m.release(ctx, res.Credentials, "release session of inactive account")
		return nil, ErrAccountInactive
	}

	if err := m.store.Save(ctx, res.Credentials); err != nil {
		m.release(ctx, res.Credentials, "release session that could not be stored")
		return nil, fmt.Errorf("auth: store credentials: %w", err)
	}
	m.setCredentials(res.Credentials)
	m.setIdentity(res.Identity)
	m.finishLoading()
	return res.Identity, nil
}

// Logout ends the API session on a best-effort basis, then clears the store,
// the outgoing credential and the identity in that order.
func (m *Manager) Logout(ctx context.Context) error {
	creds := m.Credentials()
	if !creds.Valid() {
		creds, _ = m.store.Load(ctx)
	}
	if creds.Valid() {
		if err := m.backend.Logout(ctx, creds); err != nil {
			m.logger.Warn("remote logout", slog.Any("error", err))
		}
	}

	clearErr := m.store.Clear(ctx)
	if clearErr != nil {
		m.logger.Error("clear session store", slog.Any("error", clearErr))
	}
	m.setCredentials(session.Credentials{})
	m.setIdentity(nil)
	return clearErr
}

// Current returns the signed-in identity.
func (m *Manager) Current() (identity.Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != nil
}

// Credentials returns the outgoing credential for API calls made on behalf
// of the current identity.
func (m *Manager) Credentials() session.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// Loading reports whether the initial restore is still in flight.
func (m *Manager) Loading() bool {
	select {
	case <-m.ready:
		return false
	default:
		return true
	}
}

// Ready is closed once the initial restore has finished.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// release ends an API session the manager will not keep. Best effort.
func (m *Manager) release(ctx context.Context, creds session.Credentials, msg string) {
	if err := m.backend.Logout(ctx, creds); err != nil {
		m.logger.Warn(msg, slog.Any("error", err))
	}
}

func (m *Manager) finishLoading() {
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Manager) setIdentity(id identity.Identity) {
	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
}

func (m *Manager) setCredentials(creds session.Credentials) {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
}
