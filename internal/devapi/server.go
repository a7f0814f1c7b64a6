// Package devapi is an in-memory stand-in for the remote donation API. It
// serves the auth and permission endpoints the portal consumes so the portal
// can run and be tested without the real backend.
package devapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/platform/httpx"
	"github.com/donorportal/donorportal/internal/rbac"
)

var (
	// ErrDuplicateAccount indicates an email or id that is already registered.
	ErrDuplicateAccount = errors.New("devapi: duplicate account")
	// ErrUnknownAccount indicates an id with no account.
	ErrUnknownAccount = errors.New("devapi: unknown account")
)

// Account is a registered principal.
type Account struct {
	ID        string
	Name      string
	Email     string
	Role      identity.Role
	Status    identity.Status
	BloodType string
	// Permissions is only meaningful for admins.
	Permissions map[string]bool
}

type record struct {
	Account
	passwordHash []byte
}

type apiSession struct {
	id     string
	userID string
}

// Server holds accounts and the single active session of each of them.
type Server struct {
	logger *slog.Logger
	cost   int

	mu       sync.Mutex
	byEmail  map[string]*record
	byID     map[string]*record
	sessions map[string]apiSession // token -> session
	active   map[string]string     // user id -> token
}

// Option configures a Server.
type Option func(*Server)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

// New constructs an empty Server.
func New(logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:   logger,
		cost:     bcrypt.DefaultCost,
		byEmail:  map[string]*record{},
		byID:     map[string]*record{},
		sessions: map[string]apiSession{},
		active:   map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAccount registers an account with a plain text password.
func (s *Server) AddAccount(a Account, password string) error {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("devapi: hash password: %w", err)
	}
	if a.Status == "" {
		a.Status = identity.StatusActive
	}
	perms := make(map[string]bool, len(a.Permissions))
	for k, v := range a.Permissions {
		perms[k] = v
	}
	a.Permissions = perms

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, email)
	}
	if _, ok := s.byID[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, a.ID)
	}
	rec := &record{Account: a, passwordHash: hash}
	s.byEmail[email] = rec
	s.byID[a.ID] = rec
	return nil
}

// SetStatus changes the activation state of an account.
func (s *Server) SetStatus(id string, status identity.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrUnknownAccount
	}
	rec.Status = status
	return nil
}

// Permissions returns a copy of the capability map of an account.
func (s *Server) Permissions(id string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrUnknownAccount
	}
	out := make(map[string]bool, len(rec.Permissions))
	for k, v := range rec.Permissions {
		out[k] = v
	}
	return out, nil
}

// Revoke ends every session of an account, as an operator would from the
// API side.
func (s *Server) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.active[id]; ok {
		delete(s.sessions, token)
		delete(s.active, id)
	}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/auth/login", s.login)
	r.Get("/auth/me", s.me)
	r.Post("/auth/logout", s.logout)
	r.Get("/admin/permissions", s.permissions)
	r.Put("/admin/permission/{adminID}", s.updatePermission)
	return r
}

type reply struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func fail(w http.ResponseWriter, status int, code, message string) {
	httpx.JSON(w, status, reply{Code: code, Message: message})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool              `json:"success"`
	Token     string            `json:"token"`
	SessionID string            `json:"sessionId"`
	User      *identity.Payload `json:"user"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "", "malformed body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.mu.Lock()
	rec, ok := s.byEmail[email]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(req.Password)) != nil {
		fail(w, http.StatusUnauthorized, "", "invalid email or password")
		return
	}

	s.mu.Lock()
	if _, busy := s.active[rec.ID]; busy {
		s.mu.Unlock()
		fail(w, http.StatusConflict, backend.CodeActiveSessionExists, "account already has an active session")
		return
	}
	token, sessionID := uuid.NewString(), uuid.NewString()
	s.sessions[token] = apiSession{id: sessionID, userID: rec.ID}
	s.active[rec.ID] = token
	user := identity.Encode(rec.identity())
	s.mu.Unlock()

	s.logger.Info("devapi login", slog.String("user_id", rec.ID))
	httpx.JSON(w, http.StatusOK, loginResponse{Success: true, Token: token, SessionID: sessionID, User: user})
}

type meResponse struct {
	Success bool              `json:"success"`
	User    *identity.Payload `json:"user"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := s.authenticate(r)
	if !ok {
		fail(w, http.StatusUnauthorized, backend.CodeSessionInvalid, "session is no longer valid")
		return
	}
	s.mu.Lock()
	user := identity.Encode(rec.identity())
	s.mu.Unlock()
	httpx.JSON(w, http.StatusOK, meResponse{Success: true, User: user})
}

type logoutRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	_ = httpx.DecodeJSON(r, &req)
	token := bearer(r)

	s.mu.Lock()
	if sess, ok := s.sessions[token]; ok && (req.SessionID == "" || req.SessionID == sess.id) {
		delete(s.sessions, token)
		delete(s.active, sess.userID)
	}
	s.mu.Unlock()
	httpx.JSON(w, http.StatusOK, reply{Success: true})
}

type permissionsResponse struct {
	Success     bool            `json:"success"`
	Permissions map[string]bool `json:"permissions"`
}

func (s *Server) permissions(w http.ResponseWriter, r *http.Request) {
	rec, _, ok := s.authenticate(r)
	if !ok {
		fail(w, http.StatusUnauthorized, backend.CodeSessionInvalid, "session is no longer valid")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch rec.Role {
	case identity.RoleAdmin:
		perms := make(map[string]bool, len(rec.Permissions))
		for k, v := range rec.Permissions {
			perms[k] = v
		}
		httpx.JSON(w, http.StatusOK, permissionsResponse{Success: true, Permissions: perms})
	case identity.RoleSuperAdmin:
		perms := make(map[string]bool)
		for _, c := range rbac.All() {
			perms[c.String()] = true
		}
		httpx.JSON(w, http.StatusOK, permissionsResponse{Success: true, Permissions: perms})
	default:
		fail(w, http.StatusForbidden, "", "admins only")
	}
}

func (s *Server) updatePermission(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := s.authenticate(r)
	if !ok {
		fail(w, http.StatusUnauthorized, backend.CodeSessionInvalid, "session is no longer valid")
		return
	}
	var body map[string]bool
	if err := httpx.DecodeJSON(r, &body); err != nil {
		fail(w, http.StatusBadRequest, "", "malformed body")
		return
	}
	adminID := chi.URLParam(r, "adminID")

	s.mu.Lock()
	defer s.mu.Unlock()
	if actor.Role != identity.RoleSuperAdmin || actor.Status == identity.StatusInactive {
		fail(w, http.StatusForbidden, "", "superadmin only")
		return
	}
	target, ok := s.byID[adminID]
	if !ok || target.Role != identity.RoleAdmin {
		fail(w, http.StatusNotFound, "", "admin not found")
		return
	}
	for k, v := range body {
		target.Permissions[k] = v
	}
	s.logger.Info("devapi permissions updated", slog.String("admin_id", adminID), slog.String("actor_id", actor.ID))
	httpx.JSON(w, http.StatusOK, reply{Success: true})
}

func (s *Server) authenticate(r *http.Request) (*record, apiSession, bool) {
	token := bearer(r)
	if token == "" {
		return nil, apiSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, apiSession{}, false
	}
	rec, ok := s.byID[sess.userID]
	return rec, sess, ok
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (rec *record) identity() identity.Identity {
	account := identity.Account{ID: rec.ID, Name: rec.Name, Email: rec.Email}
	switch rec.Role {
	case identity.RoleAdmin:
		return identity.Admin{Account: account, Status: rec.Status}
	case identity.RoleSuperAdmin:
		return identity.SuperAdmin{Account: account, Status: rec.Status}
	}
	return identity.Donor{Account: account, BloodType: rec.BloodType}
}
