package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/platform/httpx"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
)

// ReturnToKey is the session value remembering where an anonymous visitor
// was going before being sent to the login page.
const ReturnToKey = "return_to"

const (
	msgInvalidCredentials = "Invalid email or password."
	msgConflict           = "This account is already logged in elsewhere. Log out there first."
	msgInactive           = "Your account has been deactivated. Contact a super administrator."
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers the HTML auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

// MountAPIRoutes registers the JSON auth routes used by the SPA.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	r.Get("/session", h.apiSession)
	r.Post("/auth/login", h.apiLogin)
	r.Post("/auth/logout", h.apiLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
	Next   string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if m := ManagerFromContext(r.Context()); m != nil {
		if id, ok := m.Current(); ok {
			http.Redirect(w, r, landingFor(id), http.StatusSeeOther)
			return
		}
	}
	data := loginPageData{Errors: map[string]string{}, Next: safeNext(r.URL.Query().Get("next"))}
	h.renderLogin(w, r, data, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	data := loginPageData{Form: form, Errors: h.validateForm(form), Next: safeNext(r.PostFormValue("next"))}
	if len(data.Errors) > 0 {
		h.renderLogin(w, r, data, http.StatusBadRequest)
		return
	}

	m := ManagerFromContext(r.Context())
	if m == nil {
		h.logger.Error("auth manager missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, err := m.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		message, status := loginFailure(err)
		h.logger.Info("login rejected", slog.String("email", form.Email), slog.Any("error", err))
		data.Errors["general"] = message
		h.renderLogin(w, r, data, status)
		return
	}

	target := landingFor(id)
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if remembered := safeNext(sess.Pop(ReturnToKey)); remembered != "" {
			target = remembered
		}
		if _, err := h.csrfManager.Rotate(r.Context(), sess); err != nil {
			h.logger.Warn("rotate csrf token", slog.Any("error", err))
		}
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + id.Subject().Name})
	}
	if data.Next != "" {
		target = data.Next
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if m := ManagerFromContext(r.Context()); m != nil {
		if err := m.Logout(r.Context()); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type sessionResponse struct {
	Loading       bool              `json:"loading"`
	Authenticated bool              `json:"authenticated"`
	User          *identity.Payload `json:"user,omitempty"`
	CSRFToken     string            `json:"csrfToken,omitempty"`
}

func (h *Handler) apiSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.sessionState(r))
}

func (h *Handler) apiLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	form.Email = strings.TrimSpace(form.Email)
	if errs := h.validateForm(form); len(errs) > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email and password are required")
		return
	}
	m := ManagerFromContext(r.Context())
	if m == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if _, err := m.Login(r.Context(), form.Email, form.Password); err != nil {
		message, status := loginFailure(err)
		httpx.Problem(w, status, http.StatusText(status), message)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if _, err := h.csrfManager.Rotate(r.Context(), sess); err != nil {
			h.logger.Warn("rotate csrf token", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, h.sessionState(r))
}

func (h *Handler) apiLogout(w http.ResponseWriter, r *http.Request) {
	if m := ManagerFromContext(r.Context()); m != nil {
		if err := m.Logout(r.Context()); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, h.sessionState(r))
}

func (h *Handler) sessionState(r *http.Request) sessionResponse {
	var res sessionResponse
	if m := ManagerFromContext(r.Context()); m != nil {
		res.Loading = m.Loading()
		if id, ok := m.Current(); ok {
			res.Authenticated = true
			res.User = identity.Encode(id)
		}
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		res.CSRFToken, _ = h.csrfManager.EnsureToken(r.Context(), sess)
	}
	return res
}

func (h *Handler) validateForm(form loginForm) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}
	return errs
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Log in",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func loginFailure(err error) (string, int) {
	switch {
	case errors.Is(err, ErrConflict):
		return msgConflict, http.StatusConflict
	case errors.Is(err, ErrAccountInactive):
		return msgInactive, http.StatusForbidden
	}
	return msgInvalidCredentials, http.StatusUnauthorized
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required."
	case "email":
		return "Enter a valid email address."
	}
	return fe.Error()
}

func landingFor(id identity.Identity) string {
	if identity.IsAdministrator(id) {
		return "/admin"
	}
	return "/dashboard"
}

// safeNext accepts only local absolute paths so the login form cannot be
// turned into an open redirect.
func safeNext(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return raw
}
