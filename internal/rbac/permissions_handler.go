package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/donorportal/donorportal/internal/auth"
	"github.com/donorportal/donorportal/internal/backend"
	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/platform/httpx"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
)

// PermissionsHandler serves the superadmin capability editor and the
// capability lookup used by the SPA menus.
type PermissionsHandler struct {
	logger    *slog.Logger
	resolver  *Resolver
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, resolver *Resolver, templates *view.Engine, csrf *shared.CSRFManager) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, resolver: resolver, templates: templates, csrf: csrf, validator: validator.New()}
}

// MountRoutes registers the editor pages. Callers guard them as super-only.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.showEditor)
	r.Post("/", h.saveEditor)
}

// MountAPIRoutes registers the JSON endpoints under /api/admin.
func (h *PermissionsHandler) MountAPIRoutes(r chi.Router) {
	r.Get("/capabilities", h.apiCapabilities)
	r.Put("/permission/{adminID}", h.apiUpdate)
}

type formErrors map[string]string

type permissionsForm struct {
	AdminID string `validate:"required,max=128"`
}

type permissionsPageData struct {
	AdminID      string
	Granted      map[string]bool
	Capabilities []string
	Errors       formErrors
}

func capabilityNames() []string {
	all := All()
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = c.String()
	}
	return out
}

func (h *PermissionsHandler) showEditor(w http.ResponseWriter, r *http.Request) {
	data := permissionsPageData{
		AdminID:      strings.TrimSpace(r.URL.Query().Get("admin_id")),
		Granted:      map[string]bool{},
		Capabilities: capabilityNames(),
		Errors:       formErrors{},
	}
	h.render(w, r, data, http.StatusOK)
}

func (h *PermissionsHandler) saveEditor(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := permissionsForm{AdminID: strings.TrimSpace(r.PostFormValue("admin_id"))}
	data := permissionsPageData{
		AdminID:      form.AdminID,
		Granted:      map[string]bool{},
		Capabilities: capabilityNames(),
		Errors:       formErrors{},
	}
	caps := make(CapabilitySet, len(known))
	for c := range known {
		caps[c] = false
	}
	for _, raw := range r.PostForm["capability"] {
		caps[Capability(raw)] = true
		data.Granted[raw] = true
	}
	if err := h.validator.Struct(form); err != nil {
		data.Errors["AdminID"] = "Admin ID is required."
		h.render(w, r, data, http.StatusBadRequest)
		return
	}

	if status, err := h.update(r, form.AdminID, caps); err != nil {
		data.Errors["general"] = updateMessage(err)
		h.render(w, r, data, status)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Permissions of " + form.AdminID + " saved."})
	}
	http.Redirect(w, r, "/admin/permissions?admin_id="+url.QueryEscape(form.AdminID), http.StatusSeeOther)
}

type capabilitiesResponse struct {
	Capabilities map[string]bool `json:"capabilities"`
}

func (h *PermissionsHandler) apiCapabilities(w http.ResponseWriter, r *http.Request) {
	m := auth.ManagerFromContext(r.Context())
	if m == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, ok := m.Current()
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	res := capabilitiesResponse{Capabilities: map[string]bool{}}
	switch {
	case !identity.IsAdministrator(id), !identity.IsActive(id):
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	case identity.IsSuperAdmin(id):
		for c := range known {
			res.Capabilities[c.String()] = true
		}
	default:
		caps, err := h.resolver.Capabilities(r.Context(), m.Credentials().Token)
		if err != nil {
			h.logger.Warn("capability lookup", slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUpstream)
			return
		}
		res.Capabilities = caps.Wire()
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *PermissionsHandler) apiUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]bool
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	adminID := chi.URLParam(r, "adminID")
	if status, err := h.update(r, adminID, FromWire(body)); err != nil {
		httpx.Problem(w, status, http.StatusText(status), updateMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) update(r *http.Request, adminID string, caps CapabilitySet) (int, error) {
	m := auth.ManagerFromContext(r.Context())
	if m == nil {
		return http.StatusUnauthorized, ErrNotSuperAdmin
	}
	actor, _ := m.Current()
	err := h.resolver.UpdateCapabilities(r.Context(), m.Credentials().Token, actor, adminID, caps)
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, ErrNotSuperAdmin):
		return http.StatusForbidden, err
	case errors.Is(err, ErrAdminRequired), errors.Is(err, ErrUnknownCapability):
		return http.StatusBadRequest, err
	case errors.Is(err, backend.ErrRejected):
		h.logger.Warn("capability update rejected", slog.String("admin_id", adminID), slog.Any("error", err))
		return http.StatusBadGateway, err
	}
	h.logger.Error("capability update", slog.String("admin_id", adminID), slog.Any("error", err))
	return http.StatusBadGateway, err
}

func updateMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotSuperAdmin):
		return "Only a super administrator can change permissions."
	case errors.Is(err, ErrAdminRequired):
		return "Admin ID is required."
	case errors.Is(err, ErrUnknownCapability):
		return "Unknown capability."
	case errors.Is(err, backend.ErrRejected):
		return "The server refused the change."
	}
	return "The server could not be reached. Try again."
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, data permissionsPageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Permissions",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        auth.ViewerFromContext(r.Context()),
		Data:        data,
	}
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/permissions.html", viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
