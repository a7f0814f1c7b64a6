package app

import (
	"log/slog"
	"net/http"

	"github.com/donorportal/donorportal/internal/auth"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/internal/view"
)

type pageRenderer struct {
	params RouterParams
}

type sectionLink struct {
	Path  string
	Label string
}

type adminPageData struct {
	Sections    []sectionLink
	Description string
}

func (p pageRenderer) home(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "pages/home.html", "Donor Portal", nil)
}

func (p pageRenderer) dashboard(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "pages/dashboard.html", "Dashboard", nil)
}

func (p pageRenderer) adminIndex(w http.ResponseWriter, r *http.Request) {
	data := adminPageData{}
	for _, s := range adminSections {
		data.Sections = append(data.Sections, sectionLink{Path: s.Route.Path, Label: s.Label})
	}
	p.render(w, r, "pages/admin.html", "Administration", data)
}

func (p pageRenderer) adminSection(section adminSection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.render(w, r, "pages/admin.html", section.Label, adminPageData{Description: section.Description})
	}
}

func (p pageRenderer) render(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := p.params.CSRFManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        auth.ViewerFromContext(r.Context()),
		Data:        data,
	}
	if err := p.params.Templates.Render(w, name, viewData); err != nil {
		p.params.Logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
