package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/donorportal/donorportal/internal/identity"
	"github.com/donorportal/donorportal/internal/shared"
	"github.com/donorportal/donorportal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *identity.Payload
	Data        any
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("15:04")
		},
		"roleLabel": func(role string) string {
			switch identity.Role(role) {
			case identity.RoleSuperAdmin:
				return "Super administrator"
			case identity.RoleAdmin:
				return "Administrator"
			case identity.RoleUser:
				return "Donor"
			}
			return role
		},
		"isAdmin": func(u *identity.Payload) bool {
			return u != nil && (u.Role == string(identity.RoleAdmin) || u.Role == string(identity.RoleSuperAdmin))
		},
		"isSuperAdmin": func(u *identity.Payload) bool {
			return u != nil && u.Role == string(identity.RoleSuperAdmin)
		},
		"humanize": func(key string) string {
			words := strings.Fields(strings.ReplaceAll(strings.TrimPrefix(key, "can_"), "_", " "))
			if len(words) > 0 {
				words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
			}
			return strings.Join(words, " ")
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
