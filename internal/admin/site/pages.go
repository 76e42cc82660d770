package site

import (
	"net/http"

	"github.com/a-h/templ"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/templates/dashboard"
)

func (s *Site) index(w http.ResponseWriter, r *http.Request) {
	templ.Handler(dashboard.Index(s.indexData(r))).ServeHTTP(w, r)
}

func (s *Site) indexData(r *http.Request) dashboard.PageData {
	data := dashboard.PageData{
		Title:       s.cfg.Title,
		Environment: middleware.EnvironmentFromContext(r.Context()),
		CSRFToken:   middleware.CSRFTokenFromContext(r.Context()),
	}
	data.LogoutURL, _ = s.Reverse(s.cfg.Name + ":logout")
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		data.UserLabel = user.Email
		if data.UserLabel == "" {
			data.UserLabel = user.UID
		}
	}
	for _, rt := range s.routes {
		if rt.name == "index" {
			continue
		}
		data.Views = append(data.Views, dashboard.ViewEntry{Name: rt.view.Name, Path: s.join(rt.pattern), Doc: rt.view.Doc})
	}
	return data
}
