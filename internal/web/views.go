package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/hlog"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/nav"
	"github.com/raine/skinanalyze/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{
	"home",
	"analyze",
	"results",
	"login",
	"register",
	"dashboard",
	"confirm_delete",
}

type views struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"localImage": localImage,
	"bytes":      func(n int) string { return humanize.Bytes(uint64(n)) },
	"ago": func(s string) string {
		t, ok := analysis.ParseDate(s)
		if !ok {
			return s
		}
		return humanize.Time(t)
	},
	"date": func(s string) string {
		t, ok := analysis.ParseDate(s)
		if !ok {
			return s
		}
		return t.Format("Jan 2, 2006 15:04")
	},
	"tierColor": func(score float64) string { return analysis.ScoreTier(score).Color() },
	"title":     title,
	"year":      func() int { return time.Now().Year() },
}

// localImage lets the data URL this server encoded from the user's own
// validated upload through html/template's URL filter. Anything else is
// returned as a plain string and sanitized as usual.
func localImage(s string) any {
	if strings.HasPrefix(s, "data:image/") {
		return template.URL(s)
	}
	return s
}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func parseViews() (*views, error) {
	v := &views{pages: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// pageData is passed to every view.
type pageData struct {
	Title   string
	Path    string
	Menu    nav.Menu
	Session session.Session
	Notice  string
	Error   string
	Data    any
}

func (s *Server) page(r *http.Request, title string, data any) pageData {
	sess := s.sessionFor(r)
	return pageData{
		Title:   title,
		Path:    r.URL.Path,
		Menu:    nav.Build(r.URL.Path, sess),
		Session: sess,
		Data:    data,
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	t, ok := s.views.pages[name]
	if !ok {
		hlog.FromRequest(r).Error().Str("view", name).Msg("unknown view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("view", name).Msg("failed to render view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
