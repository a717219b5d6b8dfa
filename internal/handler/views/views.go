// Package views renders the front-end's HTML pages as templ components.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/medcode/internal/i18n"
	"github.com/pavelanni/medcode/internal/model"
)

//go:embed templates
var files embed.FS

var pages = mustParsePages()

var funcs = template.FuncMap{
	"add":     func(a, b int) int { return a + b },
	"letter":  func(i int) string { return string(rune('A' + i)) },
	"percent": func(f float64) string { return fmt.Sprintf("%.0f%%", f) },
	"clock":   formatClock,
	"date":    func(t time.Time) string { return t.Format("2006-01-02") },
	"deref":   func(p *int) int { return *p },
}

func mustParsePages() map[string]*template.Template {
	base := template.Must(template.New("layout.html").Funcs(funcs).
		ParseFS(files, "templates/layout.html", "templates/partials/*.html"))

	names, err := fs.Glob(files, "templates/pages/*.html")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t := template.Must(template.Must(base.Clone()).ParseFS(files, name))
		out[strings.TrimSuffix(path.Base(name), ".html")] = t
	}
	return out
}

// formatClock renders seconds as m:ss.
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Flash is a one-time notification shown on the next page.
type Flash struct {
	Kind    string // "error" or "success"
	Message string
}

// Page is the data every template receives. Helpers bound to the request
// context give templates access to translations, the base path and the CSRF token.
type Page struct {
	Title   string
	Nav     string
	Data    any
	Flashes []Flash
	Form    url.Values

	ctx context.Context
}

// NewPage returns page data bound to the request context.
func NewPage(ctx context.Context, title, nav string, data any) *Page {
	return &Page{Title: title, Nav: nav, Data: data, ctx: ctx}
}

// T translates a message id.
func (p *Page) T(id string) string { return appI18n.T(p.ctx, id) }

// Tp translates a pluralized message id.
func (p *Page) Tp(id string, n int) string { return appI18n.Tp(p.ctx, id, n) }

// Path prefixes an absolute route with the deployment base path.
func (p *Page) Path(elems ...string) string {
	return model.BasePathFromContext(p.ctx) + strings.Join(elems, "")
}

// CSRF returns the token for hidden form fields.
func (p *Page) CSRF() string { return model.CSRFTokenFromContext(p.ctx) }

// User returns the signed-in user, or nil on auth pages.
func (p *Page) User() *model.User { return model.UserFromContext(p.ctx) }

// Value returns a previously submitted form value.
func (p *Page) Value(field string) string { return p.Form.Get(field) }

// Render returns the named page as a component.
func Render(name string, p *Page) templ.Component {
	t, ok := pages[name]
	if !ok {
		return templ.ComponentFunc(func(context.Context, io.Writer) error {
			return fmt.Errorf("unknown page %q", name)
		})
	}
	return templ.FromGoHTML(t, p)
}
