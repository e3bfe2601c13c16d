// Package web holds the embedded HTML templates and browser assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names.
const (
	PageHome   = "home.html"
	PageSubmit = "submit.html"
	PageAdmin  = "admin.html"
)

// PageData is what every page template receives.
type PageData struct {
	Title    string
	Messages []message.Message
	// Limits shown next to the submission form.
	MaxTextLength   int
	MaxSenderLength int
	MaxImageMB      int64
	// Client rotation cadence, in milliseconds.
	RotationMillis int64
	ResyncMillis   int64
	LatestLimit    int
	Notice         string
}

// Renderer executes the page templates.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"timestamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"friendly":  func(t time.Time) string { return t.Local().Format("Jan 2, 15:04") },
}

// NewRenderer parses every page together with the shared layout.
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{PageHome, PageSubmit, PageAdmin} {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// Render writes the named page. The page is rendered into a buffer first so
// template errors never produce half a document.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data PageData) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Static serves the embedded assets; mount it under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
