package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"blogger/internal/auth"
	"blogger/internal/models"
	"blogger/internal/tagindex"

	"github.com/gofiber/fiber/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "login", "index", "post", "error"}

type siteInfo struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Keywords []string `json:"keywords"`
	Prefix   string   `json:"blog_url_prefix"`
}

// pageData is the single view model shared by every HTML page.
type pageData struct {
	Site     siteInfo
	Identity *auth.Identity
	Prefix   string
	Title    string

	CSRF     string
	Username string
	Error    string

	Posts    []*models.Post
	Post     *models.Post
	Tag      string
	Tags     []tagindex.TagCount
	PrevPage int
	NextPage int

	Status  int
	Message string
}

type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	funcs := template.FuncMap{
		"join": strings.Join,
		"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
		"postURL": func(prefix, slug string) string {
			return strings.TrimSuffix(prefix, "/") + "/page/" + url.PathEscape(slug)
		},
		"tagURL": func(prefix, tag string) string {
			return strings.TrimSuffix(prefix, "/") + "/tag/" + url.PathEscape(tag)
		},
	}
	r := &renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// render executes the page into a buffer first so a template error never leaves a
// half-written response.
func (r *renderer) render(c *fiber.Ctx, status int, name string, data *pageData) error {
	t, ok := r.pages[name]
	if !ok {
		return models.NewInternalError(fmt.Errorf("unknown page %q", name))
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return models.NewInternalError(err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).Send(buf.Bytes())
}
