package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/model"
)

var pageNames = []string{
	"home",
	"signup",
	"login",
	"dashboard",
	"edit_user",
	"product_form",
	"product_detail",
	"cart",
	"purchases",
	"error",
}

// supportedLanguages drives number formatting. The first entry is the
// fallback.
var supportedLanguages = []language.Tag{
	language.AmericanEnglish,
	language.BritishEnglish,
	language.German,
	language.French,
	language.Spanish,
	language.Bengali,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var templateFuncs = template.FuncMap{
	"imageURL": imageURL,
	"date": func(t time.Time) string {
		return t.Format("2 Jan 2006")
	},
}

// PageData is what every template receives.
type PageData struct {
	Title   string
	Lang    string
	UserID  int64 // signed-in user, 0 when anonymous
	Flashes []Flash
	Data    map[string]any

	printer *message.Printer
}

// Price formats a price for the request's language.
func (p PageData) Price(v float64) string {
	return p.printer.Sprintf("%.2f", v)
}

// Renderer executes the embedded page templates. Each page is parsed
// together with base.html so it can define its own "content" block.
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

func NewRenderer(fsys fs.FS, logger *slog.Logger) (*Renderer, error) {
	base, err := template.New("base.html").Funcs(templateFuncs).ParseFS(fsys, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base template for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(fsys, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Render writes page with status. Pending flash messages are consumed.
// The page is rendered into a buffer first so a template error still
// produces a clean 500.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page, title string, data map[string]any) {
	tmpl, ok := rd.pages[page]
	if !ok {
		rd.logger.Error("unknown template", slog.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	tag := requestLanguage(r)
	userID, _ := auth.UserIDFromContext(r.Context())
	pd := PageData{
		Title:   title,
		Lang:    tag.String(),
		UserID:  userID,
		Flashes: popFlashes(w, r),
		Data:    data,
		printer: message.NewPrinter(tag),
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", pd); err != nil {
		rd.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// requestLanguage picks the best supported language from Accept-Language.
func requestLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return supportedLanguages[0]
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return supportedLanguages[idx]
}

// imageURL maps a stored image name to its public path.
func imageURL(name string) string {
	if name == "" || name == model.PlaceholderImage {
		return "/static/" + model.PlaceholderImage
	}
	return "/uploads/" + name
}
