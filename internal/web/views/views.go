// Package views renders the storefront pages.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"

	"github.com/donaldgifford/automarket/internal/gating"
	"github.com/donaldgifford/automarket/internal/listing"
	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names.
const (
	Home      = "home"
	Car       = "car"
	Form      = "form"
	Delete    = "delete"
	Dashboard = "dashboard"
	Me        = "me"
	Login     = "login"
	Register  = "register"
	Loading   = "loading"
	Forbidden = "forbidden"
	Error     = "error"
)

var pages = mustParse(Home, Car, Form, Delete, Dashboard, Me, Login, Register, Loading, Forbidden, Error)

var funcs = template.FuncMap{
	"euro":       Euro,
	"paragraphs": Paragraphs,
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("2006-01-02")
	},
}

func mustParse(names ...string) map[string]*template.Template {
	base := template.Must(template.New("base").Funcs(funcs).ParseFS(templateFS, "templates/layout.html"))

	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t := template.Must(template.Must(base.Clone()).ParseFS(templateFS, "templates/"+name+".html"))
		out[name] = t.Lookup("layout")
	}
	return out
}

// Static returns the stylesheet and other static assets, rooted so that
// "app.css" is at the top level.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("static assets: %v", err))
	}
	return sub
}

// Page is the data every page template receives.
type Page struct {
	Title   string
	Session session.State
	CSRF    string
	Flash   string
	Error   string
	DocsURL string
	Body    any
}

// CanEdit reports whether the seller navigation is shown.
func (p Page) CanEdit() bool {
	return gating.CanEdit(p.Session)
}

// Render returns the component for the named page.
func Render(name string, p Page) templ.Component {
	t, ok := pages[name]
	if !ok {
		panic("views: unknown page " + name)
	}
	return templ.FromGoHTML(t, p)
}

// HomeData is the body of the home page.
type HomeData struct {
	Query string
	Cars  []domain.Car
}

// CarData is the body of the car detail page.
type CarData struct {
	Car       *domain.Car
	CanManage bool
}

// FormFields holds the raw form values so invalid input is shown back as
// typed.
type FormFields struct {
	Make        string
	Model       string
	Year        string
	Price       string
	ImageURL    string
	Description string
}

// FieldsFrom fills the form from an existing listing.
func FieldsFrom(in domain.CarInput) FormFields {
	f := FormFields{
		Make:        in.Make,
		Model:       in.Model,
		ImageURL:    in.ImageURL,
		Description: in.Description,
	}
	if in.Year != 0 {
		f.Year = strconv.Itoa(in.Year)
	}
	f.Price = strconv.FormatFloat(in.PriceEUR, 'f', -1, 64)
	return f
}

// FormData is the body of the create and edit pages.
type FormData struct {
	Action         string
	Editing        bool
	Fields         FormFields
	Errors         map[string]string
	UploadsEnabled bool
	MinYear        int
	MaxYear        int
}

// DeleteData is the body of the delete confirmation page.
type DeleteData struct {
	Car *domain.Car
}

// DashboardData is the body of the seller dashboard.
type DashboardData struct {
	View      listing.DashboardView
	SortModes []listing.SortMode
}

// MeData is the body of the account page.
type MeData struct {
	WhoAmI              *domain.WhoAmI
	WhoAmIError         string
	AllowRoleAssignment bool
	Roles               []domain.Role
}

// AuthData is the body of the sign-in and registration pages.
type AuthData struct {
	Email             string
	DisplayName       string
	Role              string
	GoogleEnabled     bool
	AllowSellerSignup bool
}

// ErrorData is the body of the error page.
type ErrorData struct {
	Status  int
	Message string
}

// textPolicy admits only the paragraph markup Paragraphs produces.
var textPolicy = bluemonday.NewPolicy().AllowElements("p", "br")

// Paragraphs renders plain text as HTML paragraphs. Blank lines separate
// paragraphs and single newlines become line breaks. The text itself is
// escaped, so markup in it is shown literally.
func Paragraphs(s string) template.HTML {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(template.HTMLEscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return template.HTML(textPolicy.Sanitize(b.String())) //nolint:gosec // built from escaped text
}

// Euro formats a price as whole euros with thousands separators.
func Euro(v float64) string {
	n := int64(v + 0.5)
	if v < 0 {
		n = int64(v - 0.5)
	}
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-€" + b.String()
	}
	return "€" + b.String()
}
