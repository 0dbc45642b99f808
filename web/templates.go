package web

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"timestamp": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC1123)
	},
}).ParseFS(templatesFS, "templates/*.html"))

// formView backs the credential pages.
type formView struct {
	Title   string
	Action  string
	Email   string
	Next    string
	Error   string
	Notice  string
	Links   routeLinks
}

type dashboardView struct {
	Title string
	Email string
	ID    string
	Role  string
	// LastSignInAt is nil before the first sign-in is recorded.
	LastSignInAt *time.Time
	Error        string
	Links        routeLinks
}

type routeLinks struct {
	Login     string
	SignUp    string
	Reset     string
	SignOut   string
	Dashboard string
}
