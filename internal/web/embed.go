// Package web provides the embedded request form template and its static
// assets.
package web

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html static/*
var assets embed.FS

// RowView is one server-rendered item row.
type RowView struct {
	ID       string
	PartName string
	Notes    string
}

// FormText holds the visible captions of the form.
type FormText struct {
	PartName string
	Notes    string
	AddRow   string
	Submit   string
}

// FormPage is the data rendered into the request form template.
type FormPage struct {
	Title         string
	Lang          string
	Dir           string
	Action        string
	CSRFFieldName string
	CSRFToken     string
	Rows          []RowView
	Text          FormText
}

var captions = map[string]FormText{
	"ar": {PartName: "اسم القطعة", Notes: "ملاحظات", AddRow: "إضافة صنف", Submit: "إرسال الطلب"},
	"en": {PartName: "Part name", Notes: "Notes", AddRow: "Add item", Submit: "Submit request"},
}

var titles = map[string]string{
	"ar": "طلب جديد",
	"en": "New request",
}

// NewFormPage returns a page for locale with a single initial row, row_1.
// Unknown locales fall back to Arabic.
func NewFormPage(locale, csrfField, csrfToken string) FormPage {
	text, ok := captions[locale]
	if !ok {
		locale = "ar"
		text = captions[locale]
	}
	dir := "ltr"
	if locale == "ar" {
		dir = "rtl"
	}
	return FormPage{
		Title:         titles[locale],
		Lang:          locale,
		Dir:           dir,
		Action:        "/requests/new",
		CSRFFieldName: csrfField,
		CSRFToken:     csrfToken,
		Rows:          []RowView{{ID: "row_1"}},
		Text:          text,
	}
}

var (
	formOnce sync.Once
	formTmpl *template.Template
	formErr  error
)

// RequestFormTemplate returns the parsed request form template.
func RequestFormTemplate() (*template.Template, error) {
	formOnce.Do(func() {
		formTmpl, formErr = template.ParseFS(assets, "templates/request_form.html")
	})
	return formTmpl, formErr
}

// RenderRequestForm writes the request form page to w.
func RenderRequestForm(w io.Writer, page FormPage) error {
	tmpl, err := RequestFormTemplate()
	if err != nil {
		return err
	}
	return tmpl.Execute(w, page)
}

// GetFileSystem returns the embedded static assets with static/ as root.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(assets, "static")
}

// RegisterStaticRoutes serves the embedded assets under /static/.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}

	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
	e.GET("/static/*", echo.WrapHandler(fileServer))
	return nil
}
