package api

import (
	"embed"
	"fmt"
	"html/template"
	"math"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"temp": func(f float64) string {
			return fmt.Sprintf("%.1f°", f)
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%.0f%%", math.Round(f))
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
