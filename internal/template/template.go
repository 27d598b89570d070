// Package template renders the bridge's outgoing message bodies from
// embedded templates. Rendering is pure: deterministic output for given
// inputs, no side effects.
package template

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders named templates
type Engine struct {
	templates *template.Template
}

// NewEngine parses the embedded templates
func NewEngine() (*Engine, error) {
	t, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render renders the named template with the given values. The .tmpl suffix
// may be omitted.
func (e *Engine) Render(name string, values any) (string, error) {
	if !strings.HasSuffix(name, ".tmpl") {
		name += ".tmpl"
	}

	var sb strings.Builder
	if err := e.templates.ExecuteTemplate(&sb, name, values); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), nil
}
