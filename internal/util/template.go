package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// funcs are the helpers available to every prompt template.
var funcs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
	"trim": strings.TrimSpace,
}

// ParseTemplate compiles text with the shared helper funcs.
func ParseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}

	return tmpl, nil
}

// RenderTemplate executes tmpl against data. Text is rendered verbatim; no
// HTML escaping takes place.
func RenderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", tmpl.Name(), err)
	}

	return buf.String(), nil
}

// MustParseTemplate is like ParseTemplate but panics on error. Intended for
// package-level templates.
func MustParseTemplate(name, text string) *template.Template {
	tmpl, err := ParseTemplate(name, text)
	if err != nil {
		panic(err)
	}

	return tmpl
}
