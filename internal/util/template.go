package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// ParseTemplate parses a user-supplied template string.
// Includes validation to prevent template injection attacks.
func ParseTemplate(name, tmpl string) (*template.Template, error) {
	// Block: call (function calls), define (template definition), template (template inclusion)
	forbiddenDirectives := []string{"{{call", "{{define", "{{template", "{{block"}
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return nil, fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New(name).
		Option("missingkey=error"). // Fail on missing keys to prevent silent errors
		Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return t, nil
}

// ExecuteTemplate renders a parsed template into a string
func ExecuteTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// RenderTemplate parses and renders a template string in one step
func RenderTemplate(tmpl string, data any) (string, error) {
	t, err := ParseTemplate("inline", tmpl)
	if err != nil {
		return "", err
	}
	return ExecuteTemplate(t, data)
}

// TruncateString truncates a string to maxLen runes (Unicode-safe)
// Uses runes instead of bytes to properly handle multi-byte UTF-8 characters
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
