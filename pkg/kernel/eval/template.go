package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Render evaluates a log template against a variable scope.
// Example: Render("attempt {{ .attempts }} of {{ .target }}", vars) → "attempt 2 of 3"
func Render(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Option("missingkey=zero").Funcs(templateFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// CheckTemplate parses tmpl without executing it.
func CheckTemplate(tmpl string) error {
	if !strings.Contains(tmpl, "{{") {
		return nil
	}
	if _, err := template.New("").Funcs(templateFuncs()).Parse(tmpl); err != nil {
		return fmt.Errorf("template parse: %w", err)
	}
	return nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
		"upper": func(v any) string { return strings.ToUpper(fmt.Sprint(v)) },
		"lower": func(v any) string { return strings.ToLower(fmt.Sprint(v)) },
		"contains": func(s, substr any) bool {
			return strings.Contains(fmt.Sprint(s), fmt.Sprint(substr))
		},
	}
}
