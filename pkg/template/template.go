// Package template renders step messages and scripts against an execution context.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/dukex/callchain/pkg/models"
	"github.com/oliveagle/jsonpath"
)

// Engine renders text against an execution context. The optional template contributes
// named definitions the text can invoke with {{ template "name" . }}.
type Engine interface {
	Process(tmpl *models.Template, text string, execCtx *models.ExecutionContext) (string, error)
}

// TextEngine is the text/template based Engine. It keeps no state between calls.
type TextEngine struct{}

func NewTextEngine() *TextEngine {
	return &TextEngine{}
}

func (e *TextEngine) Process(tmpl *models.Template, text string, execCtx *models.ExecutionContext) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	root, err := template.New("body").Funcs(funcMap(execCtx)).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", text, err)
	}

	if tmpl != nil && tmpl.Text != "" && tmpl.Text != text {
		_, err = root.New(tmpl.Name).Parse(tmpl.Text)
		if err != nil {
			return "", fmt.Errorf("failed to parse template %s: %w", tmpl.ID, err)
		}
	}

	var buf strings.Builder

	err = root.Execute(&buf, templateData(execCtx))
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", text, err)
	}

	return buf.String(), nil
}

func templateData(execCtx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"vars": execCtx.Values(),
		"tc": map[string]any{
			"id":         execCtx.ID,
			"name":       execCtx.Name,
			"project_id": execCtx.ProjectID,
		},
	}
}

func funcMap(execCtx *models.ExecutionContext) template.FuncMap {
	funcs := sprig.TxtFuncMap()

	funcs["now"] = func() string {
		return time.Now().UTC().Format(time.RFC3339)
	}
	funcs["jsonpath"] = func(path string, data any) (any, error) {
		return jsonpath.JsonPathLookup(data, path)
	}
	// set and get reach the live context, so pre-scripts can assign values.
	funcs["set"] = func(key string, value any) string {
		execCtx.Set(key, value)

		return ""
	}
	funcs["get"] = func(key string) any {
		v, _ := execCtx.Get(key)

		return v
	}

	return funcs
}
