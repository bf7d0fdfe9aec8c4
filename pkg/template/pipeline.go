package template

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dukex/callchain/pkg/models"
)

const (
	// UserSettingsKey names both the connection property carrying ad-hoc overrides and
	// the context namespace they are merged into.
	UserSettingsKey = "userSettings"

	// TemplateRefProperty is the connection property holding a reusable template ID.
	TemplateRefProperty = "templateRef"
)

// Loader resolves a reusable template by ID.
type Loader interface {
	Template(ctx context.Context, id string) (*models.Template, error)
}

// Pipeline prepares a step's message immediately before the step talks to a transport.
// Engine errors are returned as they are; the pipeline never retries.
type Pipeline struct {
	engine  Engine
	loader  Loader
	scripts *ScriptRunner
	logger  *slog.Logger
}

func NewPipeline(engine Engine, loader Loader, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		engine:  engine,
		loader:  loader,
		scripts: NewScriptRunner(),
		logger:  logger.With("module", "template_pipeline"),
	}
}

// RenderStep renders body with the user settings found in properties. Without user
// settings the body is returned untouched and the engine is not invoked.
func (p *Pipeline) RenderStep(
	ctx context.Context,
	tmpl *models.Template,
	body string,
	execCtx *models.ExecutionContext,
	properties map[string]any,
) (string, error) {
	settings := userSettings(properties)
	if len(settings) == 0 {
		return body, nil
	}

	merged := make(map[string]any, len(settings))
	if existing, ok := execCtx.Get(UserSettingsKey); ok {
		if existingMap, ok := existing.(map[string]any); ok {
			maps.Copy(merged, existingMap)
		}
	}

	maps.Copy(merged, settings)
	execCtx.Set(UserSettingsKey, merged)

	p.logger.DebugContext(ctx, "Rendering step body with user settings",
		"context_id", execCtx.ID,
		"settings", len(settings),
	)

	return p.engine.Process(tmpl, body, execCtx)
}

// Render renders body against the context, merging user settings first when present.
func (p *Pipeline) Render(
	ctx context.Context,
	tmpl *models.Template,
	body string,
	execCtx *models.ExecutionContext,
	properties map[string]any,
) (string, error) {
	if len(userSettings(properties)) > 0 {
		return p.RenderStep(ctx, tmpl, body, execCtx, properties)
	}

	return p.engine.Process(tmpl, body, execCtx)
}

// RegenerateKeys renders every expression and stores the result under its key.
func (p *Pipeline) RegenerateKeys(ctx context.Context, execCtx *models.ExecutionContext, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}

	for _, key := range slices.Sorted(maps.Keys(keys)) {
		value, err := p.engine.Process(nil, keys[key], execCtx)
		if err != nil {
			return fmt.Errorf("failed to regenerate key %s: %w", key, err)
		}

		execCtx.Set(key, value)
	}

	p.logger.DebugContext(ctx, "Regenerated context keys", "context_id", execCtx.ID, "keys", len(keys))

	return nil
}

// LoadTemplateByReference replaces the template ID stored in properties[property] with
// the rendered text of that template.
func (p *Pipeline) LoadTemplateByReference(
	ctx context.Context,
	execCtx *models.ExecutionContext,
	properties map[string]any,
	property string,
) error {
	ref, _ := properties[property].(string)
	if ref == "" {
		return nil
	}

	tmpl, err := p.loader.Template(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", ref, err)
	}

	rendered, err := p.engine.Process(tmpl, tmpl.Text, execCtx)
	if err != nil {
		return err
	}

	properties[property] = rendered

	return nil
}

// RunScript evaluates a step pre-script for its side effects on the context.
func (p *Pipeline) RunScript(
	ctx context.Context,
	execCtx *models.ExecutionContext,
	script string,
	language models.ScriptLanguage,
) error {
	if script == "" {
		return nil
	}

	switch language {
	case models.ScriptLanguageJavaScript:
		return p.scripts.Run(ctx, script, execCtx)
	case models.ScriptLanguageTemplate, "":
		_, err := p.engine.Process(nil, script, execCtx)

		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedScriptLanguage, language)
	}
}

func userSettings(properties map[string]any) map[string]any {
	switch settings := properties[UserSettingsKey].(type) {
	case map[string]any:
		return settings
	case map[string]string:
		converted := make(map[string]any, len(settings))
		for k, v := range settings {
			converted[k] = v
		}

		return converted
	default:
		return nil
	}
}

// Compose builds a message body from its configuration: the template reference property is
// resolved, templateID contributes definitions, and the result is rendered. The returned
// properties are a copy with the reference replaced by its rendered text.
func (p *Pipeline) Compose(
	ctx context.Context,
	templateID, body string,
	execCtx *models.ExecutionContext,
	properties map[string]any,
) (string, map[string]any, error) {
	properties = maps.Clone(properties)
	if properties == nil {
		properties = make(map[string]any)
	}

	err := p.LoadTemplateByReference(ctx, execCtx, properties, TemplateRefProperty)
	if err != nil {
		return "", nil, err
	}

	if rendered, ok := properties[TemplateRefProperty].(string); ok && body == "" {
		body = rendered
	}

	var tmpl *models.Template
	if templateID != "" {
		tmpl, err = p.loader.Template(ctx, templateID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
		}
	}

	body, err = p.Render(ctx, tmpl, body, execCtx, properties)
	if err != nil {
		return "", nil, fmt.Errorf("failed to render message: %w", err)
	}

	return body, properties, nil
}
