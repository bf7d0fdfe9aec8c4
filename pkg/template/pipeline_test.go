package template

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/callchain/pkg/mocks"
	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipeline_RenderStep_NoUserSettingsSkipsEngine(t *testing.T) {
	engine := &mocks.MockEngine{}
	pipeline := NewPipeline(engine, nil, newTestLogger())
	execCtx := newTestContext()

	for name, properties := range map[string]map[string]any{
		"nil properties":   nil,
		"missing settings": {"other": "x"},
		"empty settings":   {UserSettingsKey: map[string]any{}},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := pipeline.RenderStep(context.Background(), nil, "{{ .vars.name }}", execCtx, properties)

			require.NoError(t, err)
			assert.Equal(t, "{{ .vars.name }}", result)
		})
	}

	engine.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_RenderStep_MergesUserSettings(t *testing.T) {
	engine := &mocks.MockEngine{}
	pipeline := NewPipeline(engine, nil, newTestLogger())
	execCtx := newTestContext()
	execCtx.Set(UserSettingsKey, map[string]any{"locale": "en", "channel": "sms"})

	engine.On("Process", (*models.Template)(nil), "body", execCtx).Return("rendered", nil)

	result, err := pipeline.RenderStep(context.Background(), nil, "body", execCtx, map[string]any{
		UserSettingsKey: map[string]string{"channel": "email"},
	})

	require.NoError(t, err)
	assert.Equal(t, "rendered", result)

	settings, ok := execCtx.Get(UserSettingsKey)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"locale": "en", "channel": "email"}, settings)
	engine.AssertExpectations(t)
}

func TestPipeline_RenderStep_EngineErrorPropagates(t *testing.T) {
	engine := &mocks.MockEngine{}
	pipeline := NewPipeline(engine, nil, newTestLogger())
	engineErr := errors.New("boom")

	engine.On("Process", mock.Anything, "body", mock.Anything).Return("", engineErr)

	_, err := pipeline.RenderStep(context.Background(), nil, "body", newTestContext(), map[string]any{
		UserSettingsKey: map[string]any{"a": 1},
	})

	require.ErrorIs(t, err, engineErr)
}

func TestPipeline_RegenerateKeys_LiteralValues(t *testing.T) {
	pipeline := NewPipeline(NewTextEngine(), nil, newTestLogger())
	execCtx := models.NewExecutionContext("ctx-1", "", "", nil)
	execCtx.Set("key1", "1234")

	err := pipeline.RegenerateKeys(context.Background(), execCtx, map[string]string{
		"key1": "abcd",
		"key2": "value2",
	})
	require.NoError(t, err)

	key1, _ := execCtx.Get("key1")
	key2, _ := execCtx.Get("key2")
	assert.Equal(t, "abcd", key1)
	assert.Equal(t, "value2", key2)
}

func TestPipeline_RegenerateKeys_Expressions(t *testing.T) {
	pipeline := NewPipeline(NewTextEngine(), nil, newTestLogger())
	execCtx := newTestContext()

	err := pipeline.RegenerateKeys(context.Background(), execCtx, map[string]string{
		"orderRef": "{{ .vars.order.id }}-{{ .tc.id }}",
	})
	require.NoError(t, err)

	value, _ := execCtx.Get("orderRef")
	assert.Equal(t, "o-1-ctx-1", value)
}

func TestPipeline_RegenerateKeys_NilMapIsNoop(t *testing.T) {
	engine := &mocks.MockEngine{}
	pipeline := NewPipeline(engine, nil, newTestLogger())
	execCtx := newTestContext()
	before := execCtx.Values()

	require.NoError(t, pipeline.RegenerateKeys(context.Background(), execCtx, nil))

	assert.Equal(t, before, execCtx.Values())
	engine.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_LoadTemplateByReference(t *testing.T) {
	loader := &mocks.MockTemplateLoader{}
	pipeline := NewPipeline(NewTextEngine(), loader, newTestLogger())
	execCtx := newTestContext()

	loader.On("Template", mock.Anything, "welcome").Return(&models.Template{
		ID:   "welcome",
		Name: "welcome",
		Text: "Welcome {{ .vars.name }}",
	}, nil)

	properties := map[string]any{TemplateRefProperty: "welcome"}

	err := pipeline.LoadTemplateByReference(context.Background(), execCtx, properties, TemplateRefProperty)
	require.NoError(t, err)
	assert.Equal(t, "Welcome Alice", properties[TemplateRefProperty])
	loader.AssertExpectations(t)
}

func TestPipeline_LoadTemplateByReference_NoReference(t *testing.T) {
	loader := &mocks.MockTemplateLoader{}
	pipeline := NewPipeline(NewTextEngine(), loader, newTestLogger())

	err := pipeline.LoadTemplateByReference(context.Background(), newTestContext(), map[string]any{}, TemplateRefProperty)

	require.NoError(t, err)
	loader.AssertNotCalled(t, "Template", mock.Anything, mock.Anything)
}

func TestPipeline_LoadTemplateByReference_LoaderError(t *testing.T) {
	loader := &mocks.MockTemplateLoader{}
	pipeline := NewPipeline(NewTextEngine(), loader, newTestLogger())
	notFound := errors.New("not found")

	loader.On("Template", mock.Anything, "missing").Return(nil, notFound)

	err := pipeline.LoadTemplateByReference(context.Background(), newTestContext(),
		map[string]any{TemplateRefProperty: "missing"}, TemplateRefProperty)

	require.ErrorIs(t, err, notFound)
}

func TestPipeline_RunScript(t *testing.T) {
	pipeline := NewPipeline(NewTextEngine(), nil, newTestLogger())

	t.Run("template", func(t *testing.T) {
		execCtx := newTestContext()

		err := pipeline.RunScript(context.Background(), execCtx, `{{ set "flag" "on" }}`, models.ScriptLanguageTemplate)
		require.NoError(t, err)

		value, _ := execCtx.Get("flag")
		assert.Equal(t, "on", value)
	})

	t.Run("javascript", func(t *testing.T) {
		execCtx := newTestContext()
		execCtx.Set("count", 41)

		err := pipeline.RunScript(context.Background(), execCtx,
			`tc.count = tc.count + 1; tc.greeting = "hi " + tc.name;`, models.ScriptLanguageJavaScript)
		require.NoError(t, err)

		count, _ := execCtx.Get("count")
		greeting, _ := execCtx.Get("greeting")
		assert.EqualValues(t, 42, count)
		assert.Equal(t, "hi Alice", greeting)
	})

	t.Run("javascript error", func(t *testing.T) {
		err := pipeline.RunScript(context.Background(), newTestContext(), `throw new Error("nope")`,
			models.ScriptLanguageJavaScript)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "error executing javascript")
	})

	t.Run("empty script", func(t *testing.T) {
		require.NoError(t, pipeline.RunScript(context.Background(), newTestContext(), "", "python"))
	})

	t.Run("unsupported language", func(t *testing.T) {
		err := pipeline.RunScript(context.Background(), newTestContext(), "print(1)", "python")

		require.ErrorIs(t, err, ErrUnsupportedScriptLanguage)
	})
}

func TestScriptRunner_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewScriptRunner().Run(ctx, `while (true) {}`, newTestContext())

	require.Error(t, err)
}

func TestPipeline_Render_WithoutUserSettingsStillRenders(t *testing.T) {
	pipeline := NewPipeline(NewTextEngine(), nil, newTestLogger())

	result, err := pipeline.Render(context.Background(), nil, "Hello {{ .vars.name }}", newTestContext(), nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello Alice", result)
}

func TestPipeline_Render_WithUserSettings(t *testing.T) {
	pipeline := NewPipeline(NewTextEngine(), nil, newTestLogger())

	result, err := pipeline.Render(context.Background(), nil, "{{ .vars.userSettings.locale }}", newTestContext(),
		map[string]any{UserSettingsKey: map[string]any{"locale": "pt-BR"}})

	require.NoError(t, err)
	assert.Equal(t, "pt-BR", result)
}
