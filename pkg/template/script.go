package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dukex/callchain/pkg/models"
)

var ErrUnsupportedScriptLanguage = errors.New("unsupported script language")

// ScriptRunner evaluates JavaScript pre-scripts. Context values are exposed as the tc
// object and every property left on tc is written back to the context.
type ScriptRunner struct{}

func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{}
}

func (r *ScriptRunner) Run(ctx context.Context, script string, execCtx *models.ExecutionContext) error {
	vm := goja.New()

	tc := vm.NewObject()
	for k, v := range execCtx.Values() {
		err := tc.Set(k, v)
		if err != nil {
			return fmt.Errorf("failed to expose %s to script: %w", k, err)
		}
	}

	err := vm.Set("tc", tc)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	_, err = vm.RunString(script)
	if err != nil {
		return fmt.Errorf("error executing javascript: %w", err)
	}

	for _, key := range tc.Keys() {
		execCtx.Set(key, tc.Get(key).Export())
	}

	return nil
}
