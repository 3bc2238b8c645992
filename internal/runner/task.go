package runner

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

// runTask applies the common task machinery around the body dispatch:
// clean-vars, items and table expansion, vars, condition and if gates,
// retries and export-vars lifting into the caller's scope.
func (rc *runContext) runTask(ctx context.Context, t *task.Task, sc *vars.Scope) (result, error) {
	scope := sc.Clone()
	if t.CleanVars {
		scope = sc.CleanUser()
	}

	hasItems := t.Items != nil
	itemValues := []string{""}
	if hasItems {
		expanded, err := t.Items.List(ctx, scope)
		if err != nil {
			return result{}, err
		}
		itemValues = expanded
	}
	itemsVar := t.ItemsVar
	if itemsVar == "" {
		itemsVar = "item"
	}

	if !hasItems {
		res, exports, err := rc.runIteration(ctx, t, scope.Clone(), "")
		if err != nil {
			return result{}, err
		}
		if res.brk == nil {
			sc.Extend(exports)
		}
		return res, nil
	}

	if !t.EffectiveParallel() {
		iterScope := scope.Clone()
		allExports := make(map[string]interface{})
		last := valueResult(nil)
		for _, item := range itemValues {
			itScope := iterScope.Clone()
			itScope.Set(itemsVar, item)
			res, exports, err := rc.runIteration(ctx, t, itScope, item)
			if err != nil {
				return result{}, errs.PushBacktrace(err, "item: `"+item+"`")
			}
			if res.brk != nil {
				return res, nil
			}
			for name, value := range exports {
				iterScope.Set(name, value)
				allExports[name] = value
			}
			iterScope.Set("result", res.value)
			last = res
		}
		sc.Extend(allExports)
		return last, nil
	}

	results := make([]result, len(itemValues))
	exportsByIter := make([]map[string]interface{}, len(itemValues))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range itemValues {
		i, item := i, item
		g.Go(func() error {
			itScope := scope.Clone()
			itScope.Set(itemsVar, item)
			res, exports, err := rc.runIteration(gctx, t, itScope, item)
			if err != nil {
				return errs.PushBacktrace(err, "item: `"+item+"`")
			}
			results[i] = res
			exportsByIter[i] = exports
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	for _, res := range results {
		if res.brk != nil {
			return res, nil
		}
	}

	merged := make(map[string]interface{})
	exporter := make(map[string]string)
	for i, exports := range exportsByIter {
		for name, value := range exports {
			if other, clash := exporter[name]; clash && other != itemValues[i] {
				return result{}, errs.New(errs.Internal,
					"export-vars collision on `%s` between items `%s` and `%s`",
					name, other, itemValues[i])
			}
			exporter[name] = itemValues[i]
			merged[name] = value
		}
	}
	sc.Extend(merged)

	fold := make(map[string]interface{}, len(itemValues))
	for i, item := range itemValues {
		fold[item] = results[i].value
	}
	return valueResult(fold), nil
}

// runIteration runs one item iteration, expanding the task table when
// present. Returns the exported variable values alongside the result.
func (rc *runContext) runIteration(ctx context.Context, t *task.Task, scope *vars.Scope, item string) (result, map[string]interface{}, error) {
	if t.Table == nil {
		return rc.runSingle(ctx, t, scope, item)
	}

	var rowResults []interface{}
	exports := make(map[string]interface{})
	for _, row := range t.Table {
		rowScope := scope.Clone()
		rendered, err := template.RenderValue(rowScope, row, "task table row")
		if err != nil {
			return result{}, nil, err
		}
		rowScope.Set("row", rendered)
		res, rowExports, err := rc.runSingle(ctx, t, rowScope, item)
		if err != nil {
			return result{}, nil, err
		}
		if res.brk != nil {
			return res, nil, nil
		}
		for name, value := range rowExports {
			exports[name] = value
		}
		rowResults = append(rowResults, res.value)
	}
	return valueResult(rowResults), exports, nil
}

// runSingle evaluates vars and gates, then dispatches the body with
// retries.
func (rc *runContext) runSingle(ctx context.Context, t *task.Task, scope *vars.Scope, item string) (result, map[string]interface{}, error) {
	var exports map[string]interface{}
	if !t.Vars.IsZero() {
		rendered, err := template.RenderExtVars(ctx, scope, t.Vars, "task")
		if err != nil {
			return result{}, nil, err
		}
		varsContext := rendered.Context()
		scope.Extend(varsContext)
		if len(t.ExportVars) > 0 {
			exports = make(map[string]interface{})
			for _, name := range t.ExportVars {
				if value, ok := varsContext[name]; ok {
					exports[name] = value
				}
			}
		}
	}

	current := func() result {
		value, _ := scope.Get("result")
		return valueResult(value)
	}

	if t.Condition != "" {
		condition, err := template.Render(scope, t.Condition, "task condition")
		if err != nil {
			return result{}, nil, err
		}
		skip := false
		switch strings.TrimSpace(condition) {
		case "true":
		case "false":
			skip = true
		default:
			out, err := rc.worker.ShellOut(ctx, condition, "")
			if err != nil {
				return result{}, nil, err
			}
			skip = !out.Success()
		}
		if skip {
			return current(), exports, nil
		}
	}
	if t.If != "" {
		gate, err := template.Render(scope, t.If, "task if")
		if err != nil {
			return result{}, nil, err
		}
		if !template.EvalBool(gate) {
			return current(), exports, nil
		}
	}

	name := ""
	if t.Name != "" {
		rendered, err := template.Render(scope, t.Name, "task name")
		if err != nil {
			return result{}, nil, err
		}
		name = rendered
		if item != "" {
			logging.Logw(logging.LevelInfo, "run task",
				"task", name, "item", item, "worker", rc.worker.Name())
		} else {
			logging.Logw(logging.LevelInfo, "run task",
				"task", name, "worker", rc.worker.Name())
		}
	}

	start := time.Now()
	res, attempts, err := rc.runBodyWithTry(ctx, t, scope)
	if err != nil {
		return result{}, nil, err
	}
	if name != "" {
		kv := []interface{}{
			"task", name, "worker", rc.worker.Name(),
			"duration", time.Since(start).Round(time.Millisecond),
		}
		if attempts > 1 {
			kv = append(kv, "attempts", attempts)
		}
		logging.Logw(logging.LevelInfo, "task finished", kv...)
	}
	return res, exports, nil
}

// runBodyWithTry dispatches the body, retrying per the task's try
// config. It reports how many attempts ran.
func (rc *runContext) runBodyWithTry(ctx context.Context, t *task.Task, scope *vars.Scope) (result, int, error) {
	res, err := rc.runBody(ctx, t.Body, scope)
	if t.Try == nil || err == nil {
		return res, 1, err
	}

	attempt := 1
	for err != nil && attempt < t.Try.Attempts {
		if ctx.Err() != nil {
			return result{}, attempt, errs.Wrap(errs.Cancelled, ctx.Err(), "retry aborted")
		}
		time.Sleep(time.Duration(t.Try.Sleep * float64(time.Second)))
		if t.Try.Cleanup != nil {
			if _, cerr := rc.runTask(ctx, t.Try.Cleanup, scope.Clone()); cerr != nil {
				logging.Logw(logging.LevelWarn, "cleanup command failed", "error", cerr)
			}
		}
		attempt++
		res, err = rc.runBody(ctx, t.Body, scope)
	}
	if err != nil {
		return result{}, attempt,
			errs.Wrap(errs.RetryExhausted, err, "task failed after %d attempts", attempt)
	}
	return res, attempt, nil
}
