package runner

import (
	"context"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/manifest"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/internal/worker"
)

// runContext is everything one task execution needs: the runner, the
// taskline registry and the worker the task targets. universe is the
// worker set nested tasksets see.
type runContext struct {
	runner       *Runner
	dir          string
	tasklines    map[string]manifest.Taskline
	worker       *worker.Worker
	universe     []*worker.Worker
	tasklineName string
}

// runTaskline executes an ordered task sequence on the context worker.
// The returned result may carry a break aimed at an outer taskline.
func (rc *runContext) runTaskline(ctx context.Context, name string, line manifest.Taskline, sc *vars.Scope) (result, error) {
	scope := sc.Clone()
	scope.Set("taskline", name)
	sub := *rc
	sub.tasklineName = name

	var last interface{}
	if current, ok := scope.Get("result"); ok {
		last = current
	}
	for _, elem := range line {
		res, err := sub.runTask(ctx, elem.Task, scope)
		if err != nil {
			frame := "taskline: " + name
			if elem.Name != "" {
				frame = frame + " task: " + elem.Name
			}
			return result{}, errs.PushBacktrace(err, frame)
		}
		if res.brk != nil {
			if !res.brk.named || res.brk.taskline == name {
				if res.brk.value != nil {
					return valueResult(res.brk.value), nil
				}
				return valueResult(last), nil
			}
			return res, nil
		}
		last = res.value
		scope.Set("result", last)
	}
	return valueResult(last), nil
}

// resolveTaskline finds a taskline in the context registry.
func (rc *runContext) resolveTaskline(name string) (manifest.Taskline, error) {
	line, ok := rc.tasklines[name]
	if !ok {
		return nil, errs.New(errs.Resolve, "failed to get taskline `%s`", name)
	}
	return line, nil
}
