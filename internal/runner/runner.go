// Package runner executes a resolved manifest: it materializes workers,
// schedules the taskset DAG and drives tasklines through the task
// dispatcher.
package runner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Obirvalger/lineup/internal/config"
	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/fsvar"
	"github.com/Obirvalger/lineup/internal/manifest"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/internal/worker"
	"github.com/Obirvalger/lineup/logging"
)

// Options tune a Runner beyond what the manifest says.
type Options struct {
	Config       *config.Config
	Loader       *manifest.Loader
	ExtraVars    vars.Vars
	SkipTasks    []string
	WorkerExists engine.ExistsAction
}

// Runner holds one manifest's materialized plan.
type Runner struct {
	cfg    *config.Config
	loader *manifest.Loader
	man    *manifest.Manifest
	store  *fsvar.Store

	workers      []*worker.Worker
	manifestVars vars.Vars
	skipTasks    map[string]bool
	workerExists engine.ExistsAction
}

// New loads the manifest at path and materializes its workers.
func New(ctx context.Context, path string, opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Configure()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	loader := opts.Loader
	if loader == nil {
		loader = manifest.NewLoader(config.ModulesDir())
	}

	man, err := loader.Load(path)
	if err != nil {
		return nil, err
	}

	store, err := fsvar.Open(man.Dir)
	if err != nil {
		return nil, err
	}
	template.SetFsStore(store)

	r := &Runner{
		cfg:          cfg,
		loader:       loader,
		man:          man,
		store:        store,
		skipTasks:    make(map[string]bool),
		workerExists: opts.WorkerExists,
	}
	for _, name := range opts.SkipTasks {
		r.skipTasks[name] = true
	}

	scope := vars.NewScope()
	scope.Set("manifest_dir", man.Dir)

	manifestVars, err := renderManifestVars(ctx, man)
	if err != nil {
		return nil, err
	}
	scope.Extend(manifestVars.Context())
	if len(opts.ExtraVars) > 0 {
		rendered, err := template.RenderVars(ctx, scope, opts.ExtraVars, "extra vars")
		if err != nil {
			return nil, err
		}
		scope.Extend(rendered.Context())
		manifestVars = manifestVars.Extend(rendered)
	}
	r.manifestVars = manifestVars

	workers, err := r.materializeWorkers(ctx, scope)
	if err != nil {
		return nil, err
	}
	r.workers = workers
	return r, nil
}

// renderManifestVars evaluates a manifest's vars plus its extend maps
// against a scope rooted at the manifest directory.
func renderManifestVars(ctx context.Context, man *manifest.Manifest) (vars.Vars, error) {
	scope := vars.NewScope()
	scope.Set("manifest_dir", man.Dir)
	manifestVars, err := template.RenderVars(ctx, scope, man.Vars, "manifest")
	if err != nil {
		return nil, err
	}
	scope.Extend(manifestVars.Context())
	for _, extendMap := range man.Extend.VarsMaps {
		rendered, err := template.RenderVars(ctx, scope, extendMap, "extend vars in manifest")
		if err != nil {
			return nil, err
		}
		scope.Extend(rendered.Context())
		manifestVars = manifestVars.Extend(rendered)
	}
	return manifestVars, nil
}

func (r *Runner) commandDefaults() worker.Defaults {
	return worker.Defaults{
		Check:  r.cfg.Task.Command.Check,
		Stdout: r.cfg.Task.Command.Stdout,
		Stderr: r.cfg.Task.Command.Stderr,
	}
}

// materializeWorkers expands worker items, renders names and engines
// and checks post-expansion uniqueness.
func (r *Runner) materializeWorkers(ctx context.Context, scope *vars.Scope) ([]*worker.Worker, error) {
	deps := &engine.Deps{Storages: r.man.Storages, Networks: r.man.Networks}
	defaults := r.commandDefaults()

	var workers []*worker.Worker
	seen := make(map[string]bool)
	for _, def := range r.man.Workers {
		itemValues := []string{""}
		if def.Items != nil {
			expanded, err := def.Items.List(ctx, scope)
			if err != nil {
				return nil, err
			}
			itemValues = expanded
		}
		for _, item := range itemValues {
			workerScope := scope.Clone()
			if def.Items != nil {
				workerScope.Set("item", item)
			}
			if err := bindRow(workerScope, def.TableByItem, "item", item, "row_by_item"); err != nil {
				return nil, err
			}
			name, err := template.Render(workerScope, def.Name, "name in workers in manifest")
			if err != nil {
				return nil, err
			}
			if seen[name] {
				return nil, errs.New(errs.Resolve, "duplicate worker `%s`", name)
			}
			seen[name] = true
			if err := bindRow(workerScope, def.TableByName, "name", name, "row_by_name"); err != nil {
				return nil, err
			}

			eng, err := def.Engine.Materialize(workerScope, deps)
			if err != nil {
				return nil, err
			}
			if def.Setup != nil && eng.Base().Setup == nil {
				eng.Base().Setup = def.Setup
			}
			w := worker.New(name, eng, defaults)
			if def.Exists != "" {
				w.SetExistsAction(def.Exists)
			}
			workers = append(workers, w)
		}
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Name() < workers[j].Name() })
	return workers, nil
}

// bindRow binds the table row whose key column equals value.
func bindRow(scope *vars.Scope, rows []map[string]interface{}, key, value, binding string) error {
	for _, row := range rows {
		cell, ok := row[key]
		if !ok {
			continue
		}
		rendered, err := template.RenderValue(scope, cell, "table "+binding)
		if err != nil {
			return err
		}
		s, err := vars.FormatScalar(rendered)
		if err != nil {
			return err
		}
		if s == value {
			renderedRow, err := template.RenderValue(scope, row, "table "+binding)
			if err != nil {
				return err
			}
			scope.Set(binding, renderedRow)
			return nil
		}
	}
	return nil
}

// Workers exposes the materialized workers (tests and nested tasksets).
func (r *Runner) Workers() []*worker.Worker {
	return r.workers
}

// Manifest exposes the loaded manifest for top-level overrides
// (log-level, clean).
func (r *Runner) Manifest() *manifest.Manifest {
	return r.man
}

// Clean tears down every worker that finished setup or could exist.
func (r *Runner) Clean(ctx context.Context) error {
	var firstErr error
	for _, w := range r.workers {
		if err := w.EnsureRemove(ctx); err != nil {
			logging.Logw(logging.LevelError, "failed to remove worker",
				"worker", w.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CleanSetup tears down only the workers whose setup completed; the
// run-was-cancelled variant of Clean.
func (r *Runner) CleanSetup(ctx context.Context) {
	for _, w := range r.workers {
		if !w.SetupDone() {
			continue
		}
		if err := w.EnsureRemove(ctx); err != nil {
			logging.Logw(logging.LevelError, "failed to remove worker",
				"worker", w.Name(), "error", err)
		}
	}
}

// Close releases the fs-var store.
func (r *Runner) Close() error {
	return r.store.Close()
}

// baseScope builds the root scope every taskset entry starts from.
func (r *Runner) baseScope() *vars.Scope {
	scope := vars.NewScope()
	scope.Set("manifest_dir", r.man.Dir)
	scope.Extend(r.manifestVars.Context())
	return scope
}

// effectiveTaskset returns the manifest taskset, or the implied one
// running the default taskline on all workers.
func (r *Runner) effectiveTaskset() map[string]*manifest.TasksetElem {
	if len(r.man.Taskset) > 0 {
		return r.man.Taskset
	}
	return map[string]*manifest.TasksetElem{
		"Run taskline": {
			Workers: []string{".*"},
			Task:    &task.Task{Name: "Run taskline", Body: &task.RunTaskline{}},
		},
	}
}

type entryStatus int

const (
	entryOk entryStatus = iota
	entryFailed
	entrySkipped
)

type entryState struct {
	done   chan struct{}
	status entryStatus
	err    error
}

// Run executes the taskset DAG: an entry starts as soon as all its
// requirements completed successfully, and its per-worker executions
// run concurrently.
func (r *Runner) Run(ctx context.Context) error {
	taskset := r.effectiveTaskset()

	graph := make(map[string][]string, len(taskset))
	for name, elem := range taskset {
		for _, dep := range elem.Requires {
			if _, ok := taskset[dep]; !ok {
				return errs.New(errs.Resolve,
					"taskset entry `%s` requires unknown entry `%s`", name, dep)
			}
		}
		graph[name] = elem.Requires
	}
	if _, err := tsort(graph, "taskset requires"); err != nil {
		return err
	}

	states := make(map[string]*entryState, len(taskset))
	for name := range taskset {
		states[name] = &entryState{done: make(chan struct{})}
	}

	var wg sync.WaitGroup
	for name, elem := range taskset {
		wg.Add(1)
		go func(name string, elem *manifest.TasksetElem) {
			defer wg.Done()
			state := states[name]
			defer close(state.done)

			for _, dep := range elem.Requires {
				depState := states[dep]
				select {
				case <-depState.done:
				case <-ctx.Done():
					state.status = entrySkipped
					return
				}
				if depState.status != entryOk {
					state.status = entrySkipped
					logging.Logw(logging.LevelInfo, "skip taskset task",
						"task", name, "requires", dep)
					return
				}
			}
			if ctx.Err() != nil {
				state.status = entrySkipped
				return
			}
			if r.skipTasks[name] {
				state.status = entryOk
				return
			}
			if err := r.runEntry(ctx, name, elem); err != nil {
				state.status = entryFailed
				state.err = errs.PushBacktrace(err, fmt.Sprintf("taskset task: %s", name))
				return
			}
			state.status = entryOk
		}(name, elem)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return errs.Wrap(errs.Cancelled, ctx.Err(), "run aborted")
	}
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if states[name].err != nil {
			return states[name].err
		}
	}
	return nil
}

// runEntry runs one taskset entry on every matching worker.
func (r *Runner) runEntry(ctx context.Context, name string, elem *manifest.TasksetElem) error {
	regexes := make([]*regexp.Regexp, len(elem.Workers))
	for i, pattern := range elem.Workers {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errs.Wrap(errs.Parse, err, "taskset workers regex `%s`", pattern)
		}
		regexes[i] = re
	}
	var selected []*worker.Worker
	for _, w := range r.workers {
		for _, re := range regexes {
			if re.MatchString(w.Name()) {
				selected = append(selected, w)
				break
			}
		}
	}
	if len(selected) == 0 {
		logging.Logw(logging.LevelDebug, "no workers match taskset task", "task", name)
		return nil
	}

	universe := r.workers
	if len(elem.ProvideWorkers) > 0 {
		universe = nil
		for _, workerName := range elem.ProvideWorkers {
			w := findWorker(r.workers, workerName)
			if w == nil {
				return errs.New(errs.Resolve,
					"provide-workers names unknown worker `%s`", workerName)
			}
			universe = append(universe, w)
		}
	}

	// setup sequentially so a worker shared by concurrent entries is
	// never set up twice
	for _, w := range selected {
		if err := w.EnsureSetup(ctx, r.workerExists); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range selected {
		w := w
		g.Go(func() error {
			scope := r.baseScope()
			scope.Set("worker", w.Name())
			rc := &runContext{
				runner:    r,
				dir:       r.man.Dir,
				tasklines: r.man.Tasklines,
				worker:    w,
				universe:  universe,
			}
			_, err := rc.runTask(gctx, elem.Task, scope)
			return err
		})
	}
	return g.Wait()
}

func findWorker(workers []*worker.Worker, name string) *worker.Worker {
	for _, w := range workers {
		if w.Name() == name {
			return w
		}
	}
	return nil
}
