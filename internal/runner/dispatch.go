package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/gabriel-vasile/mimetype"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/tmpdir"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/internal/worker"
	"github.com/Obirvalger/lineup/logging"
)

// renderParams renders the dynamic command parameters: stdin and the
// regex leaves of the match formulas.
func renderParams(scope *vars.Scope, params task.CmdParams) (task.CmdParams, error) {
	rendered := params
	if params.Stdin != "" {
		stdin, err := template.Render(scope, params.Stdin, "stdin in command")
		if err != nil {
			return rendered, err
		}
		rendered.Stdin = stdin
	}
	renderLeaf := func(s string) (string, error) {
		return template.Render(scope, s, "matches in command")
	}
	var err error
	rendered.SuccessMatches, err = params.SuccessMatches.Rendered(renderLeaf)
	if err != nil {
		return rendered, err
	}
	rendered.FailureMatches, err = params.FailureMatches.Rendered(renderLeaf)
	if err != nil {
		return rendered, err
	}
	return rendered, nil
}

// packageResult turns a finished command into the task result per the
// result spec: return-code, then matched, then lines, then the raw
// stream text.
func packageResult(params *task.CmdParams, out *cmdexec.Out) (interface{}, error) {
	spec := params.Result
	if spec == nil {
		spec = &task.ResultSpec{}
	}
	if spec.ReturnCode {
		return int64(out.Rc()), nil
	}

	text := out.Stdout()
	if spec.Stream == "stderr" {
		text = out.Stderr()
	} else if spec.Stream != "" && spec.Stream != "stdout" {
		return nil, errs.New(errs.Parse, "result stream must be stdout or stderr, not `%s`", spec.Stream)
	}
	if spec.Strip == nil || *spec.Strip {
		text = strings.TrimSpace(text)
	}

	if spec.Matched {
		if params.SuccessMatches == nil {
			return true, nil
		}
		matched, err := params.SuccessMatches.IsMatch(out.Stdout(), out.Stderr())
		return matched, err
	}
	if spec.Lines {
		if text == "" {
			return []interface{}{}, nil
		}
		split := strings.Split(text, "\n")
		lines := make([]interface{}, len(split))
		for i, line := range split {
			lines[i] = line
		}
		return lines, nil
	}
	return text, nil
}

// runBody dispatches a task body by its tag.
func (rc *runContext) runBody(ctx context.Context, body task.Body, scope *vars.Scope) (result, error) {
	switch b := body.(type) {
	case *task.Shell:
		command, err := template.Render(scope, b.Command, "command in shell task")
		if err != nil {
			return result{}, err
		}
		params, err := renderParams(scope, b.Params)
		if err != nil {
			return result{}, err
		}
		out, err := rc.worker.Shell(ctx, command, &params)
		if err != nil {
			return result{}, err
		}
		value, err := packageResult(&params, out)
		if err != nil {
			return result{}, err
		}
		return valueResult(value), nil

	case *task.Exec:
		args, err := template.RenderStrings(scope, b.Args, "args in exec task")
		if err != nil {
			return result{}, err
		}
		if len(args) == 0 {
			return result{}, errs.New(errs.Parse, "exec task requires args")
		}
		params, err := renderParams(scope, b.Params)
		if err != nil {
			return result{}, err
		}
		out, err := rc.worker.Exec(ctx, args, &params)
		if err != nil {
			return result{}, err
		}
		value, err := packageResult(&params, out)
		if err != nil {
			return result{}, err
		}
		return valueResult(value), nil

	case *task.File:
		return rc.runFile(ctx, b, scope)

	case *task.Get:
		return rc.runGet(ctx, b, scope)

	case *task.Run:
		name, err := template.Render(scope, b.Taskline, "run taskline name")
		if err != nil {
			return result{}, err
		}
		line, err := rc.resolveTaskline(name)
		if err != nil {
			return result{}, err
		}
		return rc.runTaskline(ctx, name, line, scope)

	case *task.RunTaskline:
		return rc.runRunTaskline(ctx, b, scope)

	case *task.RunTaskset:
		return rc.runRunTaskset(ctx, b, scope)

	case *task.RunLineup:
		return rc.runRunLineup(ctx, b, scope)

	case *task.Ensure:
		return rc.runEnsure(b, scope)

	case *task.Test:
		return rc.runTest(ctx, b, scope)

	case *task.Break:
		brk := &breakSignal{}
		if b.Taskline != "" {
			name, err := template.Render(scope, b.Taskline, "break taskline")
			if err != nil {
				return result{}, err
			}
			brk.taskline = name
			brk.named = true
		}
		if b.Result != nil {
			value, err := template.RenderValue(scope, b.Result, "break result")
			if err != nil {
				return result{}, err
			}
			brk.value = value
		} else if current, ok := scope.Get("result"); ok {
			brk.value = current
		}
		return result{brk: brk}, nil

	case *task.Dummy:
		value, err := template.RenderValue(scope, b.Result, "dummy result")
		if err != nil {
			return result{}, err
		}
		return valueResult(value), nil

	case *task.ErrorTask:
		msg, err := template.Render(scope, b.Msg, "error msg")
		if err != nil {
			return result{}, err
		}
		code := 1
		if b.Code != nil {
			code = *b.Code
		}
		trace := b.Trace == nil || *b.Trace
		return result{}, errs.NewUser(msg, code, trace)

	case *task.Log:
		msg, err := template.Render(scope, b.Msg, "log msg")
		if err != nil {
			return result{}, err
		}
		logging.Logw(b.Level, msg, "worker", rc.worker.Name())
		if b.HasResult {
			value, err := template.RenderValue(scope, b.Result, "log result")
			if err != nil {
				return result{}, err
			}
			return valueResult(value), nil
		}
		current, _ := scope.Get("result")
		return valueResult(current), nil

	case *task.Special:
		for _, op := range []struct {
			name string
			set  bool
		}{{"restart", b.Restart}, {"start", b.Start}, {"stop", b.Stop}} {
			if !op.set {
				continue
			}
			if err := rc.worker.Special(ctx, op.name); err != nil {
				return result{}, err
			}
		}
		return valueResult(nil), nil
	}
	return result{}, errs.New(errs.Internal, "unknown task body %T", body)
}

func (rc *runContext) runFile(ctx context.Context, b *task.File, scope *vars.Scope) (result, error) {
	dst, err := template.Render(scope, b.Dst, "file task dst")
	if err != nil {
		return result{}, err
	}
	src := ""
	if b.HasContent {
		content, err := template.Render(scope, b.Content, "file task content")
		if err != nil {
			return result{}, err
		}
		src = tmpdir.TmpFile()
		if err := os.WriteFile(src, []byte(content), 0o644); err != nil {
			return result{}, errs.Wrap(errs.Backend, err, "write file task content")
		}
	} else {
		src, err = template.Render(scope, b.Src, "file task src")
		if err != nil {
			return result{}, err
		}
		if !filepath.IsAbs(src) {
			src = filepath.Join(rc.dir, src)
		}
	}
	if err := rc.worker.Put(ctx, src, dst); err != nil {
		return result{}, err
	}

	if b.Chown != "" {
		chown, err := template.Render(scope, b.Chown, "file task chown")
		if err != nil {
			return result{}, err
		}
		if err := rc.fileAttr(ctx, "chown", chown, dst); err != nil {
			return result{}, err
		}
	}
	if b.Chmod != "" {
		chmod, err := template.Render(scope, b.Chmod, "file task chmod")
		if err != nil {
			return result{}, err
		}
		if err := rc.fileAttr(ctx, "chmod", chmod, dst); err != nil {
			return result{}, err
		}
	}
	return valueResult(dst), nil
}

func (rc *runContext) fileAttr(ctx context.Context, program, arg, dst string) error {
	command := program + " " + shellescape.Quote(arg) + " " + shellescape.Quote(dst)
	out, err := rc.worker.ShellOut(ctx, command, "")
	if err != nil {
		return err
	}
	if !out.Success() {
		return errs.New(errs.CommandFailure, "command `%s` failed with code %d", command, out.Rc()).
			WithContext("stderr", strings.TrimSpace(out.Stderr()))
	}
	return nil
}

func (rc *runContext) runGet(ctx context.Context, b *task.Get, scope *vars.Scope) (result, error) {
	src, err := template.Render(scope, b.Src, "get task src")
	if err != nil {
		return result{}, err
	}
	if filepath.Base(src) == "." || filepath.Base(src) == "/" {
		return result{}, errs.New(errs.Parse, "get task src `%s` has no filename", src)
	}
	dst := b.Dst
	if dst == "" {
		dst = filepath.Join(rc.dir, filepath.Base(src))
	} else {
		dst, err = template.Render(scope, dst, "get task dst")
		if err != nil {
			return result{}, err
		}
		if !filepath.IsAbs(dst) {
			dst = filepath.Join(rc.dir, dst)
		}
	}
	if err := rc.worker.Get(ctx, src, dst); err != nil {
		return result{}, err
	}
	if info, err := os.Stat(dst); err == nil && !info.IsDir() {
		if mime, err := mimetype.DetectFile(dst); err == nil {
			logging.Logw(logging.LevelDebug, "pulled file",
				"dst", dst, "size", info.Size(), "type", mime.String())
		}
	}
	return valueResult(dst), nil
}

func (rc *runContext) runRunTaskline(ctx context.Context, b *task.RunTaskline, scope *vars.Scope) (result, error) {
	name, err := template.Render(scope, b.Taskline, "run-taskline taskline")
	if err != nil {
		return result{}, err
	}

	sub := *rc
	runScope := scope
	if b.Module != "" || b.File != "" {
		var path string
		if b.Module != "" {
			module, err := template.Render(scope, b.Module, "run-taskline module")
			if err != nil {
				return result{}, err
			}
			path = rc.runner.loader.ResolveModule(module, rc.dir)
		} else {
			file, err := template.Render(scope, b.File, "run-taskline file")
			if err != nil {
				return result{}, err
			}
			if !filepath.IsAbs(file) {
				file = filepath.Join(rc.dir, file)
			}
			path = file
		}
		man, err := rc.runner.loader.Load(path)
		if err != nil {
			return result{}, err
		}
		manVars, err := renderManifestVars(ctx, man)
		if err != nil {
			return result{}, err
		}
		// the module's vars are the base; the caller's scope overrides
		merged := vars.NewScope()
		merged.Extend(manVars.Context())
		merged.Extend(scope.Map())
		merged.Set("manifest_dir", man.Dir)
		runScope = merged
		sub.dir = man.Dir
		sub.tasklines = man.Tasklines
	}

	line, err := sub.resolveTaskline(name)
	if err != nil {
		return result{}, err
	}
	return sub.runTaskline(ctx, name, line, runScope)
}

func (rc *runContext) runRunTaskset(ctx context.Context, b *task.RunTaskset, scope *vars.Scope) (result, error) {
	var path string
	if b.Module != "" {
		module, err := template.Render(scope, b.Module, "run-taskset module")
		if err != nil {
			return result{}, err
		}
		path = rc.runner.loader.ResolveModule(module, rc.dir)
	} else {
		file, err := template.Render(scope, b.File, "run-taskset file")
		if err != nil {
			return result{}, err
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(rc.dir, file)
		}
		path = file
	}
	man, err := rc.runner.loader.Load(path)
	if err != nil {
		return result{}, err
	}
	manVars, err := renderManifestVars(ctx, man)
	if err != nil {
		return result{}, err
	}

	// select and remap the current worker universe for the nested run
	universe := rc.universe
	switch {
	case b.Worker.Names != nil:
		universe = nil
		for _, name := range b.Worker.Names {
			w := findWorker(rc.universe, name)
			if w == nil {
				return result{}, errs.New(errs.Resolve,
					"run-taskset names unknown worker `%s`", name)
			}
			universe = append(universe, w)
		}
	case b.Worker.Maps != nil:
		var renamed []*worker.Worker
		var restore [][2]interface{}
		for _, pair := range b.Worker.Maps {
			w := findWorker(rc.universe, pair[0])
			if w == nil {
				return result{}, errs.New(errs.Resolve,
					"run-taskset maps unknown worker `%s`", pair[0])
			}
			old := w.Rename(pair[1])
			restore = append(restore, [2]interface{}{w, old})
			renamed = append(renamed, w)
		}
		defer func() {
			for _, entry := range restore {
				entry[0].(*worker.Worker).Rename(entry[1].(string))
			}
		}()
		universe = renamed
	}

	sub := &Runner{
		cfg:          rc.runner.cfg,
		loader:       rc.runner.loader,
		man:          man,
		store:        rc.runner.store,
		workers:      universe,
		manifestVars: manVars,
		skipTasks:    make(map[string]bool),
		workerExists: rc.runner.workerExists,
	}
	if err := sub.Run(ctx); err != nil {
		return result{}, err
	}
	return valueResult(nil), nil
}

func (rc *runContext) runRunLineup(ctx context.Context, b *task.RunLineup, scope *vars.Scope) (result, error) {
	manifestPath, err := template.Render(scope, b.Manifest, "run-lineup manifest")
	if err != nil {
		return result{}, err
	}
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(rc.dir, manifestPath)
	}

	opts := Options{Config: rc.runner.cfg, Loader: rc.runner.loader}
	if b.Exists != "" {
		action, err := engine.ParseExistsAction(b.Exists)
		if err != nil {
			return result{}, err
		}
		opts.WorkerExists = action
	}
	if len(b.Vars) > 0 {
		rendered, err := template.RenderValue(scope, b.Vars, "run-lineup vars")
		if err != nil {
			return result{}, err
		}
		extraVars, err := vars.FromMap(rendered.(map[string]interface{}))
		if err != nil {
			return result{}, err
		}
		opts.ExtraVars = extraVars
	}

	sub, err := New(ctx, manifestPath, opts)
	// the nested run rebinds the fs-var store; restore ours regardless
	defer template.SetFsStore(rc.runner.store)
	if err != nil {
		return result{}, err
	}
	runErr := sub.Run(ctx)
	clean := rc.runner.cfg.Clean
	if b.Clean != nil {
		clean = *b.Clean
	}
	if runErr == nil && clean {
		if err := sub.Clean(ctx); err != nil {
			return result{}, err
		}
	}
	if runErr != nil {
		return result{}, runErr
	}
	return valueResult(nil), nil
}

func (rc *runContext) runEnsure(b *task.Ensure, scope *vars.Scope) (result, error) {
	var missing []string
	for _, def := range b.Vars {
		v, err := vars.ParseVar(def)
		if err != nil {
			return result{}, err
		}
		value, ok := scope.Get(v.Name)
		if !ok {
			missing = append(missing, v.Name)
			continue
		}
		if err := v.CheckType(value); err != nil {
			return result{}, err
		}
	}
	if len(missing) > 0 {
		return result{}, errs.New(errs.TypeMismatch,
			"variables `%s` are not set for taskline `%s`",
			strings.Join(missing, ", "), rc.tasklineName)
	}
	return valueResult(true), nil
}

func (rc *runContext) runTest(ctx context.Context, b *task.Test, scope *vars.Scope) (result, error) {
	testCheck := b.Check == nil || *b.Check
	for _, command := range b.Commands {
		var out *cmdexec.Out
		var err error
		checked := testCheck
		switch {
		case command.Shell != nil:
			rendered, rerr := template.Render(scope, command.Shell.Command, "command in test task")
			if rerr != nil {
				return result{}, rerr
			}
			params, perr := renderParams(scope, command.Shell.Params)
			if perr != nil {
				return result{}, perr
			}
			checked = params.EffectiveCheck(testCheck)
			params.Check = &checked
			out, err = rc.worker.Shell(ctx, rendered, &params)
		case command.Exec != nil:
			args, rerr := template.RenderStrings(scope, command.Exec.Args, "args in test task")
			if rerr != nil {
				return result{}, rerr
			}
			params, perr := renderParams(scope, command.Exec.Params)
			if perr != nil {
				return result{}, perr
			}
			checked = params.EffectiveCheck(testCheck)
			params.Check = &checked
			out, err = rc.worker.Exec(ctx, args, &params)
		}
		if err != nil {
			// an unchecked failure ends the test with a false result
			if !checked && errs.KindOf(err) == errs.CommandFailure {
				return valueResult(false), nil
			}
			return result{}, err
		}
		if !out.Success() {
			return valueResult(false), nil
		}
	}
	return valueResult(true), nil
}
