package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/internal/config"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/manifest"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: logging.LevelError,
		Task: config.TaskConfig{
			Command: config.CommandConfig{
				Check:  true,
				Stdout: task.DefaultStdout(),
				Stderr: task.DefaultStderr(),
			},
		},
		Error: config.ErrorConfig{Backtrace: true, Context: true, ContextLines: 10},
	}
}

func newTestRunner(t *testing.T, dir, text string) *Runner {
	t.Helper()
	logging.Initialize(logging.LevelError)
	path := filepath.Join(dir, "LM.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	r, err := New(context.Background(), path, Options{
		Config: testConfig(),
		Loader: manifest.NewLoader(filepath.Join(dir, "modules")),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func runManifest(t *testing.T, dir, text string) error {
	t.Helper()
	r := newTestRunner(t, dir, text)
	return r.Run(context.Background())
}

func TestHostEcho(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, fmt.Sprintf(`
[workers.h]
engine = "host"

[[taskline]]
name = "Echo"
shell.command = "echo LiL | tee %s/out.txt"
shell.stdout.print = true
`, dir))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "LiL\n", string(data))
}

func TestItemsSequentialOrder(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "echo {{ item }} >> {{ manifest_dir }}/out.txt"
items = {start = 1, end = 4}
parallel = false
`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", string(data))
}

func TestTasksetRequiresOrdering(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[taskset.A]
shell.command = "sleep 0.2; touch {{ manifest_dir }}/a"

[taskset.B]
requires = ["A"]
shell.command = "test -f {{ manifest_dir }}/a && touch {{ manifest_dir }}/b"
`)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "a"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "b"))
	assert.NoError(t, err)
}

func TestTasksetFailureSkipsDependents(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[taskset.A]
shell.command = "false"

[taskset.B]
requires = ["A"]
shell.command = "touch {{ manifest_dir }}/b"
`)
	require.Error(t, err)
	assert.Equal(t, errs.CommandFailure, errs.KindOf(err))
	assert.Equal(t, 3, errs.ExitCode(err))

	_, statErr := os.Stat(filepath.Join(dir, "b"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTasksetDependencyCycle(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[taskset.A]
requires = ["B"]
shell.command = "true"

[taskset.B]
requires = ["A"]
shell.command = "true"
`)
	require.Error(t, err)
	assert.Equal(t, errs.DependencyCycle, errs.KindOf(err))
}

func TestSkipTasks(t *testing.T) {
	dir := t.TempDir()
	logging.Initialize(logging.LevelError)
	path := filepath.Join(dir, "LM.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[workers.h]
engine = "host"

[taskset.A]
shell.command = "touch {{ manifest_dir }}/a"

[taskset.B]
requires = ["A"]
shell.command = "touch {{ manifest_dir }}/b"
`), 0o644))
	r, err := New(context.Background(), path, Options{
		Config:    testConfig(),
		Loader:    manifest.NewLoader(dir),
		SkipTasks: []string{"A"},
	})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Run(context.Background()))

	_, statErr := os.Stat(filepath.Join(dir, "a"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "b"))
	assert.NoError(t, statErr)
}

func TestEnsureTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[vars]
packages = 42

[workers.h]
engine = "host"

[[taskline]]
ensure.vars = ["packages: array | string"]
`)
	require.Error(t, err)
	assert.Equal(t, errs.TypeMismatch, errs.KindOf(err))
	assert.Equal(t, 3, errs.ExitCode(err))
	assert.Contains(t, err.Error(), "packages")
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "f={{ manifest_dir }}/c; n=$(cat $f 2>/dev/null || echo 0); n=$((n+1)); echo $n > $f; test $n -ge 3"
try = {attempts = 3, sleep = 0}
`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "c"))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(data))
}

func TestRetryExhausted(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "echo $$ >> {{ manifest_dir }}/tries; false"
try = {attempts = 2, sleep = 0}
`)
	require.Error(t, err)
	assert.Equal(t, errs.RetryExhausted, errs.KindOf(err))

	data, readErr := os.ReadFile(filepath.Join(dir, "tries"))
	require.NoError(t, readErr)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}

func TestBreakStopsTaskline(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
dummy.result = "kept"

[[taskline]]
break = {}

[[taskline]]
shell.command = "touch {{ manifest_dir }}/never; false"
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "never"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFailureMatches(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "echo LLM >&2; true"
shell.failure-matches = {err-re = "LLM"}
`)
	require.Error(t, err)
	assert.Equal(t, errs.CommandFailure, errs.KindOf(err))
	assert.Contains(t, err.Error(), "failure matches")
}

func TestSuccessMatchesAndCodes(t *testing.T) {
	dir := t.TempDir()
	// exit 2 is accepted via success-codes, output must match
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "echo ready; exit 2"
shell.success-codes = [0, 2]
shell.success-matches = {out-re = "ready"}
`)
	require.NoError(t, err)

	err = runManifest(t, t.TempDir(), `
[workers.h]
engine = "host"

[[taskline]]
shell.command = "echo nope"
shell.success-matches = {out-re = "ready"}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success matches")
}

func TestConditionSkips(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
condition = "test -f {{ manifest_dir }}/missing"
shell.command = "touch {{ manifest_dir }}/skipped"

[[taskline]]
condition = "true"
shell.command = "touch {{ manifest_dir }}/ran"
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "skipped"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "ran"))
	assert.NoError(t, statErr)
}

func TestIfGate(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[vars]
enabled = "false"

[workers.h]
engine = "host"

[[taskline]]
if = "{{ enabled }}"
shell.command = "touch {{ manifest_dir }}/gated"
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "gated"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanVarsHidesUserScope(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[vars]
secret = "visible"

[workers.h]
engine = "host"

[[taskline]]
clean-vars = true
shell.command = "echo [{{ secret | default('') }}] > {{ manifest_dir }}/clean.txt"

[[taskline]]
shell.command = "echo [{{ secret | default('') }}] > {{ manifest_dir }}/plain.txt"
`)
	require.NoError(t, err)

	clean, err := os.ReadFile(filepath.Join(dir, "clean.txt"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(clean))
	plain, err := os.ReadFile(filepath.Join(dir, "plain.txt"))
	require.NoError(t, err)
	assert.Equal(t, "[visible]\n", string(plain))
}

func TestExportVarsLift(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
vars = {exported = "from-first"}
export-vars = ["exported"]
dummy = {}

[[taskline]]
shell.command = "echo {{ exported }} > {{ manifest_dir }}/out.txt"
`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from-first\n", string(data))
}

func TestExportVarsParallelCollision(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
items = ["a", "b"]
parallel = true
vars = {clash = "{{ item }}"}
export-vars = ["clash"]
dummy = {}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision")
}

func TestRunTasklineByName(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[tasklines.helper]]
shell.command = "touch {{ manifest_dir }}/helper-ran"

[[taskline]]
run = "helper"
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "helper-ran"))
	assert.NoError(t, statErr)
}

func TestBreakNamedTasklineUnwindsNested(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[tasklines.inner]]
break = {taskline = "outer"}

[[tasklines.inner]]
shell.command = "touch {{ manifest_dir }}/inner-after"

[[tasklines.outer]]
run = "inner"

[[tasklines.outer]]
shell.command = "touch {{ manifest_dir }}/outer-after"

[[taskline]]
run = "outer"

[[taskline]]
shell.command = "touch {{ manifest_dir }}/tail-ran"
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "inner-after"))
	assert.True(t, os.IsNotExist(statErr), "break must stop the inner taskline")
	_, statErr = os.Stat(filepath.Join(dir, "outer-after"))
	assert.True(t, os.IsNotExist(statErr), "named break must unwind to the outer taskline")
	_, statErr = os.Stat(filepath.Join(dir, "tail-ran"))
	assert.NoError(t, statErr, "a named break must not cross its target taskline")
}

func TestErrorTask(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
error = {msg = "deliberate stop", code = 7}
`)
	require.Error(t, err)
	assert.Equal(t, errs.User, errs.KindOf(err))
	assert.Equal(t, 7, errs.ExitCode(err))
}

func TestRunLineupNested(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub.toml"), []byte(`
[workers.h]
engine = "host"

[[taskline]]
shell.command = "touch {{ manifest_dir }}/sub-ran"
`), 0o644))

	err := runManifest(t, dir, `
[workers.h]
engine = "host"

[[taskline]]
run-lineup = {manifest = "./sub.toml"}
`)
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "sub-ran"))
	assert.NoError(t, statErr)
}

func TestWorkerItemsExpansion(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, dir, `
[workers."w{{ item }}"]
engine = "host"
items = [1, 2]
`)
	workers := r.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, "w1", workers[0].Name())
	assert.Equal(t, "w2", workers[1].Name())
}

func TestWorkerItemsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	logging.Initialize(logging.LevelError)
	path := filepath.Join(dir, "LM.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[workers.w]
engine = "host"
items = [1, 2]
`), 0o644))
	_, err := New(context.Background(), path, Options{
		Config: testConfig(),
		Loader: manifest.NewLoader(dir),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate worker")
}

func TestTasksetWorkersFilter(t *testing.T) {
	dir := t.TempDir()
	err := runManifest(t, dir, `
[workers."a{{ item }}"]
engine = "host"
items = [1, 2]

[workers.b]
engine = "host"

[taskset.only-a]
workers = ["a.*"]
shell.command = "echo {{ worker }} >> {{ manifest_dir }}/workers.txt"
parallel = false
`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "workers.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a1")
	assert.Contains(t, string(data), "a2")
	assert.NotContains(t, string(data), "b")
}
