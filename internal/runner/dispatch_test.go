package runner

import (
	"context"
	"os"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/manifest"
	"github.com/Obirvalger/lineup/internal/task"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/internal/worker"
	"github.com/Obirvalger/lineup/logging"
)

func testRunContext(t *testing.T) (*runContext, *vars.Scope) {
	t.Helper()
	logging.Initialize(logging.LevelError)
	w := worker.New("h", &engine.Host{}, worker.Defaults{
		Check:  true,
		Stdout: task.DefaultStdout(),
		Stderr: task.DefaultStderr(),
	})
	rc := &runContext{
		dir:       t.TempDir(),
		tasklines: map[string]manifest.Taskline{},
		worker:    w,
	}
	sc := vars.NewScope()
	sc.Set("manifest_dir", rc.dir)
	sc.Set("worker", "h")
	return rc, sc
}

func taskFromToml(t *testing.T, text string) *task.Task {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, toml.Unmarshal([]byte(text), &raw))
	decoded, err := task.Decode(raw)
	require.NoError(t, err)
	return decoded
}

func TestShellResultIsStrippedStdout(t *testing.T) {
	rc, sc := testRunContext(t)
	res, err := rc.runTask(context.Background(), taskFromToml(t, `shell.command = "echo LiL"`), sc)
	require.NoError(t, err)
	assert.Equal(t, "LiL", res.value)
}

func TestShellResultSpecVariants(t *testing.T) {
	rc, sc := testRunContext(t)
	ctx := context.Background()

	res, err := rc.runTask(ctx, taskFromToml(t, `
shell.command = "exit 4"
shell.check = false
shell.result = {return-code = true}
`), sc)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.value)

	res, err = rc.runTask(ctx, taskFromToml(t, `
shell.command = "printf 'a\\nb\\n'"
shell.result = {lines = true}
`), sc)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, res.value)

	res, err = rc.runTask(ctx, taskFromToml(t, `
shell.command = "echo warn >&2"
shell.result = {stream = "stderr"}
`), sc)
	require.NoError(t, err)
	assert.Equal(t, "warn", res.value)

	res, err = rc.runTask(ctx, taskFromToml(t, `
shell.command = "echo ready"
shell.success-matches = {out-re = "ready"}
shell.result = {matched = true}
`), sc)
	require.NoError(t, err)
	assert.Equal(t, true, res.value)
}

func TestExecTask(t *testing.T) {
	rc, sc := testRunContext(t)
	res, err := rc.runTask(context.Background(),
		taskFromToml(t, `exec.args = ["printf", "%s", "no shell $HOME"]`), sc)
	require.NoError(t, err)
	assert.Equal(t, "no shell $HOME", res.value)
}

func TestParallelItemsFoldByItem(t *testing.T) {
	rc, sc := testRunContext(t)
	res, err := rc.runTask(context.Background(), taskFromToml(t, `
shell.command = "echo got-{{ item }}"
items = ["x", "y"]
`), sc)
	require.NoError(t, err)
	fold := res.value.(map[string]interface{})
	assert.Equal(t, "got-x", fold["x"])
	assert.Equal(t, "got-y", fold["y"])
}

func TestSequentialItemsSeePriorResult(t *testing.T) {
	rc, sc := testRunContext(t)
	res, err := rc.runTask(context.Background(), taskFromToml(t, `
shell.command = "echo {{ result | default('start') }}-{{ item }}"
items = ["1", "2"]
parallel = false
`), sc)
	require.NoError(t, err)
	assert.Equal(t, "start-1-2", res.value)
}

func TestDummyAndLogResults(t *testing.T) {
	rc, sc := testRunContext(t)
	ctx := context.Background()

	res, err := rc.runTask(ctx, taskFromToml(t, `dummy.result = "fixed"`), sc)
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.value)

	sc.Set("result", "prior")
	res, err = rc.runTask(ctx, taskFromToml(t, `info.msg = "note"`), sc)
	require.NoError(t, err)
	assert.Equal(t, "prior", res.value)

	res, err = rc.runTask(ctx, taskFromToml(t, `debug = {msg = "note", result = "mine"}`), sc)
	require.NoError(t, err)
	assert.Equal(t, "mine", res.value)
}

func TestTestTaskResults(t *testing.T) {
	rc, sc := testRunContext(t)
	ctx := context.Background()

	res, err := rc.runTask(ctx, taskFromToml(t, `test.commands = ["true", ["id"]]`), sc)
	require.NoError(t, err)
	assert.Equal(t, true, res.value)

	res, err = rc.runTask(ctx, taskFromToml(t, `
test.check = false
test.commands = ["true", "false", "touch should-not-run"]
`), sc)
	require.NoError(t, err)
	assert.Equal(t, false, res.value)

	_, err = rc.runTask(ctx, taskFromToml(t, `test.commands = ["false"]`), sc)
	require.Error(t, err)
	assert.Equal(t, errs.CommandFailure, errs.KindOf(err))
}

func TestFileTaskContent(t *testing.T) {
	rc, sc := testRunContext(t)
	dst := rc.dir + "/motd"
	res, err := rc.runTask(context.Background(), taskFromToml(t, `
file.dst = "`+dst+`"
file.content = "hello {{ worker }}"
`), sc)
	require.NoError(t, err)
	assert.Equal(t, dst, res.value)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello h", string(data))
}

func TestGetTaskRelativeDst(t *testing.T) {
	rc, sc := testRunContext(t)
	src := rc.dir + "/remote.txt"
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	res, err := rc.runTask(context.Background(), taskFromToml(t, `
get.src = "`+src+`"
get.dst = "pulled.txt"
`), sc)
	require.NoError(t, err)
	assert.Equal(t, rc.dir+"/pulled.txt", res.value)

	data, err := os.ReadFile(rc.dir + "/pulled.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestSpecialUnsupportedOnHost(t *testing.T) {
	rc, sc := testRunContext(t)
	_, err := rc.runTask(context.Background(), taskFromToml(t, `special.restart = true`), sc)
	require.Error(t, err)
	assert.Equal(t, errs.Backend, errs.KindOf(err))
}

func TestStdinParam(t *testing.T) {
	rc, sc := testRunContext(t)
	res, err := rc.runTask(context.Background(), taskFromToml(t, `
shell.command = "cat"
shell.stdin = "fed {{ worker }}"
`), sc)
	require.NoError(t, err)
	assert.Equal(t, "fed h", res.value)
}
