package task

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/logging"
)

func decodeToml(t *testing.T, text string) *Task {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, toml.Unmarshal([]byte(text), &raw))
	task, err := Decode(raw)
	require.NoError(t, err)
	return task
}

func decodeTomlErr(t *testing.T, text string) error {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, toml.Unmarshal([]byte(text), &raw))
	_, err := Decode(raw)
	require.Error(t, err)
	return err
}

func TestDecodeShell(t *testing.T) {
	task := decodeToml(t, `
name = "Echo"
shell.command = "echo LiL"
shell.stdout.print = true
`)
	shell := task.Body.(*Shell)
	assert.Equal(t, "echo LiL", shell.Command)
	require.NotNil(t, shell.Params.Stdout)
	assert.True(t, shell.Params.Stdout.Print)
	assert.Nil(t, shell.Params.Check)
	assert.True(t, task.EffectiveParallel())
}

func TestDecodeShellAliases(t *testing.T) {
	task := decodeToml(t, `
shell.cmd = "true"
shell.sc = [0, 2]
shell.sm = {out-re = "ok"}
shell.fm = {err-re = "bad"}
`)
	shell := task.Body.(*Shell)
	assert.Equal(t, "true", shell.Command)
	assert.Equal(t, []int{0, 2}, shell.Params.SuccessCodes)
	require.NotNil(t, shell.Params.SuccessMatches)
	assert.Equal(t, "ok", shell.Params.SuccessMatches.OutRe)
	require.NotNil(t, shell.Params.FailureMatches)
	assert.Equal(t, "bad", shell.Params.FailureMatches.ErrRe)
}

func TestDecodeShellOutputLevels(t *testing.T) {
	task := decodeToml(t, `
shell.command = "true"
shell.stdout = {log = "info", print = true}
shell.stderr = {log = "off"}
`)
	shell := task.Body.(*Shell)
	assert.Equal(t, logging.LevelInfo, shell.Params.Stdout.Log)
	assert.Equal(t, logging.LevelOff, shell.Params.Stderr.Log)
}

func TestDecodeExec(t *testing.T) {
	task := decodeToml(t, `
exec.args = ["ls", "-l"]
exec.check = false
`)
	body := task.Body.(*Exec)
	assert.Equal(t, []string{"ls", "-l"}, body.Args)
	require.NotNil(t, body.Params.Check)
	assert.False(t, *body.Params.Check)
}

func TestDecodeFile(t *testing.T) {
	task := decodeToml(t, `
file.dst = "/etc/motd"
file.content = "hello"
file.chmod = "0644"
`)
	body := task.Body.(*File)
	assert.Equal(t, "/etc/motd", body.Dst)
	assert.True(t, body.HasContent)
	assert.Equal(t, "hello", body.Content)

	decodeTomlErr(t, `file.dst = "/etc/motd"`)
	decodeTomlErr(t, `
file.dst = "/x"
file.src = "a"
file.content = "b"
`)
}

func TestDecodeGetAndRun(t *testing.T) {
	task := decodeToml(t, `get.src = "/var/log/messages"`)
	assert.Equal(t, "/var/log/messages", task.Body.(*Get).Src)

	task = decodeToml(t, `run = "setup"`)
	assert.Equal(t, "setup", task.Body.(*Run).Taskline)

	task = decodeToml(t, `run-taskline = {taskline = "t", module = "pkgs"}`)
	body := task.Body.(*RunTaskline)
	assert.Equal(t, "t", body.Taskline)
	assert.Equal(t, "pkgs", body.Module)
}

func TestDecodeRunTaskset(t *testing.T) {
	task := decodeToml(t, `
run-taskset.module = "deploy"
run-taskset.worker = "all"
`)
	body := task.Body.(*RunTaskset)
	assert.True(t, body.Worker.All)

	task = decodeToml(t, `
run-taskset.file = "./sub.toml"
run-taskset.worker = {maps = [["a", "b"], ["c", "d"]]}
`)
	body = task.Body.(*RunTaskset)
	assert.Equal(t, [][2]string{{"a", "b"}, {"c", "d"}}, body.Worker.Maps)
}

func TestDecodeEnsureTestBreak(t *testing.T) {
	task := decodeToml(t, `ensure.vars = ["packages: array | string"]`)
	assert.Equal(t, []string{"packages: array | string"}, task.Body.(*Ensure).Vars)

	task = decodeToml(t, `
test.commands = [
    "true",
    ["ls", "-l"],
    {command = "echo hi", check = false},
    {args = ["id"]},
]
`)
	body := task.Body.(*Test)
	require.Len(t, body.Commands, 4)
	assert.NotNil(t, body.Commands[0].Shell)
	assert.NotNil(t, body.Commands[1].Exec)
	assert.NotNil(t, body.Commands[2].Shell)
	assert.NotNil(t, body.Commands[3].Exec)

	task = decodeToml(t, `break = {}`)
	assert.IsType(t, &Break{}, task.Body)

	task = decodeToml(t, `break = {taskline = "outer", result = "r"}`)
	brk := task.Body.(*Break)
	assert.Equal(t, "outer", brk.Taskline)
	assert.Equal(t, "r", brk.Result)
}

func TestDecodeErrorAndLog(t *testing.T) {
	task := decodeToml(t, `error = {msg = "boom", code = 7, trace = false}`)
	body := task.Body.(*ErrorTask)
	assert.Equal(t, "boom", body.Msg)
	assert.Equal(t, 7, *body.Code)
	assert.False(t, *body.Trace)

	task = decodeToml(t, `warn.msg = "careful"`)
	log := task.Body.(*Log)
	assert.Equal(t, logging.LevelWarn, log.Level)
	assert.Equal(t, "careful", log.Msg)
	assert.False(t, log.HasResult)
}

func TestDecodeCommonFields(t *testing.T) {
	task := decodeToml(t, `
name = "Loop"
shell.command = "echo {{ item }}"
items = {start = 1, end = 4}
parallel = false
clean-vars = true
export-vars = ["a"]
vars = {a = 1}
try = {attempts = 3, sleep = 0.5}
`)
	assert.Equal(t, "Loop", task.Name)
	require.NotNil(t, task.Items)
	assert.False(t, task.EffectiveParallel())
	assert.True(t, task.CleanVars)
	assert.Equal(t, []string{"a"}, task.ExportVars)
	require.NotNil(t, task.Try)
	assert.Equal(t, 3, task.Try.Attempts)
	assert.Equal(t, 0.5, task.Try.Sleep)
}

func TestDecodeTryCleanup(t *testing.T) {
	task := decodeToml(t, `
shell.command = "flaky"
try = {attempts = 2, cleanup = {task = {shell = {command = "rm -f lock"}}}}
`)
	require.NotNil(t, task.Try.Cleanup)
	assert.Equal(t, "rm -f lock", task.Try.Cleanup.Body.(*Shell).Command)
	assert.Equal(t, 1.0, task.Try.Sleep)
}

func TestDecodeRejectsBadTasks(t *testing.T) {
	decodeTomlErr(t, `name = "no type"`)
	decodeTomlErr(t, "shell.command = \"a\"\ndummy = {}")
	decodeTomlErr(t, "shell.command = \"a\"\nbogus = 1")
	decodeTomlErr(t, `shell = {command = "a", wat = 1}`)
	decodeTomlErr(t, `try = {attempts = 0}
shell.command = "a"`)
}
