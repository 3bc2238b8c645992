package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikolalohinski/gonja/v2/exec"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/internal/tmpdir"
)

func functionError(name, format string, args ...interface{}) *exec.Value {
	return exec.AsValue(fmt.Errorf("function `%s`: "+format, append([]interface{}{name}, args...)...))
}

func fnConfirm(params *exec.VarArgs) *exec.Value {
	if err := checkArgs("confirm", params, "msg", "default"); err != nil {
		return err
	}
	msg, found, err := kwString(params, "msg")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		return functionError("confirm", "didn't receive a `msg` argument")
	}
	var fallback *bool
	if v, ok := params.KwArgs["default"]; ok && !v.IsNil() {
		b, ok := v.Interface().(bool)
		if !ok {
			return functionError("confirm", "`default` can only be a bool")
		}
		fallback = &b
	}
	answer, err := promptConfirm(msg, fallback)
	if err != nil {
		return exec.AsValue(err)
	}
	return exec.AsValue(answer)
}

func fnInput(params *exec.VarArgs) *exec.Value {
	if err := checkArgs("input", params, "msg"); err != nil {
		return err
	}
	msg, found, err := kwString(params, "msg")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		return functionError("input", "didn't receive a `msg` argument")
	}
	text, err := promptInput(msg)
	if err != nil {
		return exec.AsValue(err)
	}
	return exec.AsValue(text)
}

func fnFs(params *exec.VarArgs) *exec.Value {
	if err := checkArgs("fs", params, "name"); err != nil {
		return err
	}
	name, found, err := kwString(params, "name")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		return functionError("fs", "didn't receive a `name` argument")
	}
	value, err := readFsVar(name)
	if err != nil {
		return exec.AsValue(err)
	}
	return exec.AsValue(value)
}

func fnHostCmd(params *exec.VarArgs) *exec.Value {
	if err := checkArgs("host_cmd", params, "cmd", "check", "capture"); err != nil {
		return err
	}
	cmdArg, ok := params.KwArgs["cmd"]
	if !ok {
		return functionError("host_cmd", "didn't receive a `cmd` argument")
	}

	var cmd *cmdexec.Cmd
	switch v := cmdArg.Interface().(type) {
	case string:
		cmd = cmdexec.New("sh", "-c", v)
	case []interface{}:
		args := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return functionError("host_cmd",
					"`cmd` can only contain string elements")
			}
			args[i] = s
		}
		if len(args) == 0 {
			return functionError("host_cmd", "`cmd` array is empty")
		}
		cmd = cmdexec.FromArgs(args)
	default:
		return functionError("host_cmd", "`cmd` can only be a string or an array")
	}

	check, err := kwBool(params, "check", true)
	if err != nil {
		return exec.AsValue(err)
	}
	capture, found, err := kwString(params, "capture")
	if err != nil {
		return exec.AsValue(err)
	}
	if !found {
		capture = "stdout"
	}
	if capture != "stdout" && capture != "stderr" {
		return functionError("host_cmd", "`capture` can only be `stdout` or `stderr`")
	}

	out, err := cmd.Run(context.Background(), nil, nil)
	if err != nil {
		return exec.AsValue(err)
	}
	if check && !out.Success() {
		return functionError("host_cmd", "command %s failed", cmd.String())
	}
	if capture == "stdout" {
		return exec.AsValue(strings.TrimRight(out.Stdout(), " \t\r\n"))
	}
	return exec.AsValue(strings.TrimRight(out.Stderr(), " \t\r\n"))
}

func fnTmpdir(params *exec.VarArgs) *exec.Value {
	if err := checkArgs("tmpdir", params); err != nil {
		return err
	}
	return exec.AsValue(tmpdir.Path())
}
