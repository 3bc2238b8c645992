package cmd

import (
	"strings"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/logging"
)

// report renders a failed run: the message, the captured context pairs
// and the taskset/taskline backtrace, subject to the error.* config.
func report(err error) {
	e := errs.AsError(err)

	if e.Kind == errs.User {
		if e.Msg != "" {
			logging.Logw(logging.LevelError, e.Msg)
		}
		if !e.Trace {
			return
		}
	} else {
		for i, line := range strings.Split(e.Error(), "\n") {
			if i == 0 {
				logging.Logw(logging.LevelError, line)
			} else {
				logging.Logw(logging.LevelError, "  "+line)
			}
		}
	}

	showContext := cfg == nil || cfg.Error.Context
	if showContext && len(e.Context) > 0 {
		logging.Logw(logging.LevelError, "context:")
		for _, pair := range e.Context {
			reportIndent(pair[0], pair[1])
		}
	}

	showBacktrace := cfg == nil || cfg.Error.Backtrace
	if showBacktrace && len(e.Backtrace) > 0 {
		logging.Logw(logging.LevelError, "backtrace:")
		for i := len(e.Backtrace) - 1; i >= 0; i-- {
			logging.Logw(logging.LevelError, "> "+e.Backtrace[i])
		}
	}
}

func reportIndent(key, value string) {
	lines := strings.Split(value, "\n")
	maxLines := 10
	if cfg != nil {
		maxLines = cfg.Error.ContextLines
	}
	if len(lines) <= 1 {
		logging.Logw(logging.LevelError, "  "+key+": `"+value+"`")
		return
	}
	logging.Logw(logging.LevelError, "  "+key+": ```")
	for i, line := range lines {
		if i >= maxLines {
			logging.Logw(logging.LevelError, "  ... (showing only first lines)")
			break
		}
		logging.Logw(logging.LevelError, "  "+line)
	}
	logging.Logw(logging.LevelError, "  ```")
}
