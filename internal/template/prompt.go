package template

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/Obirvalger/lineup/internal/errs"
)

// ttyMu serializes interactive prompts so concurrent tasks do not
// interleave reads on the single host TTY.
var ttyMu sync.Mutex

var stdinReader = bufio.NewReader(os.Stdin)

func stdinIsTty() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func promptConfirm(msg string, fallback *bool) (bool, error) {
	ttyMu.Lock()
	defer ttyMu.Unlock()

	if !stdinIsTty() {
		if fallback != nil {
			return *fallback, nil
		}
		return false, errs.New(errs.Prompt, "confirm `%s`: stdin is not a terminal", msg)
	}

	hint := "[y/n]"
	if fallback != nil {
		if *fallback {
			hint = "[Y/n]"
		} else {
			hint = "[y/N]"
		}
	}
	for {
		fmt.Fprintf(os.Stderr, "%s %s ", msg, hint)
		line, err := stdinReader.ReadString('\n')
		if err != nil {
			if fallback != nil {
				return *fallback, nil
			}
			return false, errs.Wrap(errs.Prompt, err, "confirm `%s`", msg)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "":
			if fallback != nil {
				return *fallback, nil
			}
		}
	}
}

func promptInput(msg string) (string, error) {
	ttyMu.Lock()
	defer ttyMu.Unlock()

	if !stdinIsTty() {
		return "", errs.New(errs.Prompt, "input `%s`: stdin is not a terminal", msg)
	}
	fmt.Fprintf(os.Stderr, "%s ", msg)
	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", errs.Wrap(errs.Prompt, err, "input `%s`", msg)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
