package task

import (
	"io"
	"os"

	"github.com/Obirvalger/lineup/internal/cmdexec"
	"github.com/Obirvalger/lineup/logging"
)

// CmdOutput configures what happens to one captured stream: the log
// level every line is emitted at and whether each line is printed to the
// host stdout.
type CmdOutput struct {
	Log   logging.Level `mapstructure:"log" koanf:"log"`
	Print bool          `mapstructure:"print" koanf:"print"`
}

// DefaultStdout logs command stdout at trace.
func DefaultStdout() CmdOutput {
	return CmdOutput{Log: logging.LevelTrace}
}

// DefaultStderr logs command stderr at warn.
func DefaultStderr() CmdOutput {
	return CmdOutput{Log: logging.LevelWarn}
}

// Sink builds the tee writer for a stream; nil when nothing watches it.
// Close flushes a trailing unterminated line to the log.
func (o CmdOutput) Sink() io.WriteCloser {
	logged := logging.Enabled(o.Log)
	if !logged && !o.Print {
		return nil
	}
	return cmdexec.NewLineWriter(func(line string) {
		if logged {
			logging.Logw(o.Log, line)
		}
		if o.Print {
			_, _ = os.Stdout.WriteString(line + "\n")
		}
	})
}

// ResultSpec configures how a command's outcome is packaged into the
// task result.
type ResultSpec struct {
	Lines      bool   `mapstructure:"lines"`
	Matched    bool   `mapstructure:"matched"`
	ReturnCode bool   `mapstructure:"return-code"`
	Stream     string `mapstructure:"stream"`
	Strip      *bool  `mapstructure:"strip"`
}

// CmdParams are the command parameters shared by shell, exec and test
// commands. Check is a tristate so the config default applies when the
// manifest is silent.
type CmdParams struct {
	Check          *bool       `mapstructure:"check"`
	Stdin          string      `mapstructure:"stdin"`
	Stdout         *CmdOutput  `mapstructure:"stdout"`
	Stderr         *CmdOutput  `mapstructure:"stderr"`
	SuccessCodes   []int       `mapstructure:"success-codes"`
	SuccessMatches *Matches    `mapstructure:"success-matches"`
	FailureMatches *Matches    `mapstructure:"failure-matches"`
	Result         *ResultSpec `mapstructure:"result"`
}

// EffectiveStdout resolves the stream config against the global default.
func (p *CmdParams) EffectiveStdout(fallback CmdOutput) CmdOutput {
	if p.Stdout != nil {
		return *p.Stdout
	}
	return fallback
}

func (p *CmdParams) EffectiveStderr(fallback CmdOutput) CmdOutput {
	if p.Stderr != nil {
		return *p.Stderr
	}
	return fallback
}

// EffectiveCheck resolves the tristate check against the global default.
func (p *CmdParams) EffectiveCheck(fallback bool) bool {
	if p.Check != nil {
		return *p.Check
	}
	return fallback
}

// EffectiveSuccessCodes defaults to [0].
func (p *CmdParams) EffectiveSuccessCodes() []int {
	if p.SuccessCodes == nil {
		return []int{0}
	}
	return p.SuccessCodes
}
