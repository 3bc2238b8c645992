// Package cmd is the lineup command-line surface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Obirvalger/lineup/internal/config"
	"github.com/Obirvalger/lineup/internal/engine"
	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/files"
	"github.com/Obirvalger/lineup/internal/items"
	"github.com/Obirvalger/lineup/internal/manifest"
	"github.com/Obirvalger/lineup/internal/runner"
	"github.com/Obirvalger/lineup/internal/tmpdir"
	"github.com/Obirvalger/lineup/internal/vars"
	"github.com/Obirvalger/lineup/logging"
)

var (
	flagManifest     string
	flagLogLevel     string
	flagWorkerExists string
	flagClean        bool
	flagNoClean      bool
	flagExtraVars    []string
	flagSkipTasks    []string
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "lineup",
	Short:         "Declarative manifest-driven task orchestrator",
	Long:          "Lineup materializes workers from a manifest, runs its tasklines and tasksets on them and tears them down.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		defer tmpdir.Cleanup()

		if flagLogLevel != "" {
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return errs.Wrap(errs.Parse, err, "")
			}
			logging.Initialize(level)
		}

		extraVars, err := parseExtraVars(flagExtraVars)
		if err != nil {
			return err
		}
		opts := runner.Options{
			Config:    cfg,
			ExtraVars: extraVars,
			SkipTasks: flagSkipTasks,
		}
		if flagWorkerExists != "" {
			action, err := engine.ParseExistsAction(flagWorkerExists)
			if err != nil {
				return err
			}
			opts.WorkerExists = action
		}

		r, err := runner.New(ctx, flagManifest, opts)
		if err != nil {
			return err
		}
		defer r.Close()
		applyManifestOverrides(r.Manifest())

		clean := cfg.Clean
		if r.Manifest().Clean != nil {
			clean = *r.Manifest().Clean
		}

		if err := r.Run(ctx); err != nil {
			if ctx.Err() != nil {
				// tear down what finished setup before the interrupt
				if clean && !flagNoClean {
					r.CleanSetup(context.Background())
				}
				return errs.Wrap(errs.Cancelled, ctx.Err(), "interrupted")
			}
			return err
		}
		if clean {
			if !flagNoClean {
				return r.Clean(ctx)
			}
		} else if flagClean {
			return r.Clean(ctx)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagManifest, "manifest", "m", "LM.toml", "manifest file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "off, error, warn, info, debug or trace")
	rootCmd.Flags().StringVar(&flagWorkerExists, "worker-exists", "", "action on existing workers: fail, ignore or replace")
	rootCmd.Flags().BoolVar(&flagClean, "clean", false, "remove workers after a successful run")
	rootCmd.Flags().BoolVar(&flagNoClean, "no-clean", false, "keep workers after a successful run")
	rootCmd.MarkFlagsMutuallyExclusive("clean", "no-clean")
	rootCmd.Flags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", nil, "extra variable as name=value")
	rootCmd.Flags().StringSliceVar(&flagSkipTasks, "skip-tasks", nil, "do not run these taskset tasks")
}

// applyManifestOverrides applies manifest-level controls that beat the
// config but lose to explicit flags.
func applyManifestOverrides(man *manifest.Manifest) {
	if flagLogLevel == "" && man.LogLevel != nil {
		logging.Initialize(*man.LogLevel)
	}
	if man.InstallEmbeddedModules != nil && *man.InstallEmbeddedModules &&
		!cfg.InstallEmbeddedModules {
		if err := files.InstallModules(config.Dir()); err != nil {
			logging.Logw(logging.LevelWarn, "failed to install embedded modules", "error", err)
		}
	}
}

func parseExtraVars(raw []string) (vars.Vars, error) {
	var extra vars.Vars
	for _, entry := range raw {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			return nil, errs.New(errs.Parse,
				"extra var `%s` does not have '=' to delimit name", entry)
		}
		v, err := vars.ParseVar(name)
		if err != nil {
			return nil, err
		}
		extra = append(extra, vars.Entry{Var: v, Value: value})
	}
	return extra, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	loaded, err := config.Configure()
	if err != nil {
		logging.Initialize(logging.LevelError)
		report(err)
		return errs.ExitCode(err)
	}
	cfg = loaded

	logging.Initialize(cfg.LogLevel)
	defer logging.Release()

	items.SeqInclusiveEnd = cfg.Items.SeqInclusiveEnd

	if err := files.InstallMainConfig(config.Dir()); err != nil {
		logging.Logw(logging.LevelWarn, "failed to install default config", "error", err)
	}
	if cfg.InstallEmbeddedModules {
		if err := files.InstallModules(config.Dir()); err != nil {
			logging.Logw(logging.LevelWarn, "failed to install embedded modules", "error", err)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		report(err)
		return errs.ExitCode(err)
	}
	return 0
}
