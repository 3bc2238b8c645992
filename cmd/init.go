package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Obirvalger/lineup/internal/errs"
	"github.com/Obirvalger/lineup/internal/template"
	"github.com/Obirvalger/lineup/internal/vars"
)

var flagInitProfile string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Materialize a manifest from a config profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, ok := cfg.Init.Profiles[flagInitProfile]
		if !ok {
			return errs.New(errs.Resolve, "failed to get init profile `%s`", flagInitProfile)
		}

		if flagManifest != "-" {
			if _, err := os.Stat(flagManifest); err == nil {
				return errs.New(errs.Resolve,
					"trying to init manifest `%s` that already exists", flagManifest)
			}
		}

		content := profile.Manifest
		if profile.Render {
			extraVars, err := parseExtraVars(flagExtraVars)
			if err != nil {
				return err
			}
			profileVars, err := vars.FromMap(profile.Vars)
			if err != nil {
				return err
			}
			scope := vars.NewScope()
			scope.Extend(profileVars.Context())
			scope.Extend(extraVars.Context())
			rendered, err := template.Render(scope, content, "manifest in init profile in config")
			if err != nil {
				return err
			}
			content = rendered
		}

		if flagManifest == "-" {
			fmt.Print(content)
			return nil
		}
		if err := os.WriteFile(flagManifest, []byte(content), 0o644); err != nil {
			return errs.Wrap(errs.Backend, err, "failed to initialize manifest `%s`", flagManifest)
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&flagInitProfile, "profile", "p", "default", "init profile name")
	initCmd.Flags().StringArrayVarP(&flagExtraVars, "extra-vars", "e", nil, "extra variable as name=value")
	rootCmd.AddCommand(initCmd)
}
