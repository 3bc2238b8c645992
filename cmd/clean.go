package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Obirvalger/lineup/internal/runner"
	"github.com/Obirvalger/lineup/internal/tmpdir"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Tear down the workers of a manifest without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		defer tmpdir.Cleanup()

		r, err := runner.New(ctx, flagManifest, runner.Options{Config: cfg})
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Clean(ctx)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
