package cmd

import (
	"fmt"

	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newBuildCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the artifact for a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.pipeline(true, true).Run(cmd.Context(), pipeline.ModeBuild)
			if err != nil {
				return err
			}
			fmt.Fprintf(g.stdout, "%s built %s\n", format.StatusSymbol(true), res.Artifact)
			return nil
		},
	}
}
