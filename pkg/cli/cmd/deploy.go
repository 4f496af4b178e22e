package cmd

import (
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newDeployCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Check, build, publish and report a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.pipeline(true, true).Run(cmd.Context(), pipeline.ModeDeploy)
			if err != nil {
				return err
			}
			return renderResult(g.stdout, res)
		},
	}
}
