package cmd

import (
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newPublishCmd(g *globalOptions) *cobra.Command {
	var activateOnly bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the last built artifact",
		Long: `Publish the artifact from the last build of the target. With
--activate-only, point the function at the image a previous partial publish
pushed, without pushing again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			mode := pipeline.ModePublish
			if activateOnly {
				mode = pipeline.ModeActivate
			}
			res, err := a.pipeline(false, true).Run(cmd.Context(), mode)
			if err != nil {
				return err
			}
			return renderResult(g.stdout, res)
		},
	}
	cmd.Flags().BoolVar(&activateOnly, "activate-only", false, "activate the image left by a partial publish")
	return cmd
}
