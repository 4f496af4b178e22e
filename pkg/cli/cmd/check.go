package cmd

import (
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newCheckCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify tools, environment file and credentials",
		Long: `Verify that the tools the transport needs are installed, the target's
environment file exists and the AWS credentials resolve. Nothing is built
or changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			p := a.pipeline(true, true)
			_, err = p.Run(cmd.Context(), pipeline.ModeCheck)
			if err != nil {
				return err
			}
			renderChecked(g.stdout, a.tools())
			return nil
		},
	}
}
