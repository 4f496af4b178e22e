package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the deployed function, its URL and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.pipeline(false, false).Status(cmd.Context())
			if rerr := renderResult(g.stdout, res); rerr != nil && err == nil {
				err = rerr
			}
			return err
		},
	}
}
