package cmd

import (
	"fmt"

	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/spf13/cobra"
)

func newRemoveCmd(g *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the target's function",
		Long: `Delete the target's Lambda function and its Function URL. Registry images
are kept. Removing a function that does not exist succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			if !yes {
				fmt.Fprintf(g.stderr, "about to delete %s; pass --yes to confirm\n", a.target)
				return nil
			}
			res, err := a.pipeline(false, false).Remove(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range res.Messages {
				fmt.Fprintf(g.stdout, "%s %s\n", format.StatusSymbol(true), m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
