package cmd

import (
	"context"
	"time"

	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/spf13/cobra"
)

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var (
		limit int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			target := a.target.Name
			if all {
				target = ""
			}
			runs, err := a.store.List(context.WithoutCancel(cmd.Context()), target, limit)
			if err != nil {
				return types.WrapError(types.KindConfigNotFound, err, "run history at %s", a.historyDir())
			}
			return renderHistory(g.stdout, runs, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs")
	cmd.Flags().BoolVar(&all, "all", false, "list runs of every target")
	return cmd
}
