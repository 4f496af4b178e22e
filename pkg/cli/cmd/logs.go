package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/rzbill/lambdeploy/pkg/report"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
	"github.com/spf13/cobra"
)

func newLogsCmd(g *globalOptions) *cobra.Command {
	var (
		since  string
		filter string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent function logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := utils.ParseSince(since, time.Now())
			if err != nil {
				return types.WrapError(types.KindConfigIncomplete, err, "--since")
			}
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeouts.Status)
			defer cancel()
			c, err := a.clients(ctx)
			if err != nil {
				return err
			}
			events, err := report.RecentLogs(ctx, c.CWLogs, report.LogQuery{
				Function: a.target.FunctionName,
				Since:    window,
				Filter:   filter,
				Limit:    limit,
			})
			if err != nil {
				return types.InStage(err, types.StageReporting, types.KindStatusUnknown)
			}
			if len(events) == 0 {
				fmt.Fprintf(g.stderr, "no log events in %s for the last %s\n", report.LogGroup(a.target.FunctionName), window)
				return nil
			}
			for _, e := range events {
				fmt.Fprintf(g.stdout, "%s %s\n", format.CauseColor.Sprint(e.Time.Format(time.RFC3339)), e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "15m", "how far back to read (duration like 15m or 2d, or RFC3339 time)")
	cmd.Flags().StringVar(&filter, "filter", "", "CloudWatch Logs filter pattern")
	cmd.Flags().IntVar(&limit, "limit", 200, "maximum number of events")
	return cmd
}
