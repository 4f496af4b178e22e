package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rzbill/lambdeploy/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCmd(g *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the lambdeploy version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "", "text":
				fmt.Fprintln(g.stdout, version.Info())
				return nil
			case "json":
				enc := json.NewEncoder(g.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(version.Map())
			default:
				return fmt.Errorf("unsupported output format %q (use text or json)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
	return cmd
}
