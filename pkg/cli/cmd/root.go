// Package cmd implements the lambdeploy command line.
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/rzbill/lambdeploy/pkg/version"
	"github.com/spf13/cobra"
)

// globalOptions are the flags every command shares.
type globalOptions struct {
	configFile string
	target     string
	verbose    bool
	noColor    bool

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(g *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "lambdeploy",
		Short: "Build and deploy functions to AWS Lambda",
		Long: `lambdeploy checks prerequisites, loads the target's environment file,
builds a zip bundle or container image, publishes it to AWS Lambda and
reports the deployed URL and health.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			format.ConfigureColor(g.stdout, g.noColor)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(g.stdout)
	root.SetErr(g.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&g.configFile, "config", "", "config file (default is ./lambdeploy.yaml)")
	flags.StringVarP(&g.target, "target", "t", "dev", "deployment target")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newCheckCmd(g),
		newBuildCmd(g),
		newPublishCmd(g),
		newDeployCmd(g),
		newStatusCmd(g),
		newRemoveCmd(g),
		newLogsCmd(g),
		newHistoryCmd(g),
		newInitCmd(g),
		newVersionCmd(g),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globalOptions{stdout: stdout, stderr: stderr}
	root := newRootCmd(g)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil {
		format.RenderError(stderr, err)
	}
	return ExitCode(err)
}
