package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/rzbill/lambdeploy/pkg/cli/format"
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
)

// progress prints one line per stage as the run advances.
func progress(w io.Writer) pipeline.Observer {
	return func(t pipeline.Transition) {
		switch t.To {
		case types.StageSuccess, types.StageFailed:
			return
		}
		fmt.Fprintf(w, "%s %s\n", format.StageColor.Sprint("→"), t.To)
	}
}

func newTable(w io.Writer) *pterm.TablePrinter {
	return pterm.DefaultTable.
		WithHasHeader(true).
		WithHeaderStyle(pterm.NewStyle(pterm.FgCyan, pterm.Bold)).
		WithWriter(w)
}

// renderResult prints a DeploymentResult as a two-column table.
func renderResult(w io.Writer, res types.DeploymentResult) error {
	rows := [][]string{{"FIELD", "VALUE"}}
	add := func(k, v string) {
		if v != "" {
			rows = append(rows, []string{k, v})
		}
	}
	add("Target", res.Target)
	add("Function", res.FunctionName)
	add("ARN", res.FunctionARN)
	add("Version", res.Version)
	add("State", format.StatusLabel(res.State))
	add("Last modified", res.LastModified)
	add("Artifact", res.Artifact)
	add("URL", res.URL)
	add("Health", format.StatusLabel(string(res.Health)))
	if res.ErrorKind != "" && res.Success {
		add("Note", string(res.ErrorKind))
	}
	if err := newTable(w).WithData(rows).Render(); err != nil {
		return err
	}
	for _, m := range res.Messages {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return nil
}

func renderHistory(w io.Writer, runs []types.DeploymentResult, now time.Time) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	rows := [][]string{{"RUN", "TARGET", "RESULT", "STAGE", "ARTIFACT", "AGE", "DURATION"}}
	for _, r := range runs {
		result := format.StatusSymbol(r.Success) + " ok"
		if !r.Success {
			result = format.StatusSymbol(false) + " " + string(r.ErrorKind)
		}
		rows = append(rows, []string{
			shortID(r.RunID),
			r.Target,
			result,
			string(r.Stage),
			truncate(r.Artifact, 48),
			utils.FormatAge(r.StartedAt, now),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
		})
	}
	return newTable(w).WithData(rows).Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n+1:]
}

func renderChecked(w io.Writer, tools []types.Tool) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	if len(names) == 0 {
		fmt.Fprintf(w, "%s all prerequisites met\n", format.StatusSymbol(true))
		return
	}
	fmt.Fprintf(w, "%s all prerequisites met (%s, environment file, credentials)\n", format.StatusSymbol(true), strings.Join(names, ", "))
}
