// Package preflight verifies that the local machine and the remote accounts
// can run a deployment before anything is built.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// Missing is one unmet requirement.
type Missing struct {
	Name   string
	Kind   types.ErrorKind
	Reason string
	// Err is the failure behind Reason, if any.
	Err error
}

func (m Missing) String() string {
	if m.Reason == "" {
		return m.Name
	}
	return fmt.Sprintf("%s: %s", m.Name, m.Reason)
}

// Probe checks one requirement that is not a local executable.
type Probe interface {
	Name() string
	// Local probes only touch the filesystem and run before network probes.
	Local() bool
	Probe(ctx context.Context) error
}

// Checker evaluates tools and probes. The zero Runner uses os/exec.
type Checker struct {
	Tools  []types.Tool
	Probes []Probe
	Runner runner.Runner
	Logger log.Logger
}

// Check returns every unmet requirement, in evaluation order. Tools and
// local probes are always evaluated; network probes run only when all of
// them passed, so a missing environment file never costs a network call.
func (c *Checker) Check(ctx context.Context) []Missing {
	logger := c.logger(ctx)
	var missing []Missing

	for _, tool := range c.Tools {
		if m, ok := c.checkTool(ctx, tool); !ok {
			logger.Debug("Tool unavailable", log.Str("tool", tool.Name), log.Str("reason", m.Reason))
			missing = append(missing, m)
		}
	}

	var network []Probe
	for _, p := range c.Probes {
		if !p.Local() {
			network = append(network, p)
			continue
		}
		if m, ok := runProbe(ctx, p); !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return missing
	}

	for _, p := range network {
		if ctx.Err() != nil {
			missing = append(missing, Missing{Name: p.Name(), Kind: types.KindTimeout, Reason: ctx.Err().Error(), Err: ctx.Err()})
			break
		}
		if m, ok := runProbe(ctx, p); !ok {
			missing = append(missing, m)
		}
	}
	return missing
}

// Require fails with the first unmet requirement. A missing environment
// file takes precedence, so its ConfigNotFound kind wins over missing tools;
// otherwise the kind is PrerequisiteMissing. A deadline hit while checking
// surfaces as Timeout.
func (c *Checker) Require(ctx context.Context) error {
	missing := c.Check(ctx)
	if len(missing) == 0 {
		return nil
	}
	lead := 0
	for i, m := range missing {
		if m.Kind == types.KindConfigNotFound {
			lead = i
			break
		}
	}
	first := missing[lead]
	var others []string
	for i, m := range missing {
		if i != lead {
			others = append(others, m.Name)
		}
	}
	var err *types.Error
	if e, ok := first.Err.(*types.Error); ok {
		cp := *e
		cp.Kind = first.Kind
		err = &cp
	} else if first.Err != nil {
		err = types.WrapError(first.Kind, first.Err, "%s", first.Name)
	} else {
		err = types.NewError(first.Kind, "%s", first.String())
	}
	if len(others) > 0 {
		err.Message += fmt.Sprintf(" (also unmet: %s)", strings.Join(others, ", "))
	}
	return err
}

func (c *Checker) checkTool(ctx context.Context, tool types.Tool) (Missing, bool) {
	r := c.runner()
	path, err := r.LookPath(tool.Name)
	if err != nil {
		return Missing{Name: tool.Name, Kind: types.KindPrerequisiteMissing, Reason: "not found on PATH"}, false
	}
	if len(tool.VersionArgs) == 0 {
		return Missing{}, true
	}
	cmd := append([]string{path}, tool.VersionArgs...)
	if _, err := r.Run(ctx, runner.Options{Command: cmd}); err != nil {
		return Missing{Name: tool.Name, Kind: kindFor(err), Reason: err.Error(), Err: err}, false
	}
	return Missing{}, true
}

func runProbe(ctx context.Context, p Probe) (Missing, bool) {
	err := p.Probe(ctx)
	if err == nil {
		return Missing{}, true
	}
	return Missing{Name: p.Name(), Kind: kindFor(err), Reason: err.Error(), Err: err}, false
}

func kindFor(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout
	}
	if kind := types.KindOf(err); kind != "" {
		return kind
	}
	return types.KindPrerequisiteMissing
}

func (c *Checker) runner() runner.Runner {
	if c.Runner == nil {
		c.Runner = runner.NewExec(c.Logger)
	}
	return c.Runner
}

func (c *Checker) logger(ctx context.Context) log.Logger {
	if c.Logger == nil {
		return log.FromContext(ctx).WithComponent("preflight")
	}
	return c.Logger
}
