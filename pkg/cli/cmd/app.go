package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rzbill/lambdeploy/internal/config"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/build"
	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/envfile"
	"github.com/rzbill/lambdeploy/pkg/history"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/pipeline"
	"github.com/rzbill/lambdeploy/pkg/preflight"
	"github.com/rzbill/lambdeploy/pkg/publish"
	"github.com/rzbill/lambdeploy/pkg/registryauth"
	"github.com/rzbill/lambdeploy/pkg/report"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/rzbill/lambdeploy/pkg/utils"
)

// app is what one command invocation needs. AWS and Docker clients are
// built on first use, so commands that fail early never touch the network.
type app struct {
	opts   *globalOptions
	cfg    *config.Config
	target types.DeploymentTarget
	logger log.Logger

	aws    *lazy.Value[*awsclient.Clients]
	engine *lazy.Value[docker.Engine]
	store  *history.Lazy
}

func newApp(g *globalOptions) (*app, error) {
	if g.configFile != "" {
		if _, err := os.Stat(g.configFile); errors.Is(err, fs.ErrNotExist) {
			return nil, types.WrapError(types.KindConfigNotFound, err, "config file %s not found", g.configFile)
		}
	}
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, types.WrapError(types.KindConfigIncomplete, err, "invalid configuration")
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := log.ApplyConfig(&cfg.Log, g.stderr)
	if err != nil {
		return nil, types.WrapError(types.KindConfigIncomplete, err, "invalid log configuration")
	}
	log.SetDefaultLogger(logger)

	target, err := cfg.ResolveTarget(g.target)
	if err != nil {
		return nil, types.WrapError(types.KindConfigIncomplete, err, "invalid target")
	}
	if err := utils.ValidateFunctionName(target.FunctionName); err != nil {
		return nil, types.WrapError(types.KindConfigIncomplete, err, "target %s", target.Name)
	}

	a := &app{
		opts:   g,
		cfg:    cfg,
		target: target,
		logger: logger,
		aws:    awsclient.Lazy(target.Region),
		engine: docker.Lazy(docker.DefaultConfig(), logger),
	}
	a.store = history.NewLazy(func() (history.Store, error) {
		return history.OpenBadger(a.historyDir(), logger)
	})
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close history", log.Err(err))
	}
}

func (a *app) stateDir() string {
	if filepath.IsAbs(a.cfg.StateDir) {
		return a.cfg.StateDir
	}
	return filepath.Join(a.cfg.Source, a.cfg.StateDir)
}

func (a *app) envFile() string {
	path := a.cfg.EnvFileFor(a.target.Name)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.cfg.Source, path)
}

// historyDir is where the run history lives. The store is opened on first
// use; if another lambdeploy holds it, the run goes unrecorded.
func (a *app) historyDir() string {
	return filepath.Join(a.stateDir(), "history")
}

func (a *app) clients(ctx context.Context) (*awsclient.Clients, error) {
	c, err := a.aws.GetOrInit(ctx)
	if err != nil {
		return nil, types.WrapError(types.KindPrerequisiteMissing, err, "aws configuration")
	}
	return c, nil
}

func (a *app) tools() []types.Tool {
	tools := a.cfg.TransportKind().Capabilities().RequiredTools
	if a.cfg.TransportKind() != types.TransportBundle || len(a.cfg.Bundle.BuildCommand) == 0 {
		return tools
	}
	name := a.cfg.Bundle.BuildCommand[0]
	for _, t := range tools {
		if t.Name == name {
			return tools
		}
	}
	return append(tools, types.Tool{Name: name})
}

// checker probes what the transport needs. withTools is false for commands
// that never build.
func (a *app) checker(withTools, withEnv bool) *preflight.Checker {
	c := &preflight.Checker{Runner: runner.NewExec(a.logger)}
	if withTools {
		c.Tools = a.tools()
	}
	if withEnv {
		c.Probes = append(c.Probes, preflight.EnvFileProbe{Path: a.envFile()})
	}
	c.Probes = append(c.Probes, &preflight.CredentialProbe{Identity: func(ctx context.Context) (awsclient.Identity, error) {
		clients, err := a.clients(ctx)
		if err != nil {
			return awsclient.Identity{}, err
		}
		return awsclient.CallerIdentity(ctx, clients.STS)
	}})
	if withTools && a.cfg.TransportKind().Capabilities().NeedsDockerDaemon {
		c.Probes = append(c.Probes, preflight.DockerDaemonProbe{Ping: func(ctx context.Context) error {
			return docker.Ping(ctx, a.engine)
		}})
	}
	return c
}

func (a *app) registryAuth(c *awsclient.Clients) registryauth.Chain {
	chain := registryauth.Chain{registryauth.NewECRProvider(c.ECR, "")}
	if dc, err := registryauth.LoadDockerConfig(); err == nil {
		chain = append(chain, dc)
	} else {
		a.logger.Debug("No docker config credentials", log.Err(err))
	}
	return chain
}

func (a *app) publisher(c *awsclient.Clients) *publish.Publisher {
	return &publish.Publisher{
		Lambda: c.Lambda,
		ECR:    c.ECR,
		IAM:    c.IAM,
		Logs:   c.CWLogs,
		Engine: a.engine,
		Auth:   a.registryAuth(c),
		Retry: retry.Policy{
			Attempts:  a.cfg.Retry.Attempts,
			Backoff:   a.cfg.Retry.Backoff,
			Retryable: awsclient.IsRetryable,
		},
		Output:      a.opts.stderr,
		WaitTimeout: a.cfg.Timeouts.Publish,
	}
}

func (a *app) reporter(c *awsclient.Clients) *report.Reporter {
	return &report.Reporter{
		Lambda:     c.Lambda,
		HTTPAPIs:   c.APIGWv2,
		RESTAPIs:   c.APIGW,
		HealthPath: a.cfg.HealthPath,
	}
}

// lazyPublisher defers client construction until the publishing stage.
type lazyPublisher struct {
	a *app
}

func (l lazyPublisher) get(ctx context.Context) (*publish.Publisher, error) {
	c, err := l.a.clients(ctx)
	if err != nil {
		return nil, err
	}
	return l.a.publisher(c), nil
}

func (l lazyPublisher) Publish(ctx context.Context, req publish.Request) (publish.Result, error) {
	p, err := l.get(ctx)
	if err != nil {
		return publish.Result{}, err
	}
	return p.Publish(ctx, req)
}

func (l lazyPublisher) Activate(ctx context.Context, req publish.Request, imageRef string) (publish.Result, error) {
	p, err := l.get(ctx)
	if err != nil {
		return publish.Result{}, err
	}
	return p.Activate(ctx, req, imageRef)
}

func (l lazyPublisher) Remove(ctx context.Context, target types.DeploymentTarget) (bool, error) {
	p, err := l.get(ctx)
	if err != nil {
		return false, err
	}
	return p.Remove(ctx, target)
}

type lazyReporter struct {
	a *app
}

func (l lazyReporter) Report(ctx context.Context, target types.DeploymentTarget, knownURL string) (types.DeploymentResult, error) {
	c, err := l.a.clients(ctx)
	if err != nil {
		return types.DeploymentResult{Target: target.Name, FunctionName: target.FunctionName, Health: types.HealthUnknown},
			types.WrapError(types.KindStatusUnknown, err, "aws configuration")
	}
	return l.a.reporter(c).Report(ctx, target, knownURL)
}

// pipeline wires a run for the current target.
func (a *app) pipeline(withTools, withEnv bool) *pipeline.Pipeline {
	p := &pipeline.Pipeline{
		Config:  a.cfg,
		Target:  a.target,
		Checker: a.checker(withTools, withEnv),
		Builder: &build.Builder{
			Runner: runner.NewExec(a.logger),
			Engine: a.engine,
			Output: a.opts.stderr,
		},
		Publisher: lazyPublisher{a: a},
		Reporter:  lazyReporter{a: a},
		EnvFile:   a.envFile(),
		Export:    envfile.Setenv,
		Logger:    a.logger.WithComponent("pipeline"),
	}
	p.History = a.store
	p.Observe(progress(a.opts.stderr))
	return p
}
