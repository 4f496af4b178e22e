package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rzbill/lambdeploy/internal/config"
	"github.com/rzbill/lambdeploy/pkg/build"
	"github.com/rzbill/lambdeploy/pkg/envfile"
	"github.com/rzbill/lambdeploy/pkg/history"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/publish"
	"github.com/rzbill/lambdeploy/pkg/types"
)

func (p *Pipeline) check(ctx context.Context, r *run) error {
	if p.Checker == nil {
		return nil
	}
	return p.Checker.Require(ctx)
}

func (p *Pipeline) load(ctx context.Context, r *run) error {
	path := p.envFile()
	cfg, err := envfile.Load(path, p.Config.Required...)
	if err != nil {
		return err
	}
	if p.Export != nil {
		if err := cfg.Export(p.Export); err != nil {
			return types.WrapError(types.KindConfigIncomplete, err, "export %s", path)
		}
	}
	r.config = cfg
	r.logger.Info("Environment loaded", log.Str("file", path), log.Int("keys", cfg.Len()))
	return nil
}

func (p *Pipeline) build(ctx context.Context, r *run) error {
	if p.Builder == nil {
		return types.NewError(types.KindBuildFailed, "no builder configured")
	}
	art, err := p.Builder.Build(ctx, BuildRequest(p.Config, p.Target, r.config))
	if err != nil {
		return err
	}
	r.artifact = art
	r.result.Artifact = art.Location()
	if p.History != nil {
		if err := p.History.SaveArtifact(ctx, p.Target.Name, art); err != nil {
			r.logger.Warn("Failed to remember artifact", log.Err(err))
		}
	}
	return nil
}

// publish uses the artifact built in this run, or the last recorded one
// when the run did not build.
func (p *Pipeline) publish(ctx context.Context, r *run) error {
	if p.Publisher == nil {
		return types.NewError(types.KindPublishFailed, "no publisher configured")
	}
	if r.artifact.Location() == "" {
		art, err := p.lastArtifact(ctx)
		if err != nil {
			return err
		}
		r.artifact = art
		r.result.Artifact = art.Location()
	}

	req := PublishRequest(p.Config, p.Target, r.artifact, r.config)
	res, err := p.Publisher.Publish(ctx, req)
	p.applyPublish(r, res)
	if err != nil {
		if types.IsKind(err, types.KindPartialPublish) {
			p.rememberPending(ctx, r, err)
		}
		return err
	}
	p.clearPending(ctx, r)
	return nil
}

// activate retries activation of the image left by a partial publish.
func (p *Pipeline) activate(ctx context.Context, r *run) error {
	if p.Publisher == nil {
		return types.NewError(types.KindPublishFailed, "no publisher configured")
	}
	if p.History == nil {
		return types.NewError(types.KindPublishFailed, "activation needs the run history")
	}
	pending, err := p.History.GetPending(ctx, p.Target.Name)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return types.NewError(types.KindPublishFailed, "no pending activation for target %s", p.Target.Name)
		}
		return types.WrapError(types.KindPublishFailed, err, "read pending activation")
	}
	r.logger.Info("Activating pushed image", log.Str("image", pending.ImageRef), log.Str("pushed_by", pending.RunID))

	art := types.Artifact{Transport: types.TransportImage, ImageRef: pending.ImageRef}
	r.result.Artifact = pending.ImageRef
	res, err := p.Publisher.Activate(ctx, PublishRequest(p.Config, p.Target, art, r.config), pending.ImageRef)
	p.applyPublish(r, res)
	if err != nil {
		if types.IsKind(err, types.KindPartialPublish) {
			p.rememberPending(ctx, r, err)
		}
		return err
	}
	p.clearPending(ctx, r)
	return nil
}

func (p *Pipeline) report(ctx context.Context, r *run) error {
	if p.Reporter == nil {
		return nil
	}
	status, err := p.Reporter.Report(ctx, p.Target, r.result.URL)
	if status.URL != "" {
		r.result.URL = status.URL
	}
	if status.FunctionARN != "" {
		r.result.FunctionARN = status.FunctionARN
	}
	if status.Version != "" && r.result.Version == "" {
		r.result.Version = status.Version
	}
	r.result.State = status.State
	r.result.LastModified = status.LastModified
	r.result.Health = status.Health
	r.result.Messages = append(r.result.Messages, status.Messages...)
	return err
}

func (p *Pipeline) applyPublish(r *run, res publish.Result) {
	if res.FunctionName != "" {
		r.result.FunctionName = res.FunctionName
	}
	r.result.FunctionARN = res.FunctionARN
	r.result.Version = res.Version
	r.result.URL = res.URL
	if res.ImageRef != "" {
		r.result.Artifact = res.ImageRef
	}
	if res.Created {
		r.result.AddMessage("created function %s", res.FunctionName)
	}
}

func (p *Pipeline) lastArtifact(ctx context.Context) (types.Artifact, error) {
	if p.History == nil {
		return types.Artifact{}, types.NewError(types.KindPublishFailed, "nothing built for target %s", p.Target.Name)
	}
	art, err := p.History.LastArtifact(ctx, p.Target.Name)
	if errors.Is(err, history.ErrNotFound) {
		return types.Artifact{}, types.NewError(types.KindPublishFailed, "nothing built for target %s; run build first", p.Target.Name)
	}
	if err != nil {
		return types.Artifact{}, types.WrapError(types.KindPublishFailed, err, "read last artifact")
	}
	if art.Transport == types.TransportBundle {
		if _, err := os.Stat(art.Path); err != nil {
			return types.Artifact{}, types.WrapError(types.KindPublishFailed, err, "bundle %s is gone; run build again", art.Path)
		}
	}
	return art, nil
}

func (p *Pipeline) rememberPending(ctx context.Context, r *run, err error) {
	var perr *types.Error
	if !errors.As(err, &perr) || perr.ImageRef == "" || p.History == nil {
		return
	}
	pending := history.Pending{
		Target:   p.Target.Name,
		RunID:    r.id,
		ImageRef: perr.ImageRef,
		Reason:   fmt.Sprint(perr.Cause),
		At:       p.now(),
	}
	if err := p.History.SetPending(context.WithoutCancel(ctx), pending); err != nil {
		r.logger.Warn("Failed to remember pending activation", log.Err(err))
	}
	r.result.AddMessage("image %s is pushed; retry with publish --activate-only", perr.ImageRef)
}

func (p *Pipeline) clearPending(ctx context.Context, r *run) {
	if p.History == nil || r.result.Artifact == "" {
		return
	}
	if r.artifact.Transport != types.TransportImage && r.mode != ModeActivate {
		return
	}
	if err := p.History.ClearPending(ctx, p.Target.Name); err != nil {
		r.logger.Debug("Failed to clear pending activation", log.Err(err))
	}
}

func (p *Pipeline) envFile() string {
	if p.EnvFile != "" {
		return p.EnvFile
	}
	return p.Config.EnvFileFor(p.Target.Name)
}

// BuildRequest maps the project configuration onto a build request.
func BuildRequest(cfg *config.Config, target types.DeploymentTarget, env *types.DeploymentConfig) build.Request {
	return build.Request{
		Target:    target.Name,
		Source:    cfg.Source,
		Transport: cfg.TransportKind(),
		StateDir:  cfg.StateDir,
		Env:       env.Map(),
		Bundle: build.BundleOptions{
			BuildCommand: cfg.Bundle.BuildCommand,
			OutputDir:    cfg.Bundle.OutputDir,
			Entry:        cfg.EntryFile(),
			Include:      cfg.Bundle.Include,
		},
		Image: build.ImageOptions{
			Dockerfile:  cfg.Image.Dockerfile,
			Repository:  cfg.Repository(),
			BuildTarget: cfg.Image.BuildTarget,
			Platform:    cfg.Image.Platform,
		},
	}
}

// PublishRequest maps the project configuration onto a publish request.
func PublishRequest(cfg *config.Config, target types.DeploymentTarget, art types.Artifact, env *types.DeploymentConfig) publish.Request {
	f := cfg.Function
	return publish.Request{
		Artifact: art,
		Target:   target,
		Config:   env,
		Function: publish.FunctionSpec{
			Runtime:          f.Runtime,
			Handler:          f.Handler,
			MemoryMB:         f.MemoryMB,
			TimeoutSec:       f.TimeoutSec,
			RoleARN:          f.RoleARN,
			Architecture:     f.Architecture,
			URL:              f.URL,
			LogRetentionDays: f.LogRetentionDays,
		},
		Repository: cfg.Repository(),
		Tag:        cfg.Image.Tag,
		Registry:   cfg.Image.Registry,
	}
}
