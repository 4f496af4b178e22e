// Package build turns a project directory into a deployable artifact: a zip
// bundle for code deployments or a container image.
package build

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// BundleOptions configures the zip bundle transport.
type BundleOptions struct {
	// BuildCommand runs in the source directory; empty skips the build step.
	BuildCommand []string
	OutputDir    string
	// Entry must exist after the build command ran.
	Entry   string
	Include []string
}

// ImageOptions configures the container image transport.
type ImageOptions struct {
	Dockerfile  string
	Repository  string
	BuildTarget string
	Platform    string
}

// Request describes one build.
type Request struct {
	// Target names the artifact, e.g. "dev" gives dev.zip.
	Target    string
	Source    string
	Transport types.Transport
	// StateDir holds build output; relative paths are resolved against Source.
	StateDir string
	// Env is passed to the build command.
	Env    map[string]string
	Bundle BundleOptions
	Image  ImageOptions
}

// Builder produces artifacts. One Build call yields one Artifact.
type Builder struct {
	Runner runner.Runner
	Engine *lazy.Value[docker.Engine]
	Logger log.Logger
	// Output receives build command and daemon output; nil discards it.
	Output io.Writer
}

// Build dispatches on the request's transport.
func (b *Builder) Build(ctx context.Context, req Request) (types.Artifact, error) {
	if req.Source == "" {
		req.Source = "."
	}
	if req.Target == "" {
		return types.Artifact{}, types.NewError(types.KindBuildFailed, "build target must be named")
	}

	logger := b.logger(ctx).With(log.Str(log.TargetKey, req.Target), log.Str("transport", string(req.Transport)))
	logger.Info("Building artifact", log.Str("source", req.Source))

	var (
		art types.Artifact
		err error
	)
	switch req.Transport {
	case types.TransportBundle:
		art, err = b.buildBundle(ctx, req, logger)
	case types.TransportImage:
		art, err = b.buildImage(ctx, req, logger)
	default:
		return types.Artifact{}, types.NewError(types.KindBuildFailed, "unknown transport %q", req.Transport)
	}
	if err != nil {
		return types.Artifact{}, err
	}
	logger.Info("Artifact ready", log.Str("artifact", art.Location()), log.Str("digest", art.Digest))
	return art, nil
}

func (req Request) buildDir() string {
	dir := req.StateDir
	if dir == "" {
		dir = ".lambdeploy"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(req.Source, dir)
	}
	return filepath.Join(dir, "build")
}

func (b *Builder) logger(ctx context.Context) log.Logger {
	if b.Logger == nil {
		return log.FromContext(ctx).WithComponent("build")
	}
	return b.Logger
}

func (b *Builder) runner() runner.Runner {
	if b.Runner == nil {
		b.Runner = runner.NewExec(b.Logger)
	}
	return b.Runner
}

func buildErr(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return types.NewError(types.KindBuildFailed, format, args...)
	}
	return types.WrapError(types.KindBuildFailed, cause, "%s", fmt.Sprintf(format, args...))
}
