package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	dockerbuild "github.com/docker/docker/api/types/build"
	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// LocalRef is the local tag an image build produces for a target.
func LocalRef(repository, target string) string {
	return fmt.Sprintf("%s:%s", repository, target)
}

func (b *Builder) buildImage(ctx context.Context, req Request, logger log.Logger) (types.Artifact, error) {
	if b.Engine == nil {
		return types.Artifact{}, buildErr(nil, "no docker engine configured")
	}
	engine, err := b.Engine.GetOrInit(ctx)
	if err != nil {
		return types.Artifact{}, buildErr(err, "connect to docker")
	}

	opts := req.Image
	if opts.Repository == "" {
		return types.Artifact{}, buildErr(nil, "image repository must be set")
	}
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	ref := LocalRef(opts.Repository, req.Target)

	ignore, err := loadIgnore(req.Source)
	if err != nil {
		return types.Artifact{}, buildErr(err, "read .dockerignore")
	}
	// Build output never belongs in the context.
	if rel := relStateDir(req); rel != "" {
		ignore.add(rel)
	}

	buildCtx, wait := tarContext(ctx, req.Source, ignore, dockerfile)
	defer buildCtx.Close()

	logger.Info("Building image", log.Str("image", ref), log.Str("dockerfile", dockerfile), log.Str("platform", opts.Platform))
	resp, err := engine.ImageBuild(ctx, buildCtx, dockerbuild.ImageBuildOptions{
		Dockerfile: dockerfile,
		Tags:       []string{ref},
		Target:     opts.BuildTarget,
		Platform:   opts.Platform,
		Remove:     true,
		Labels:     map[string]string{"lambdeploy.target": req.Target},
	})
	if err != nil {
		_ = buildCtx.Close()
		_ = wait()
		return types.Artifact{}, buildErr(err, "image build request")
	}
	defer resp.Body.Close()

	stream, streamErr := docker.ReadStream(resp.Body, b.Output)
	_ = buildCtx.Close()
	if err := wait(); err != nil && !errors.Is(err, io.ErrClosedPipe) && streamErr == nil {
		return types.Artifact{}, buildErr(err, "send build context")
	}
	if streamErr != nil {
		if ctx.Err() != nil {
			return types.Artifact{}, types.WrapError(types.KindTimeout, ctx.Err(), "image build")
		}
		return types.Artifact{}, buildErr(streamErr, "image build")
	}

	inspect, _, err := engine.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return types.Artifact{}, buildErr(err, "image %s not found after build", ref)
	}
	digest := inspect.ID
	if digest == "" {
		digest = stream.ImageID
	}

	return types.Artifact{
		Transport: types.TransportImage,
		ImageRef:  ref,
		Digest:    digest,
		SizeBytes: inspect.Size,
		BuiltAt:   time.Now().UTC(),
	}, nil
}

func relStateDir(req Request) string {
	dir := req.StateDir
	if dir == "" {
		dir = ".lambdeploy"
	}
	if filepath.IsAbs(dir) {
		return ""
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	if strings.HasPrefix(dir, "..") {
		return ""
	}
	return dir
}
