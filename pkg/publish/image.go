package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/docker/docker/api/types/image"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/registryauth"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// ImageTag picks the remote tag: the configured one, or the target name
// plus the first 12 hex digits of the image ID.
func ImageTag(configured, target, digest string) string {
	if configured != "" {
		return configured
	}
	hex := strings.TrimPrefix(digest, "sha256:")
	if len(hex) > 12 {
		hex = hex[:12]
	}
	if hex == "" {
		return target
	}
	return target + "-" + hex
}

func (p *Publisher) publishImage(ctx context.Context, req Request, logger log.Logger) (Result, error) {
	if p.Engine == nil || p.ECR == nil || p.Auth == nil {
		return Result{}, types.NewError(types.KindPublishFailed, "image publishing needs docker, ecr and registry credentials")
	}

	repoURI, err := p.ensureRepository(ctx, req.Repository, logger)
	if err != nil {
		return Result{}, failure(StepRepository, err)
	}
	if req.Registry != "" {
		_, path, _ := strings.Cut(repoURI, "/")
		repoURI = strings.TrimSuffix(req.Registry, "/") + "/" + path
	}
	remote := repoURI + ":" + ImageTag(req.Tag, req.Target.Name, req.Artifact.Digest)
	host := registryauth.Host(remote)

	creds, err := p.Auth.Resolve(ctx, host)
	if err != nil {
		return Result{}, failure(StepAuth, err)
	}

	if err := p.push(ctx, req.Artifact.ImageRef, remote, creds.Encode(), logger); err != nil {
		return Result{}, failure(StepPush, err)
	}
	logger.Info("Image pushed", log.Str("image", remote))

	return p.Activate(ctx, req, remote)
}

// Activate points the function at an already pushed image. A failure here
// leaves the image in the registry and is reported as PartialPublish with
// the image reference, so activation can be retried alone.
func (p *Publisher) Activate(ctx context.Context, req Request, imageRef string) (Result, error) {
	logger := p.logger(ctx).With(
		log.Str(log.TargetKey, req.Target.Name),
		log.Str("function", req.Target.FunctionName),
		log.Str("image", imageRef))

	res, err := p.deployFunction(ctx, req, code{imageURI: imageRef}, logger)
	if err == nil {
		err = p.finish(ctx, req, &res, logger)
	}
	res.ImageRef = imageRef
	if err != nil {
		return res, partial(imageRef, err)
	}
	return res, nil
}

func partial(imageRef string, err error) error {
	return &types.Error{
		Kind:     types.KindPartialPublish,
		Step:     StepActivate,
		Message:  fmt.Sprintf("image %s was pushed but the function was not updated", imageRef),
		Cause:    err,
		ImageRef: imageRef,
	}
}

// ensureRepository returns the repository URI, creating the repository when
// it does not exist.
func (p *Publisher) ensureRepository(ctx context.Context, name string, logger log.Logger) (string, error) {
	if name == "" {
		return "", fmt.Errorf("image repository name is empty")
	}
	var uri string
	err := retry.Do(ctx, p.policy(ctx), "DescribeRepositories", func(ctx context.Context) error {
		out, err := p.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{name}})
		if err != nil {
			return err
		}
		if len(out.Repositories) > 0 {
			uri = aws.ToString(out.Repositories[0].RepositoryUri)
		}
		return nil
	})
	if err == nil && uri != "" {
		return uri, nil
	}
	if err != nil && !awsclient.IsNotFound(err) {
		return "", err
	}

	logger.Info("Creating image repository", log.Str("repository", name))
	err = retry.Do(ctx, p.policy(ctx), "CreateRepository", func(ctx context.Context) error {
		out, err := p.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{
			RepositoryName:             aws.String(name),
			ImageTagMutability:         ecrtypes.ImageTagMutabilityMutable,
			ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{ScanOnPush: true},
		})
		if err != nil {
			return err
		}
		uri = aws.ToString(out.Repository.RepositoryUri)
		return nil
	})
	return uri, err
}

func (p *Publisher) push(ctx context.Context, local, remote, auth string, logger log.Logger) error {
	engine, err := p.Engine.GetOrInit(ctx)
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	if err := engine.ImageTag(ctx, local, remote); err != nil {
		return fmt.Errorf("tag %s as %s: %w", local, remote, err)
	}

	pol := p.policy(ctx)
	pol.Retryable = func(err error) bool { return !types.IsKind(err, types.KindAuthenticationFailed) }
	return retry.Do(ctx, pol, "ImagePush", func(ctx context.Context) error {
		rc, err := engine.ImagePush(ctx, remote, image.PushOptions{RegistryAuth: auth})
		if err != nil {
			return pushError(err)
		}
		defer rc.Close()
		stream, err := docker.ReadStream(rc, p.Output)
		if err != nil {
			return pushError(err)
		}
		logger.Debug("Push stream finished", log.Str("digest", stream.Digest))
		return nil
	})
}

// pushError flags registry rejections so they are not retried.
func pushError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"denied", "unauthorized", "authentication required", "no basic auth credentials", "401"} {
		if strings.Contains(msg, marker) {
			return types.WrapError(types.KindAuthenticationFailed, err, "registry rejected the push")
		}
	}
	return err
}
