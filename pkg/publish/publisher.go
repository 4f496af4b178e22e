// Package publish delivers a built artifact to its Lambda function: a direct
// code upload for bundles, or a registry push followed by a function image
// update for container images.
package publish

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// Publish sub-steps, reported in errors and logs.
const (
	StepRole       = "role"
	StepFunction   = "function"
	StepRepository = "repository"
	StepAuth       = "auth"
	StepPush       = "push"
	StepActivate   = "activate"
	StepAlias      = "alias"
	StepURL        = "url"
	StepLogs       = "logs"
)

// FunctionSpec is the desired function configuration.
type FunctionSpec struct {
	Runtime      string
	Handler      string
	MemoryMB     int32
	TimeoutSec   int32
	RoleARN      string
	Architecture string
	// URL ensures a public Function URL.
	URL              bool
	LogRetentionDays int32
}

// Request is one publish of one artifact to one target.
type Request struct {
	Artifact types.Artifact
	Target   types.DeploymentTarget
	// Config becomes the function's environment variables.
	Config   *types.DeploymentConfig
	Function FunctionSpec

	// Image transport only.
	Repository string
	Tag        string
	// Registry replaces the host of the ECR repository URI.
	Registry string
}

// Result describes what was published.
type Result struct {
	FunctionName string
	FunctionARN  string
	Version      string
	// ImageRef is the pushed image for image artifacts.
	ImageRef string
	URL      string
	Created  bool
}

// Publisher talks to Lambda and, for images, the registry and Docker Engine.
type Publisher struct {
	Lambda LambdaAPI
	ECR    RepositoryAPI
	IAM    RoleAPI
	Logs   LogsAPI
	Engine *lazy.Value[docker.Engine]
	Auth   CredentialResolver

	Retry  retry.Policy
	Logger log.Logger
	// Output receives the push progress; nil discards it.
	Output io.Writer
	// WaitTimeout bounds each wait for the function to settle.
	WaitTimeout time.Duration
	// WaitDelay is the minimum poll interval while waiting.
	WaitDelay time.Duration
}

// Publish delivers req.Artifact. Publishing the same artifact to the same
// target again updates the function in place.
func (p *Publisher) Publish(ctx context.Context, req Request) (Result, error) {
	logger := p.logger(ctx).With(
		log.Str(log.TargetKey, req.Target.Name),
		log.Str("function", req.Target.FunctionName))

	switch req.Artifact.Transport {
	case types.TransportBundle:
		return p.publishBundle(ctx, req, logger)
	case types.TransportImage:
		return p.publishImage(ctx, req, logger)
	default:
		return Result{}, types.NewError(types.KindPublishFailed, "unknown artifact transport %q", req.Artifact.Transport)
	}
}

// Remove deletes the target's function and its URL configuration. A function
// that does not exist is not an error. Registry images are never deleted.
func (p *Publisher) Remove(ctx context.Context, target types.DeploymentTarget) (bool, error) {
	logger := p.logger(ctx).With(log.Str(log.TargetKey, target.Name), log.Str("function", target.FunctionName))

	if _, err := p.getFunction(ctx, target.FunctionName); err != nil {
		if errors.Is(err, errFunctionAbsent) {
			logger.Info("Function does not exist, nothing to remove")
			return false, nil
		}
		return false, failure(StepFunction, err)
	}

	if err := p.deleteURL(ctx, target); err != nil {
		return false, failure(StepURL, err)
	}
	err := retry.Do(ctx, p.policy(ctx), "DeleteFunction", func(ctx context.Context) error {
		return deleteFunction(ctx, p.Lambda, target.FunctionName)
	})
	if err != nil {
		return false, failure(StepFunction, err)
	}
	logger.Info("Function removed")
	return true, nil
}

func (p *Publisher) policy(ctx context.Context) retry.Policy {
	pol := p.Retry
	if pol.Attempts < 1 {
		pol.Attempts = 3
	}
	if pol.Backoff <= 0 {
		pol.Backoff = 500 * time.Millisecond
	}
	if pol.Retryable == nil {
		pol.Retryable = awsclient.IsRetryable
	}
	if pol.Logger == nil {
		pol.Logger = p.logger(ctx)
	}
	return pol
}

func (p *Publisher) logger(ctx context.Context) log.Logger {
	if p.Logger == nil {
		return log.FromContext(ctx).WithComponent("publish")
	}
	return p.Logger
}

// failure classifies a sub-step error. Credential and permission rejections
// become AuthenticationFailed; deadlines become Timeout.
func failure(step string, err error) error {
	if err == nil {
		return nil
	}
	var e *types.Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Step == "" {
			cp.Step = step
		}
		return &cp
	}
	kind := types.KindPublishFailed
	if awsclient.IsAuthError(err) {
		kind = types.KindAuthenticationFailed
	}
	wrapped := types.WrapError(kind, err, "%s failed", step)
	wrapped.Step = step
	return wrapped
}
