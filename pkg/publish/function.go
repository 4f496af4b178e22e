package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/types"
)

var errFunctionAbsent = errors.New("function does not exist")

// code is either a zip payload or an image URI.
type code struct {
	zip      []byte
	imageURI string
}

func (c code) packageType() lambdatypes.PackageType {
	if c.imageURI != "" {
		return lambdatypes.PackageTypeImage
	}
	return lambdatypes.PackageTypeZip
}

func (p *Publisher) getFunction(ctx context.Context, name string) (*lambdatypes.FunctionConfiguration, error) {
	var cfg *lambdatypes.FunctionConfiguration
	err := retry.Do(ctx, p.policy(ctx), "GetFunction", func(ctx context.Context) error {
		out, err := p.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
		if err != nil {
			if awsclient.IsNotFound(err) {
				return errFunctionAbsent
			}
			return err
		}
		cfg = out.Configuration
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// deployFunction creates the function or updates it in place, then waits for
// Lambda to report it settled.
func (p *Publisher) deployFunction(ctx context.Context, req Request, c code, logger log.Logger) (Result, error) {
	name := req.Target.FunctionName
	res := Result{FunctionName: name}

	existing, err := p.getFunction(ctx, name)
	if err != nil && !errors.Is(err, errFunctionAbsent) {
		return res, failure(StepFunction, err)
	}

	if existing == nil {
		role := req.Function.RoleARN
		if role == "" {
			if role, err = p.ensureRole(ctx, name, logger); err != nil {
				return res, failure(StepRole, err)
			}
		}
		logger.Info("Creating function", log.Str("package_type", string(c.packageType())))
		arn, err := p.createFunction(ctx, req, c, role)
		if err != nil {
			return res, failure(StepFunction, err)
		}
		if err := p.waitActive(ctx, name); err != nil {
			return res, failure(StepFunction, err)
		}
		res.FunctionARN = arn
		res.Created = true
		return res, nil
	}

	if existing.PackageType != "" && existing.PackageType != c.packageType() {
		return res, failure(StepFunction, fmt.Errorf("function %s has package type %s, artifact needs %s; remove it first",
			name, existing.PackageType, c.packageType()))
	}

	logger.Info("Updating function in place")
	if err := p.updateConfiguration(ctx, req, c); err != nil {
		return res, failure(StepFunction, err)
	}
	if err := p.waitUpdated(ctx, name); err != nil {
		return res, failure(StepFunction, err)
	}
	if err := p.updateCode(ctx, req, c); err != nil {
		return res, failure(StepFunction, err)
	}
	if err := p.waitUpdated(ctx, name); err != nil {
		return res, failure(StepFunction, err)
	}
	res.FunctionARN = aws.ToString(existing.FunctionArn)
	return res, nil
}

func environment(req Request) *lambdatypes.Environment {
	if req.Config == nil {
		return &lambdatypes.Environment{Variables: map[string]string{}}
	}
	return &lambdatypes.Environment{Variables: req.Config.Map()}
}

func architectures(arch string) []lambdatypes.Architecture {
	if arch == "" {
		return nil
	}
	return []lambdatypes.Architecture{lambdatypes.Architecture(arch)}
}

func (p *Publisher) createFunction(ctx context.Context, req Request, c code, role string) (string, error) {
	fn := req.Function
	in := &lambda.CreateFunctionInput{
		FunctionName:  aws.String(req.Target.FunctionName),
		Role:          aws.String(role),
		PackageType:   c.packageType(),
		MemorySize:    nonZero(fn.MemoryMB),
		Timeout:       nonZero(fn.TimeoutSec),
		Environment:   environment(req),
		Architectures: architectures(fn.Architecture),
	}
	if c.imageURI != "" {
		in.Code = &lambdatypes.FunctionCode{ImageUri: aws.String(c.imageURI)}
	} else {
		in.Code = &lambdatypes.FunctionCode{ZipFile: c.zip}
		in.Runtime = lambdatypes.Runtime(fn.Runtime)
		in.Handler = aws.String(fn.Handler)
	}

	var arn string
	pol := p.policy(ctx)
	pol.Retryable = func(err error) bool {
		return awsclient.IsRetryable(err) || rolePropagating(err)
	}
	err := retry.Do(ctx, pol, "CreateFunction", func(ctx context.Context) error {
		out, err := p.Lambda.CreateFunction(ctx, in)
		if err != nil {
			return err
		}
		arn = aws.ToString(out.FunctionArn)
		return nil
	})
	return arn, err
}

// rolePropagating matches the error Lambda returns while a new IAM role is
// not yet assumable.
func rolePropagating(err error) bool {
	return awsclient.IsErrorCode(err, "InvalidParameterValueException") &&
		strings.Contains(err.Error(), "cannot be assumed")
}

func (p *Publisher) updateConfiguration(ctx context.Context, req Request, c code) error {
	fn := req.Function
	in := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(req.Target.FunctionName),
		MemorySize:   nonZero(fn.MemoryMB),
		Timeout:      nonZero(fn.TimeoutSec),
		Environment:  environment(req),
	}
	if fn.RoleARN != "" {
		in.Role = aws.String(fn.RoleARN)
	}
	if c.imageURI == "" {
		in.Runtime = lambdatypes.Runtime(fn.Runtime)
		in.Handler = aws.String(fn.Handler)
	}
	return retry.Do(ctx, p.policy(ctx), "UpdateFunctionConfiguration", func(ctx context.Context) error {
		_, err := p.Lambda.UpdateFunctionConfiguration(ctx, in)
		return err
	})
}

func (p *Publisher) updateCode(ctx context.Context, req Request, c code) error {
	in := &lambda.UpdateFunctionCodeInput{
		FunctionName:  aws.String(req.Target.FunctionName),
		Architectures: architectures(req.Function.Architecture),
	}
	if c.imageURI != "" {
		in.ImageUri = aws.String(c.imageURI)
	} else {
		in.ZipFile = c.zip
	}
	return retry.Do(ctx, p.policy(ctx), "UpdateFunctionCode", func(ctx context.Context) error {
		_, err := p.Lambda.UpdateFunctionCode(ctx, in)
		return err
	})
}

func (p *Publisher) waitTimeout() time.Duration {
	if p.WaitTimeout > 0 {
		return p.WaitTimeout
	}
	return 5 * time.Minute
}

func (p *Publisher) waitDelay() time.Duration {
	if p.WaitDelay > 0 {
		return p.WaitDelay
	}
	return 2 * time.Second
}

func (p *Publisher) waitActive(ctx context.Context, name string) error {
	w := lambda.NewFunctionActiveWaiter(p.Lambda, func(o *lambda.FunctionActiveWaiterOptions) {
		o.MinDelay = p.waitDelay()
		o.MaxDelay = 4 * p.waitDelay()
	})
	in := &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)}
	if err := w.Wait(ctx, in, p.waitTimeout()); err != nil {
		return p.settleError(ctx, name, "become active", err)
	}
	return nil
}

func (p *Publisher) waitUpdated(ctx context.Context, name string) error {
	w := lambda.NewFunctionUpdatedWaiter(p.Lambda, func(o *lambda.FunctionUpdatedWaiterOptions) {
		o.MinDelay = p.waitDelay()
		o.MaxDelay = 4 * p.waitDelay()
	})
	in := &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)}
	if err := w.Wait(ctx, in, p.waitTimeout()); err != nil {
		return p.settleError(ctx, name, "finish updating", err)
	}
	return nil
}

// settleError adds Lambda's own failure reason to a waiter error.
func (p *Publisher) settleError(ctx context.Context, name, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	out, cerr := p.Lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)})
	if cerr == nil {
		reason := aws.ToString(out.LastUpdateStatusReason)
		if reason == "" {
			reason = aws.ToString(out.StateReason)
		}
		if reason != "" {
			return fmt.Errorf("function did not %s: %s: %w", what, reason, err)
		}
	}
	return fmt.Errorf("function did not %s: %w", what, err)
}

// moveAlias publishes a version and points the alias at it.
func (p *Publisher) moveAlias(ctx context.Context, alias string, res *Result, logger log.Logger) error {
	var version string
	err := retry.Do(ctx, p.policy(ctx), "PublishVersion", func(ctx context.Context) error {
		out, err := p.Lambda.PublishVersion(ctx, &lambda.PublishVersionInput{FunctionName: aws.String(res.FunctionName)})
		if err != nil {
			return err
		}
		version = aws.ToString(out.Version)
		return nil
	})
	if err != nil {
		return err
	}
	res.Version = version

	err = retry.Do(ctx, p.policy(ctx), "EnsureAlias", func(ctx context.Context) error {
		_, err := p.Lambda.GetAlias(ctx, &lambda.GetAliasInput{FunctionName: aws.String(res.FunctionName), Name: aws.String(alias)})
		if awsclient.IsNotFound(err) {
			_, err = p.Lambda.CreateAlias(ctx, &lambda.CreateAliasInput{
				FunctionName:    aws.String(res.FunctionName),
				Name:            aws.String(alias),
				FunctionVersion: aws.String(version),
			})
			return err
		}
		if err != nil {
			return err
		}
		_, err = p.Lambda.UpdateAlias(ctx, &lambda.UpdateAliasInput{
			FunctionName:    aws.String(res.FunctionName),
			Name:            aws.String(alias),
			FunctionVersion: aws.String(version),
		})
		return err
	})
	if err != nil {
		return err
	}
	logger.Info("Alias moved", log.Str("alias", alias), log.Str("version", version))
	return nil
}

// ensureURL returns the function's public URL, creating it if needed.
func (p *Publisher) ensureURL(ctx context.Context, fn, qualifier string) (string, error) {
	var url string
	err := retry.Do(ctx, p.policy(ctx), "EnsureFunctionUrl", func(ctx context.Context) error {
		out, err := p.Lambda.GetFunctionUrlConfig(ctx, &lambda.GetFunctionUrlConfigInput{
			FunctionName: aws.String(fn),
			Qualifier:    optional(qualifier),
		})
		if err == nil {
			url = aws.ToString(out.FunctionUrl)
			return nil
		}
		if !awsclient.IsNotFound(err) {
			return err
		}
		created, err := p.Lambda.CreateFunctionUrlConfig(ctx, &lambda.CreateFunctionUrlConfigInput{
			FunctionName: aws.String(fn),
			Qualifier:    optional(qualifier),
			AuthType:     lambdatypes.FunctionUrlAuthTypeNone,
		})
		if err != nil {
			return err
		}
		url = aws.ToString(created.FunctionUrl)
		return nil
	})
	if err != nil {
		return "", err
	}

	_, err = p.Lambda.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName:        aws.String(fn),
		Qualifier:           optional(qualifier),
		StatementId:         aws.String("FunctionURLAllowPublicAccess"),
		Action:              aws.String("lambda:InvokeFunctionUrl"),
		Principal:           aws.String("*"),
		FunctionUrlAuthType: lambdatypes.FunctionUrlAuthTypeNone,
	})
	if err != nil && !awsclient.IsErrorCode(err, "ResourceConflictException") {
		return "", err
	}
	return url, nil
}

func (p *Publisher) deleteURL(ctx context.Context, target types.DeploymentTarget) error {
	qualifiers := []string{""}
	if target.Alias != "" {
		qualifiers = append(qualifiers, target.Alias)
	}
	for _, q := range qualifiers {
		_, err := p.Lambda.DeleteFunctionUrlConfig(ctx, &lambda.DeleteFunctionUrlConfigInput{
			FunctionName: aws.String(target.FunctionName),
			Qualifier:    optional(q),
		})
		if err != nil && !awsclient.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func deleteFunction(ctx context.Context, api LambdaAPI, name string) error {
	_, err := api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil && !awsclient.IsNotFound(err) {
		return err
	}
	return nil
}

// ensureLogRetention creates /aws/lambda/<fn> and applies the retention.
func (p *Publisher) ensureLogRetention(ctx context.Context, fn string, days int32) error {
	if p.Logs == nil || days <= 0 {
		return nil
	}
	group := "/aws/lambda/" + fn
	_, err := p.Logs.CreateLogGroup(ctx, &cw.CreateLogGroupInput{LogGroupName: aws.String(group)})
	if err != nil && !awsclient.IsErrorCode(err, "ResourceAlreadyExistsException") {
		return err
	}
	return retry.Do(ctx, p.policy(ctx), "PutRetentionPolicy", func(ctx context.Context) error {
		_, err := p.Logs.PutRetentionPolicy(ctx, &cw.PutRetentionPolicyInput{
			LogGroupName:    aws.String(group),
			RetentionInDays: aws.Int32(days),
		})
		return err
	})
}

func nonZero(v int32) *int32 {
	if v == 0 {
		return nil
	}
	return aws.Int32(v)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
