package publish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/types"
)

const (
	lambdaTrustPolicy   = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com"},"Action":"sts:AssumeRole"}]}`
	basicExecutionARN   = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
	executionRoleSuffix = "-execution-role"
)

// ExecutionRoleName is the role created for a function without role_arn.
func ExecutionRoleName(function string) string {
	return function + executionRoleSuffix
}

// ensureRole returns the ARN of the function's execution role, creating it
// with the basic execution policy when absent.
func (p *Publisher) ensureRole(ctx context.Context, function string, logger log.Logger) (string, error) {
	if p.IAM == nil {
		return "", types.NewError(types.KindPublishFailed, "function.role_arn is not set and no IAM client is available")
	}
	name := ExecutionRoleName(function)

	var arn string
	err := retry.Do(ctx, p.policy(ctx), "GetRole", func(ctx context.Context) error {
		out, err := p.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		if err != nil {
			return err
		}
		arn = aws.ToString(out.Role.Arn)
		return nil
	})
	if err == nil {
		return arn, nil
	}
	if !awsclient.IsNotFound(err) {
		return "", err
	}

	logger.Info("Creating execution role", log.Str("role", name))
	out, err := p.IAM.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(lambdaTrustPolicy),
		Description:              aws.String("Execution role for " + function),
	})
	if err != nil {
		if !awsclient.IsErrorCode(err, "EntityAlreadyExists") {
			return "", err
		}
		got, gerr := p.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		if gerr != nil {
			return "", gerr
		}
		arn = aws.ToString(got.Role.Arn)
	} else {
		arn = aws.ToString(out.Role.Arn)
	}

	_, err = p.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(basicExecutionARN),
	})
	if err != nil {
		return "", err
	}
	return arn, nil
}
