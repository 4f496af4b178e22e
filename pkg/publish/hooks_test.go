package publish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rzbill/lambdeploy/pkg/awsclient/awsfake"
)

// createHook runs before on every CreateFunction call.
type createHook struct {
	*awsfake.Lambda
	before func()
}

func (h *createHook) CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	h.before()
	return h.Lambda.CreateFunction(ctx, in, optFns...)
}
