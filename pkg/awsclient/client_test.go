package awsclient

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestCallerIdentity(t *testing.T) {
	id, err := CallerIdentity(context.Background(), &fakeSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:user/deployer"),
		UserId:  aws.String("AIDA"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "arn:aws:iam::123456789012:user/deployer", id.ARN)

	_, err = CallerIdentity(context.Background(), &fakeSTS{err: errors.New("boom")})
	assert.ErrorContains(t, err, "getting caller identity")
}

func TestErrorClassification(t *testing.T) {
	notFound := fmt.Errorf("get function: %w", &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "Function not found"})
	denied := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}
	throttled := &smithy.GenericAPIError{Code: "TooManyRequestsException"}

	assert.True(t, IsNotFound(notFound))
	assert.Equal(t, "ResourceNotFoundException", ErrorCode(notFound))
	assert.False(t, IsNotFound(denied))

	assert.True(t, IsAuthError(denied))
	assert.False(t, IsAuthError(notFound))
	assert.True(t, IsAuthError(errors.New("operation error STS: GetCallerIdentity, failed to retrieve credentials")))

	conflict := &smithy.GenericAPIError{Code: "ResourceConflictException", Message: "An update is in progress"}
	assert.True(t, IsRetryable(conflict))
	assert.False(t, IsRetryable(throttled))
	assert.False(t, IsRetryable(denied))
	assert.False(t, IsRetryable(notFound))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsErrorCode(throttled, "TooManyRequestsException"))
	assert.False(t, IsErrorCode(nil, "TooManyRequestsException"))
}

func TestLazyDoesNotLoadUntilAsked(t *testing.T) {
	v := Lazy("us-east-1")
	assert.False(t, v.Initialized())
}
