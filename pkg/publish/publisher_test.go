package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rzbill/lambdeploy/pkg/awsclient/awsfake"
	"github.com/rzbill/lambdeploy/pkg/docker"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/registryauth"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	lambda *awsfake.Lambda
	ecr    *awsfake.ECR
	iam    *awsfake.IAM
	logs   *awsfake.Logs
	engine *docker.FakeEngine
	pub    *Publisher
}

func newFixture() *fixture {
	f := &fixture{
		lambda: awsfake.NewLambda(),
		ecr:    awsfake.NewECR(),
		iam:    awsfake.NewIAM(),
		logs:   awsfake.NewLogs(),
		engine: docker.NewFakeEngine(),
	}
	f.pub = &Publisher{
		Lambda:      f.lambda,
		ECR:         f.ecr,
		IAM:         f.iam,
		Logs:        f.logs,
		Engine:      lazy.Of[docker.Engine](f.engine),
		Auth:        registryauth.Chain{registryauth.NewECRProvider(f.ecr, "")},
		Retry:       retry.Policy{Attempts: 3, Backoff: time.Millisecond},
		Logger:      log.NewTestLogger(),
		WaitTimeout: time.Second,
		WaitDelay:   time.Millisecond,
	}
	return f
}

func target() types.DeploymentTarget {
	return types.DeploymentTarget{Name: "dev", FunctionName: "your-app-dev", Region: awsfake.Region}
}

func functionSpec() FunctionSpec {
	return FunctionSpec{Runtime: "nodejs20.x", Handler: "dist/main.handler", MemoryMB: 1024, TimeoutSec: 30, URL: true}
}

func bundleArtifact(t *testing.T) types.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 fake"), 0o644))
	return types.Artifact{Transport: types.TransportBundle, Path: path, Digest: "sha256:aa"}
}

func dbConfig() *types.DeploymentConfig {
	return types.NewDeploymentConfig([2]string{"DB_HOST", "db.internal"}, [2]string{"DB_PORT", "5432"})
}

func TestPublishBundleTwiceUpdatesInPlace(t *testing.T) {
	f := newFixture()
	req := Request{Artifact: bundleArtifact(t), Target: target(), Config: dbConfig(), Function: functionSpec()}

	first, err := f.pub.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.URL)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:your-app-dev", first.FunctionARN)

	second, err := f.pub.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.URL, second.URL)

	assert.Equal(t, []string{"your-app-dev"}, f.lambda.Names())
	assert.Equal(t, 1, f.lambda.CreateCount)
	assert.Equal(t, 1, f.lambda.CodeUpdateCount)

	fn := f.lambda.Functions["your-app-dev"]
	assert.Equal(t, "db.internal", fn.Config.Environment.Variables["DB_HOST"])
	assert.Equal(t, []string{"FunctionURLAllowPublicAccess"}, fn.Policies)
}

func TestPublishBundleCreatesExecutionRole(t *testing.T) {
	f := newFixture()
	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: functionSpec()})
	require.NoError(t, err)

	arn, ok := f.iam.Roles["your-app-dev-execution-role"]
	require.True(t, ok)
	assert.Equal(t, arn, *f.lambda.Functions["your-app-dev"].Config.Role)
	assert.Equal(t, []string{basicExecutionARN}, f.iam.Attached["your-app-dev-execution-role"])
}

func TestPublishBundleUsesConfiguredRole(t *testing.T) {
	f := newFixture()
	s := functionSpec()
	s.RoleARN = "arn:aws:iam::123456789012:role/existing"
	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: s})
	require.NoError(t, err)
	assert.Empty(t, f.iam.Roles)
}

func TestPublishAuthFailureIsNotRetried(t *testing.T) {
	f := newFixture()
	f.lambda.Errors["GetFunction"] = &smithy.GenericAPIError{Code: "UnrecognizedClientException", Message: "The security token included in the request is invalid."}

	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: functionSpec()})
	assert.True(t, types.IsKind(err, types.KindAuthenticationFailed))
	assert.Contains(t, err.Error(), "security token")
	assert.Equal(t, []string{"GetFunction"}, f.lambda.Calls)
}

func TestPublishRetriesUpdateInProgress(t *testing.T) {
	f := newFixture()
	f.lambda.Errors["CreateFunction"] = &smithy.GenericAPIError{Code: "ResourceConflictException", Message: "An update is in progress"}
	s := functionSpec()
	s.URL = false

	attempt := 0
	f.pub.Lambda = &createHook{Lambda: f.lambda, before: func() {
		attempt++
		if attempt == 2 {
			delete(f.lambda.Errors, "CreateFunction")
		}
	}}

	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: s})
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 1, f.lambda.CreateCount)
}

func TestPublishLeavesThrottlingToTheSDK(t *testing.T) {
	f := newFixture()
	f.lambda.Errors["CreateFunction"] = &smithy.GenericAPIError{Code: "TooManyRequestsException"}
	s := functionSpec()
	s.URL = false

	attempt := 0
	f.pub.Lambda = &createHook{Lambda: f.lambda, before: func() { attempt++ }}

	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: s})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindPublishFailed))
	assert.Equal(t, 1, attempt)
}

func TestPublishMissingBundle(t *testing.T) {
	f := newFixture()
	art := types.Artifact{Transport: types.TransportBundle, Path: filepath.Join(t.TempDir(), "missing.zip")}
	_, err := f.pub.Publish(context.Background(), Request{Artifact: art, Target: target(), Function: functionSpec()})
	assert.True(t, types.IsKind(err, types.KindPublishFailed))
}

func TestPublishMovesAlias(t *testing.T) {
	f := newFixture()
	tgt := target()
	tgt.Alias = "live"
	req := Request{Artifact: bundleArtifact(t), Target: tgt, Function: functionSpec()}

	res, err := f.pub.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "1", res.Version)

	res, err = f.pub.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Version)

	fn := f.lambda.Functions["your-app-dev"]
	assert.Equal(t, "2", fn.Aliases["live"])
	assert.Contains(t, fn.URLs, "live")
}

func TestPublishAppliesLogRetention(t *testing.T) {
	f := newFixture()
	s := functionSpec()
	s.LogRetentionDays = 14
	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: s})
	require.NoError(t, err)
	assert.Equal(t, int32(14), f.logs.Groups["/aws/lambda/your-app-dev"])
}

func imageRequest() Request {
	return Request{
		Artifact:   types.Artifact{Transport: types.TransportImage, ImageRef: "your-app:dev", Digest: "sha256:0123456789abcdef"},
		Target:     target(),
		Config:     dbConfig(),
		Function:   functionSpec(),
		Repository: "your-app",
	}
}

func TestPublishImage(t *testing.T) {
	f := newFixture()
	f.engine.Images["your-app:dev"] = "sha256:0123456789abcdef"

	res, err := f.pub.Publish(context.Background(), imageRequest())
	require.NoError(t, err)

	want := awsfake.Registry + "/your-app:dev-0123456789ab"
	assert.Equal(t, want, res.ImageRef)
	assert.Equal(t, []string{want}, f.engine.Pushed)
	assert.Equal(t, 1, f.ecr.CreateCount)

	fn := f.lambda.Functions["your-app-dev"]
	assert.Equal(t, want, fn.ImageURI)
	assert.EqualValues(t, "Image", fn.Config.PackageType)
	assert.Nil(t, fn.Config.Handler)

	raw, err := base64.StdEncoding.DecodeString(f.engine.PushAuth[0])
	require.NoError(t, err)
	var auth map[string]string
	require.NoError(t, json.Unmarshal(raw, &auth))
	assert.Equal(t, "AWS", auth["username"])
	assert.Equal(t, awsfake.Registry, auth["serveraddress"])
}

func TestPublishImagePushOKActivationFails(t *testing.T) {
	f := newFixture()
	f.engine.Images["your-app:dev"] = "sha256:0123456789abcdef"
	f.lambda.Errors["CreateFunction"] = errors.New("InvalidParameterValueException: image manifest not supported")

	_, err := f.pub.Publish(context.Background(), imageRequest())
	require.Error(t, err)

	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, types.KindPartialPublish, e.Kind)
	assert.Equal(t, StepActivate, e.Step)
	assert.Equal(t, awsfake.Registry+"/your-app:dev-0123456789ab", e.ImageRef)
	assert.Contains(t, err.Error(), "image manifest not supported")

	// The pushed image stays where it is.
	assert.Len(t, f.engine.Pushed, 1)
	assert.Contains(t, f.ecr.Repositories, "your-app")

	// Retrying only the activation succeeds without another push.
	delete(f.lambda.Errors, "CreateFunction")
	res, err := f.pub.Activate(context.Background(), imageRequest(), e.ImageRef)
	require.NoError(t, err)
	assert.Equal(t, e.ImageRef, res.ImageRef)
	assert.Len(t, f.engine.Pushed, 1)
}

func TestPublishImagePushRejected(t *testing.T) {
	f := newFixture()
	f.engine.Images["your-app:dev"] = "sha256:0123456789abcdef"
	f.engine.PushStream = `{"errorDetail":{"message":"denied: Your authorization token has expired."},"error":"denied: Your authorization token has expired."}`

	_, err := f.pub.Publish(context.Background(), imageRequest())
	assert.True(t, types.IsKind(err, types.KindAuthenticationFailed))
	assert.Empty(t, f.lambda.Functions)
}

func TestPublishImageRegistryAuthFailure(t *testing.T) {
	f := newFixture()
	f.pub.Auth = registryauth.Chain{}
	f.engine.Images["your-app:dev"] = "sha256:0123456789abcdef"

	_, err := f.pub.Publish(context.Background(), imageRequest())
	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, types.KindAuthenticationFailed, e.Kind)
	assert.Equal(t, StepAuth, e.Step)
}

func TestPublishPackageTypeMismatch(t *testing.T) {
	f := newFixture()
	f.engine.Images["your-app:dev"] = "sha256:0123456789abcdef"
	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: functionSpec()})
	require.NoError(t, err)

	_, err = f.pub.Publish(context.Background(), imageRequest())
	assert.True(t, types.IsKind(err, types.KindPartialPublish))
	assert.Contains(t, err.Error(), "package type")
}

func TestRemove(t *testing.T) {
	f := newFixture()
	_, err := f.pub.Publish(context.Background(), Request{Artifact: bundleArtifact(t), Target: target(), Function: functionSpec()})
	require.NoError(t, err)

	removed, err := f.pub.Remove(context.Background(), target())
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.lambda.Names())

	removed, err = f.pub.Remove(context.Background(), target())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestImageTag(t *testing.T) {
	assert.Equal(t, "v1", ImageTag("v1", "dev", "sha256:abc"))
	assert.Equal(t, "dev-0123456789ab", ImageTag("", "dev", "sha256:0123456789abcdef"))
	assert.Equal(t, "dev", ImageTag("", "dev", ""))
}
