package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rzbill/lambdeploy/internal/config"
	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/awsclient/awsfake"
	"github.com/rzbill/lambdeploy/pkg/build"
	"github.com/rzbill/lambdeploy/pkg/history"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/preflight"
	"github.com/rzbill/lambdeploy/pkg/publish"
	"github.com/rzbill/lambdeploy/pkg/report"
	"github.com/rzbill/lambdeploy/pkg/retry"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const guideEnv = "DB_HOST=db.example.com\nDB_USERNAME=u\nDB_PASSWORD=p\nDB_NAME=d\n"

var dbKeys = []string{"DB_HOST", "DB_USERNAME", "DB_PASSWORD", "DB_NAME"}

// recordingBuilder fails the test if a build happens when it should not.
type recordingBuilder struct {
	calls int
	art   types.Artifact
	err   error
}

func (b *recordingBuilder) Build(ctx context.Context, req build.Request) (types.Artifact, error) {
	b.calls++
	return b.art, b.err
}

type stubPublisher struct {
	publishCalls  int
	activateCalls int
	res           publish.Result
	err           error
	activated     string
}

func (s *stubPublisher) Publish(ctx context.Context, req publish.Request) (publish.Result, error) {
	s.publishCalls++
	return s.res, s.err
}

func (s *stubPublisher) Activate(ctx context.Context, req publish.Request, imageRef string) (publish.Result, error) {
	s.activateCalls++
	s.activated = imageRef
	return s.res, s.err
}

func (s *stubPublisher) Remove(ctx context.Context, target types.DeploymentTarget) (bool, error) {
	return true, s.err
}

type stubReporter struct {
	res types.DeploymentResult
	err error
}

func (s *stubReporter) Report(ctx context.Context, target types.DeploymentTarget, knownURL string) (types.DeploymentResult, error) {
	res := s.res
	if res.URL == "" {
		res.URL = knownURL
	}
	return res, s.err
}

// hostRouter sends every request to srv, whatever host it names.
type hostRouter struct{ srv *httptest.Server }

func (h hostRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	u, _ := url.Parse(h.srv.URL)
	out := req.Clone(req.Context())
	out.URL.Scheme = u.Scheme
	out.URL.Host = u.Host
	out.Host = u.Host
	return http.DefaultTransport.RoundTrip(out)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func project(t *testing.T, env string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dist", "main.js"), "exports.handler = async () => ({statusCode: 200})\n")
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"your-app"}`)
	envPath := filepath.Join(dir, ".env")
	if env != "" {
		writeFile(t, envPath, env)
	}

	cfg := config.Default()
	cfg.Source = dir
	cfg.Required = dbKeys
	cfg.Timeouts = config.Timeouts{Check: 5 * time.Second, Build: 5 * time.Second, Publish: 5 * time.Second, Status: 5 * time.Second}
	return cfg, envPath
}

func devTarget(cfg *config.Config) types.DeploymentTarget {
	tgt, _ := cfg.ResolveTarget("dev")
	tgt.Region = awsfake.Region
	return tgt
}

func TestIncompleteConfigStopsBeforeBuild(t *testing.T) {
	cfg, envPath := project(t, "DB_HOST=db.example.com\nDB_USERNAME=u\n")
	builder := &recordingBuilder{}
	pub := &stubPublisher{}

	var seen []types.Stage
	p := &Pipeline{
		Config:    cfg,
		Target:    devTarget(cfg),
		EnvFile:   envPath,
		Builder:   builder,
		Publisher: pub,
		Logger:    log.NewTestLogger(),
		Observers: []Observer{func(tr Transition) { seen = append(seen, tr.To) }},
	}

	res, err := p.Run(context.Background(), ModeDeploy)
	require.Error(t, err)
	assert.Equal(t, types.KindConfigIncomplete, types.KindOf(err))
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.Contains(t, err.Error(), "DB_NAME")
	assert.Equal(t, 0, builder.calls)
	assert.Equal(t, 0, pub.publishCalls)

	assert.False(t, res.Success)
	assert.Equal(t, types.StageFailed, res.Stage)
	assert.Equal(t, []types.Stage{types.StageChecking, types.StageLoading, types.StageFailed}, seen)

	var perr *types.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, types.StageLoading, perr.Stage)
}

func TestMissingEnvFileFailsBeforeAnyNetworkCall(t *testing.T) {
	cfg, envPath := project(t, "")
	stsFake := &awsfake.STS{}
	builder := &recordingBuilder{}

	checker := &preflight.Checker{
		Probes: []preflight.Probe{
			preflight.EnvFileProbe{Path: envPath},
			&preflight.CredentialProbe{Identity: func(ctx context.Context) (awsclient.Identity, error) {
				return awsclient.CallerIdentity(ctx, stsFake)
			}},
		},
		Logger: log.NewTestLogger(),
	}
	opened := false
	store := history.NewLazy(func() (history.Store, error) {
		opened = true
		return history.NewMemoryStore(), nil
	})
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Checker: checker, Builder: builder, History: store, Logger: log.NewTestLogger()}

	_, err := p.Run(context.Background(), ModeDeploy)
	require.Error(t, err)
	assert.Equal(t, types.KindConfigNotFound, types.KindOf(err))
	assert.Equal(t, 0, stsFake.Calls)
	assert.Equal(t, 0, builder.calls)
	assert.False(t, opened, "a run stopped while checking must not open the history")
}

func TestDeployEndToEnd(t *testing.T) {
	cfg, envPath := project(t, guideEnv)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	lambdaFake := awsfake.NewLambda()
	stsFake := &awsfake.STS{}
	store := history.NewMemoryStore()
	logger := log.NewTestLogger()

	tools := &runner.MockRunner{}
	tools.On("LookPath", mock.Anything).Return("/usr/bin/tool", nil)
	tools.On("Run", mock.Anything, mock.Anything).Return(runner.Result{}, nil)

	checker := &preflight.Checker{
		Tools:  cfg.TransportKind().Capabilities().RequiredTools,
		Runner: tools,
		Probes: []preflight.Probe{
			preflight.EnvFileProbe{Path: envPath},
			&preflight.CredentialProbe{Identity: func(ctx context.Context) (awsclient.Identity, error) {
				return awsclient.CallerIdentity(ctx, stsFake)
			}},
		},
		Logger: logger,
	}
	p := &Pipeline{
		Config:  cfg,
		Target:  devTarget(cfg),
		EnvFile: envPath,
		Checker: checker,
		Builder: &build.Builder{Runner: tools, Logger: logger},
		Publisher: &publish.Publisher{
			Lambda:      lambdaFake,
			IAM:         awsfake.NewIAM(),
			Logs:        awsfake.NewLogs(),
			Retry:       retry.Policy{Attempts: 2, Backoff: time.Millisecond},
			Logger:      logger,
			WaitTimeout: time.Second,
			WaitDelay:   time.Millisecond,
		},
		Reporter: &report.Reporter{
			Lambda:     lambdaFake,
			HTTPClient: &http.Client{Transport: hostRouter{srv: srv}},
			HealthPath: "/health",
			Logger:     logger,
		},
		History: store,
		Logger:  logger,
	}

	res, err := p.Run(context.Background(), ModeDeploy)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, types.StageSuccess, res.Stage)
	assert.NotEmpty(t, res.URL)
	assert.Equal(t, types.HealthHealthy, res.Health)
	assert.Equal(t, "your-app-dev", res.FunctionName)
	assert.Equal(t, 1, stsFake.Calls)

	fn := lambdaFake.Functions["your-app-dev"]
	require.NotNil(t, fn)
	assert.Equal(t, "db.example.com", fn.Config.Environment.Variables["DB_HOST"])

	runs, err := store.List(context.Background(), "dev", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)

	art, err := store.LastArtifact(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Source, ".lambdeploy", "build", "dev.zip"), art.Path)
}

func TestReportFailureDoesNotFailRun(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	p := &Pipeline{
		Config:    cfg,
		Target:    devTarget(cfg),
		EnvFile:   envPath,
		Builder:   &recordingBuilder{art: types.Artifact{Transport: types.TransportBundle, Path: "/tmp/dev.zip"}},
		Publisher: &stubPublisher{res: publish.Result{FunctionName: "your-app-dev", URL: "https://x.lambda-url.us-east-1.on.aws/"}},
		Reporter:  &stubReporter{res: types.DeploymentResult{Health: types.HealthUnknown}, err: types.NewError(types.KindStatusUnknown, "probe timed out")},
		Logger:    log.NewTestLogger(),
	}

	res, err := p.Run(context.Background(), ModeDeploy)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.HealthUnknown, res.Health)
	assert.Equal(t, types.KindStatusUnknown, res.ErrorKind)
	assert.Equal(t, "https://x.lambda-url.us-east-1.on.aws/", res.URL)
}

func TestPartialPublishIsRememberedAndActivated(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	cfg.Transport = string(types.TransportImage)
	store := history.NewMemoryStore()
	ref := "123456789012.dkr.ecr.us-east-1.amazonaws.com/your-app:dev-0123456789ab"

	pub := &stubPublisher{err: &types.Error{Kind: types.KindPartialPublish, Step: publish.StepActivate, ImageRef: ref, Cause: errors.New("ResourceConflictException")}}
	p := &Pipeline{
		Config:    cfg,
		Target:    devTarget(cfg),
		EnvFile:   envPath,
		Builder:   &recordingBuilder{art: types.Artifact{Transport: types.TransportImage, ImageRef: "your-app:dev", Digest: "sha256:0123456789abcdef"}},
		Publisher: pub,
		History:   store,
		Logger:    log.NewTestLogger(),
	}

	_, err := p.Run(context.Background(), ModeDeploy)
	require.Error(t, err)
	assert.Equal(t, types.KindPartialPublish, types.KindOf(err))

	pending, err := store.GetPending(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, ref, pending.ImageRef)

	pub.err = nil
	pub.res = publish.Result{FunctionName: "your-app-dev", ImageRef: ref}
	res, err := p.Run(context.Background(), ModeActivate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ref, pub.activated)
	assert.Equal(t, 1, pub.publishCalls)

	_, err = store.GetPending(context.Background(), "dev")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestActivateWithoutPending(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Publisher: &stubPublisher{}, History: history.NewMemoryStore(), Logger: log.NewTestLogger()}

	_, err := p.Run(context.Background(), ModeActivate)
	require.Error(t, err)
	assert.Equal(t, types.KindPublishFailed, types.KindOf(err))
	assert.Contains(t, err.Error(), "no pending activation")
}

func TestPublishUsesLastArtifact(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	store := history.NewMemoryStore()
	zip := filepath.Join(t.TempDir(), "dev.zip")
	writeFile(t, zip, "PK")
	require.NoError(t, store.SaveArtifact(context.Background(), "dev", types.Artifact{Transport: types.TransportBundle, Path: zip}))

	builder := &recordingBuilder{}
	pub := &stubPublisher{res: publish.Result{FunctionName: "your-app-dev"}}
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Builder: builder, Publisher: pub, History: store, Logger: log.NewTestLogger()}

	res, err := p.Run(context.Background(), ModePublish)
	require.NoError(t, err)
	assert.Equal(t, zip, res.Artifact)
	assert.Equal(t, 0, builder.calls)
	assert.Equal(t, 1, pub.publishCalls)
}

func TestPublishWithoutBuild(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Publisher: &stubPublisher{}, History: history.NewMemoryStore(), Logger: log.NewTestLogger()}

	_, err := p.Run(context.Background(), ModePublish)
	require.Error(t, err)
	assert.Equal(t, types.KindPublishFailed, types.KindOf(err))
	assert.Contains(t, err.Error(), "run build first")
}

func TestCancelledRunStopsBeforeNextStage(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	ctx, cancel := context.WithCancel(context.Background())
	builder := &recordingBuilder{}

	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Builder: builder, Logger: log.NewTestLogger()}
	p.Observe(func(tr Transition) {
		if tr.To == types.StageLoading {
			cancel()
		}
	})

	_, err := p.Run(ctx, ModeDeploy)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, builder.calls)

	var perr *types.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, types.StageBuilding, perr.Stage)
}

func TestStageTimeout(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	cfg.Timeouts.Build = 20 * time.Millisecond

	slow := builderFunc(func(ctx context.Context, req build.Request) (types.Artifact, error) {
		<-ctx.Done()
		return types.Artifact{}, types.WrapError(types.KindBuildFailed, ctx.Err(), "build command")
	})
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Builder: slow, Logger: log.NewTestLogger()}

	_, err := p.Run(context.Background(), ModeBuild)
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))
}

func TestCheckStageTimeout(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	cfg.Timeouts.Check = 50 * time.Millisecond

	daemon := preflight.DockerDaemonProbe{Ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	p := &Pipeline{
		Config:  cfg,
		Target:  devTarget(cfg),
		EnvFile: envPath,
		Checker: &preflight.Checker{Probes: []preflight.Probe{daemon}, Logger: log.NewTestLogger()},
		Logger:  log.NewTestLogger(),
	}

	_, err := p.Run(context.Background(), ModeCheck)
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))

	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, types.StageChecking, e.Stage)
}

func TestStagesLogWithRunID(t *testing.T) {
	cfg, envPath := project(t, guideEnv)
	logger := log.NewTestLogger()

	builder := builderFunc(func(ctx context.Context, req build.Request) (types.Artifact, error) {
		log.FromContext(ctx).Info("Compiling bundle")
		return types.Artifact{Transport: types.TransportBundle, Path: filepath.Join(req.Source, "dist", "main.js")}, nil
	})
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), EnvFile: envPath, Builder: builder, Logger: logger}

	res, err := p.Run(context.Background(), ModeBuild)
	require.NoError(t, err)
	assert.True(t, logger.AssertLoggedWithField(log.InfoLevel, "Compiling bundle", log.RunIDKey, res.RunID))
	assert.True(t, logger.AssertLoggedWithField(log.InfoLevel, "Run succeeded", "health", types.HealthUnknown))
}

type builderFunc func(ctx context.Context, req build.Request) (types.Artifact, error)

func (f builderFunc) Build(ctx context.Context, req build.Request) (types.Artifact, error) {
	return f(ctx, req)
}

func TestCheckModeRunsOnlyChecking(t *testing.T) {
	cfg, envPath := project(t, "")
	var seen []types.Stage
	p := &Pipeline{
		Config:    cfg,
		Target:    devTarget(cfg),
		EnvFile:   envPath,
		Checker:   &preflight.Checker{Probes: []preflight.Probe{}, Logger: log.NewTestLogger()},
		Logger:    log.NewTestLogger(),
		Observers: []Observer{func(tr Transition) { seen = append(seen, tr.To) }},
	}

	res, err := p.Run(context.Background(), ModeCheck)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []types.Stage{types.StageChecking, types.StageSuccess}, seen)
}

func TestStatus(t *testing.T) {
	cfg, _ := project(t, guideEnv)
	p := &Pipeline{Config: cfg, Target: devTarget(cfg), Reporter: &stubReporter{err: errors.New("AccessDenied")}, Logger: log.NewTestLogger()}

	res, err := p.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindStatusUnknown, types.KindOf(err))
	assert.Equal(t, "dev", res.Target)
}

func TestRemoveRecordsRun(t *testing.T) {
	cfg, _ := project(t, guideEnv)
	store := history.NewMemoryStore()
	require.NoError(t, store.SetPending(context.Background(), history.Pending{Target: "dev", ImageRef: "x"}))

	p := &Pipeline{Config: cfg, Target: devTarget(cfg), Publisher: &stubPublisher{}, History: store, Logger: log.NewTestLogger()}
	res, err := p.Remove(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Messages, "removed function your-app-dev")

	_, err = store.GetPending(context.Background(), "dev")
	assert.ErrorIs(t, err, history.ErrNotFound)
	runs, _ := store.List(context.Background(), "dev", 0)
	assert.Len(t, runs, 1)
}
