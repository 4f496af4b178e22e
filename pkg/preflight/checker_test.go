package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/log"
	"github.com/rzbill/lambdeploy/pkg/runner"
	"github.com/rzbill/lambdeploy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingProbe struct {
	name  string
	local bool
	err   error
	calls int
}

func (p *countingProbe) Name() string { return p.name }
func (p *countingProbe) Local() bool  { return p.local }
func (p *countingProbe) Probe(ctx context.Context) error {
	p.calls++
	return p.err
}

func allToolsRunner(names ...string) *runner.MockRunner {
	r := &runner.MockRunner{}
	for _, n := range names {
		r.On("LookPath", n).Return("/usr/bin/"+n, nil)
	}
	r.On("Run", mock.Anything, mock.Anything).Return(runner.Result{}, nil)
	return r
}

func writeEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_HOST=localhost\n"), 0o600))
	return path
}

func TestCheckAllPresent(t *testing.T) {
	tools := types.TransportBundle.Capabilities().RequiredTools
	c := &Checker{
		Tools:  tools,
		Probes: []Probe{EnvFileProbe{Path: writeEnv(t)}},
		Runner: allToolsRunner("node", "npm"),
		Logger: log.NewTestLogger(),
	}

	assert.Empty(t, c.Check(context.Background()))
	assert.NoError(t, c.Require(context.Background()))
}

func TestCheckReportsExactlyTheMissingTool(t *testing.T) {
	r := &runner.MockRunner{}
	r.On("LookPath", "node").Return("/usr/bin/node", nil)
	r.On("LookPath", "npm").Return("", errors.New("executable file not found in $PATH"))
	r.On("Run", mock.Anything, mock.Anything).Return(runner.Result{}, nil)

	c := &Checker{Tools: types.TransportBundle.Capabilities().RequiredTools, Runner: r, Logger: log.NewTestLogger()}
	missing := c.Check(context.Background())

	require.Len(t, missing, 1)
	assert.Equal(t, "npm", missing[0].Name)
	assert.Equal(t, types.KindPrerequisiteMissing, missing[0].Kind)

	err := c.Require(context.Background())
	assert.True(t, types.IsKind(err, types.KindPrerequisiteMissing))
	assert.Contains(t, err.Error(), "npm")
}

func TestCheckToolVersionFailure(t *testing.T) {
	r := &runner.MockRunner{}
	r.On("LookPath", "docker").Return("/usr/bin/docker", nil)
	r.On("Run", mock.Anything, runner.Options{Command: []string{"/usr/bin/docker", "--version"}}).
		Return(runner.Result{ExitCode: 1}, &runner.ExitError{Command: "docker", ExitCode: 1})

	c := &Checker{Tools: types.TransportImage.Capabilities().RequiredTools, Runner: r, Logger: log.NewTestLogger()}
	missing := c.Check(context.Background())

	require.Len(t, missing, 1)
	assert.Equal(t, "docker", missing[0].Name)
	assert.Contains(t, missing[0].Reason, "exited with code 1")
	r.AssertExpectations(t)
}

func TestMissingEnvFileSkipsNetworkProbes(t *testing.T) {
	network := &countingProbe{name: "aws credentials"}
	c := &Checker{
		Probes: []Probe{network, EnvFileProbe{Path: filepath.Join(t.TempDir(), ".env")}},
		Runner: allToolsRunner(),
		Logger: log.NewTestLogger(),
	}

	err := c.Require(context.Background())
	assert.True(t, types.IsKind(err, types.KindConfigNotFound))
	assert.Equal(t, 0, network.calls)
}

func TestMissingEnvFileOutranksMissingTools(t *testing.T) {
	r := &runner.MockRunner{}
	r.On("LookPath", mock.Anything).Return("", errors.New("executable file not found in $PATH"))

	c := &Checker{
		Tools:  types.TransportBundle.Capabilities().RequiredTools,
		Probes: []Probe{EnvFileProbe{Path: filepath.Join(t.TempDir(), ".env")}},
		Runner: r,
		Logger: log.NewTestLogger(),
	}
	err := c.Require(context.Background())
	assert.True(t, types.IsKind(err, types.KindConfigNotFound))
	assert.Contains(t, err.Error(), "also unmet: node, npm")
}

func TestNetworkProbesRunAfterLocal(t *testing.T) {
	network := &countingProbe{name: "docker daemon", err: errors.New("connection refused")}
	c := &Checker{
		Probes: []Probe{network, EnvFileProbe{Path: writeEnv(t)}},
		Runner: allToolsRunner(),
		Logger: log.NewTestLogger(),
	}

	missing := c.Check(context.Background())
	require.Len(t, missing, 1)
	assert.Equal(t, "docker daemon", missing[0].Name)
	assert.Equal(t, types.KindPrerequisiteMissing, missing[0].Kind)
	assert.Equal(t, 1, network.calls)
}

func TestRequireListsOtherUnmet(t *testing.T) {
	r := &runner.MockRunner{}
	r.On("LookPath", mock.Anything).Return("", errors.New("not found"))

	c := &Checker{Tools: types.TransportBundle.Capabilities().RequiredTools, Runner: r, Logger: log.NewTestLogger()}
	err := c.Require(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node: not found on PATH")
	assert.Contains(t, err.Error(), "also unmet: npm")
}

func TestCredentialProbe(t *testing.T) {
	ok := &CredentialProbe{Identity: func(ctx context.Context) (awsclient.Identity, error) {
		return awsclient.Identity{Account: "123456789012"}, nil
	}}
	require.NoError(t, ok.Probe(context.Background()))
	assert.Equal(t, "123456789012", ok.Account)

	bad := &CredentialProbe{Identity: func(ctx context.Context) (awsclient.Identity, error) {
		return awsclient.Identity{}, errors.New("failed to retrieve credentials")
	}}
	err := bad.Probe(context.Background())
	assert.True(t, types.IsKind(err, types.KindPrerequisiteMissing))
	assert.Contains(t, err.Error(), "credentials rejected")
}

func TestDockerDaemonProbe(t *testing.T) {
	p := DockerDaemonProbe{Ping: func(ctx context.Context) error { return errors.New("dial unix /var/run/docker.sock") }}
	assert.False(t, p.Local())
	assert.ErrorContains(t, p.Probe(context.Background()), "daemon not reachable")
}

func TestDeadlineWhileCheckingIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	daemon := DockerDaemonProbe{Ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := &Checker{Probes: []Probe{daemon}, Runner: allToolsRunner(), Logger: log.NewTestLogger()}

	err := c.Require(ctx)
	require.Error(t, err)
	assert.Equal(t, types.KindTimeout, types.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "docker daemon")
}
