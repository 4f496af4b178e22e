package preflight

import (
	"context"
	"fmt"

	"github.com/rzbill/lambdeploy/pkg/awsclient"
	"github.com/rzbill/lambdeploy/pkg/envfile"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// EnvFileProbe checks that the environment file exists.
type EnvFileProbe struct {
	Path string
}

func (p EnvFileProbe) Name() string { return "environment file " + p.Path }
func (p EnvFileProbe) Local() bool  { return true }

func (p EnvFileProbe) Probe(ctx context.Context) error {
	return envfile.Exists(p.Path)
}

// CredentialProbe proves the AWS credential chain resolves to an identity.
type CredentialProbe struct {
	Identity func(ctx context.Context) (awsclient.Identity, error)

	// Account is filled in on success.
	Account string
}

func (p *CredentialProbe) Name() string { return "aws credentials" }
func (p *CredentialProbe) Local() bool  { return false }

func (p *CredentialProbe) Probe(ctx context.Context) error {
	id, err := p.Identity(ctx)
	if err != nil {
		if awsclient.IsAuthError(err) {
			return types.WrapError(types.KindPrerequisiteMissing, err, "credentials rejected")
		}
		return types.WrapError(types.KindPrerequisiteMissing, err, "credentials unavailable")
	}
	p.Account = id.Account
	return nil
}

// DockerDaemonProbe pings the Docker Engine.
type DockerDaemonProbe struct {
	Ping func(ctx context.Context) error
}

func (p DockerDaemonProbe) Name() string { return "docker daemon" }
func (p DockerDaemonProbe) Local() bool  { return false }

func (p DockerDaemonProbe) Probe(ctx context.Context) error {
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	return nil
}
