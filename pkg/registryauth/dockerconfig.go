package registryauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/types"
)

// DockerConfigProvider reads static credentials saved by `docker login`.
// Credential helpers are not consulted.
type DockerConfigProvider struct {
	auths map[string]Credentials
}

// LoadDockerConfig reads $DOCKER_CONFIG/config.json or ~/.docker/config.json.
// A missing file yields an empty provider.
func LoadDockerConfig() (*DockerConfigProvider, error) {
	dir := os.Getenv("DOCKER_CONFIG")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &DockerConfigProvider{}, nil
		}
		dir = filepath.Join(home, ".docker")
	}
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &DockerConfigProvider{}, nil
		}
		return nil, fmt.Errorf("read docker config: %w", err)
	}
	return ParseDockerConfig(raw)
}

// ParseDockerConfig parses a config.json / .dockerconfigjson document.
func ParseDockerConfig(raw []byte) (*DockerConfigProvider, error) {
	var doc struct {
		Auths map[string]struct {
			Auth          string `json:"auth"`
			IdentityToken string `json:"identitytoken"`
		} `json:"auths"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse docker config: %w", err)
	}

	p := &DockerConfigProvider{auths: map[string]Credentials{}}
	for key, v := range doc.Auths {
		host := normalizeHost(key)
		switch {
		case v.Auth != "":
			dec, err := base64.StdEncoding.DecodeString(v.Auth)
			if err != nil {
				continue
			}
			user, pass, ok := strings.Cut(string(dec), ":")
			if !ok {
				continue
			}
			p.auths[host] = Credentials{Username: user, Password: pass, ServerAddress: host}
		case v.IdentityToken != "":
			p.auths[host] = Credentials{Username: "token", Password: v.IdentityToken, ServerAddress: host}
		}
	}
	return p, nil
}

func (p *DockerConfigProvider) Match(host string) bool {
	_, ok := p.auths[normalizeHost(host)]
	return ok
}

func (p *DockerConfigProvider) Resolve(ctx context.Context, host string) (Credentials, error) {
	c, ok := p.auths[normalizeHost(host)]
	if !ok {
		return Credentials{}, types.NewError(types.KindAuthenticationFailed, "no saved login for %s", host)
	}
	return c, nil
}

func normalizeHost(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	s, _, _ = strings.Cut(s, "/")
	if s == "index.docker.io" {
		return "docker.io"
	}
	return strings.ToLower(s)
}
