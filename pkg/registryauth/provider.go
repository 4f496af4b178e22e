// Package registryauth resolves Docker registry credentials for image pushes.
package registryauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/types"
)

// Credentials are a username and password for one registry host.
type Credentials struct {
	Username      string
	Password      string
	ServerAddress string
}

// Encode returns the base64 JSON form the Engine API expects in
// PushOptions.RegistryAuth.
func (c Credentials) Encode() string {
	payload := map[string]string{
		"username":      c.Username,
		"password":      c.Password,
		"serveraddress": c.ServerAddress,
	}
	b, _ := json.Marshal(payload)
	return base64.StdEncoding.EncodeToString(b)
}

// Provider supplies registry credentials for a host.
type Provider interface {
	Match(host string) bool
	Resolve(ctx context.Context, host string) (Credentials, error)
}

// Chain asks the first provider that matches.
type Chain []Provider

// Resolve returns credentials for host, or AuthenticationFailed when no
// provider matches.
func (c Chain) Resolve(ctx context.Context, host string) (Credentials, error) {
	for _, p := range c {
		if p.Match(host) {
			return p.Resolve(ctx, host)
		}
	}
	return Credentials{}, types.NewError(types.KindAuthenticationFailed, "no credentials configured for registry %s", host)
}

// Host returns the registry host of an image reference.
func Host(ref string) string {
	host, _, ok := strings.Cut(ref, "/")
	if !ok || !strings.ContainsAny(host, ".:") {
		return "docker.io"
	}
	return host
}

// hostMatches supports exact hosts and a leading "*" wildcard.
func hostMatches(pattern, host string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(pattern, host)
	}
	idx := strings.Index(pattern, "*")
	return strings.HasSuffix(host, pattern[idx+1:])
}
