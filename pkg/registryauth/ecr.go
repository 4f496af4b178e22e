package registryauth

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// ECRPattern matches every private ECR registry host.
const ECRPattern = "*.amazonaws.com"

// TokenAPI is the ECR call needed for registry credentials.
type TokenAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECRProvider exchanges AWS credentials for a registry token. Tokens are
// cached per host until five minutes before expiry.
type ECRProvider struct {
	api     TokenAPI
	pattern string

	mu    sync.Mutex
	cache map[string]ecrEntry
	now   func() time.Time
}

type ecrEntry struct {
	creds   Credentials
	expires time.Time
}

// NewECRProvider creates a provider for hosts matching pattern; an empty
// pattern means ECRPattern.
func NewECRProvider(api TokenAPI, pattern string) *ECRProvider {
	if pattern == "" {
		pattern = ECRPattern
	}
	return &ECRProvider{api: api, pattern: pattern, cache: map[string]ecrEntry{}, now: time.Now}
}

func (p *ECRProvider) Match(host string) bool {
	return hostMatches(p.pattern, host)
}

func (p *ECRProvider) Resolve(ctx context.Context, host string) (Credentials, error) {
	p.mu.Lock()
	if ent, ok := p.cache[host]; ok && ent.expires.Sub(p.now()) > 5*time.Minute {
		p.mu.Unlock()
		return ent.creds, nil
	}
	p.mu.Unlock()

	data, err := p.token(ctx, host)
	if err != nil {
		return Credentials{}, err
	}
	creds, err := decodeToken(data, host)
	if err != nil {
		return Credentials{}, err
	}

	exp := p.now().Add(12 * time.Hour)
	if data.ExpiresAt != nil {
		exp = *data.ExpiresAt
	}
	p.mu.Lock()
	p.cache[host] = ecrEntry{creds: creds, expires: exp}
	p.mu.Unlock()
	return creds, nil
}

// Registry returns the caller's default ECR registry host, derived from the
// token's proxy endpoint.
func (p *ECRProvider) Registry(ctx context.Context) (string, error) {
	data, err := p.token(ctx, "")
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"), "http://")
	if host == "" {
		return "", types.NewError(types.KindAuthenticationFailed, "ecr returned no proxy endpoint")
	}
	return host, nil
}

func (p *ECRProvider) token(ctx context.Context, host string) (ecrtypes.AuthorizationData, error) {
	out, err := p.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return ecrtypes.AuthorizationData{}, types.WrapError(types.KindAuthenticationFailed, err, "ecr authorization token")
	}
	if len(out.AuthorizationData) == 0 {
		return ecrtypes.AuthorizationData{}, types.NewError(types.KindAuthenticationFailed, "ecr returned no authorization data")
	}
	for _, ad := range out.AuthorizationData {
		if host != "" && strings.Contains(aws.ToString(ad.ProxyEndpoint), host) {
			return ad, nil
		}
	}
	return out.AuthorizationData[0], nil
}

func decodeToken(data ecrtypes.AuthorizationData, host string) (Credentials, error) {
	tok, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credentials{}, types.WrapError(types.KindAuthenticationFailed, err, "decode ecr token")
	}
	user, pass, ok := strings.Cut(string(tok), ":")
	if !ok {
		return Credentials{}, types.NewError(types.KindAuthenticationFailed, "ecr token has invalid format")
	}
	return Credentials{Username: user, Password: pass, ServerAddress: host}, nil
}
