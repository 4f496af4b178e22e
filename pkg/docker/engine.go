// Package docker connects to the local Docker Engine for image builds and
// pushes.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/log"
)

// Engine is the part of the Docker Engine API lambdeploy uses. *client.Client
// satisfies it.
type Engine interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

var _ Engine = (*client.Client)(nil)

// Config controls how the client picks an API version.
type Config struct {
	// APIVersion pins the API version; empty negotiates with the daemon.
	APIVersion string
	// FallbackAPIVersion is used when the negotiated version is rejected.
	FallbackAPIVersion string
	NegotiationTimeout time.Duration
}

// DefaultConfig negotiates and falls back to 1.43.
func DefaultConfig() Config {
	return Config{
		FallbackAPIVersion: "1.43",
		NegotiationTimeout: 3 * time.Second,
	}
}

// NewClient creates a client from the DOCKER_* environment.
func NewClient(ctx context.Context, cfg Config, logger log.Logger) (*client.Client, error) {
	if logger == nil {
		logger = log.WithComponent("docker")
	} else {
		logger = logger.WithComponent("docker")
	}

	if cfg.APIVersion != "" {
		logger.Debug("Using specified Docker API version", log.Str("api_version", cfg.APIVersion))
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion(cfg.APIVersion))
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client with version %s: %w", cfg.APIVersion, err)
		}
		return cli, nil
	}

	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultConfig().NegotiationTimeout
	}
	negCtx, cancel := context.WithTimeout(ctx, cfg.NegotiationTimeout)
	defer cancel()
	cli.NegotiateAPIVersion(negCtx)
	version := cli.ClientVersion()
	logger.Debug("Using negotiated Docker API version", log.Str("api_version", version))

	if _, err := cli.Ping(negCtx); err != nil && isVersionTooNew(err) && cfg.FallbackAPIVersion != "" {
		logger.Warn("Docker API version mismatch, falling back to compatibility version",
			log.Str("current_version", version),
			log.Str("fallback_version", cfg.FallbackAPIVersion),
			log.Err(err))
		_ = cli.Close()
		cli, err = client.NewClientWithOpts(client.FromEnv, client.WithVersion(cfg.FallbackAPIVersion))
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client with fallback version: %w", err)
		}
	}
	return cli, nil
}

func isVersionTooNew(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "client version") && strings.Contains(msg, "too new")
}

// Lazy defers client creation until a command needs the daemon.
func Lazy(cfg Config, logger log.Logger) *lazy.Value[Engine] {
	return lazy.New(func(ctx context.Context) (Engine, error) {
		cli, err := NewClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return cli, nil
	})
}

// Ping is a helper for the daemon probe.
func Ping(ctx context.Context, engine *lazy.Value[Engine]) error {
	e, err := engine.GetOrInit(ctx)
	if err != nil {
		return err
	}
	_, err = e.Ping(ctx)
	return err
}
