// Package history keeps a local record of deployment runs per target and the
// image left behind by a partial publish.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/lambdeploy/pkg/types"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("history: not found")

// Pending is an image that was pushed but never activated.
type Pending struct {
	Target   string    `json:"target"`
	RunID    string    `json:"run_id"`
	ImageRef string    `json:"image_ref"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Store persists runs and pending activations.
type Store interface {
	Record(ctx context.Context, run types.DeploymentResult) error
	// List returns up to limit runs for target, newest first. An empty
	// target lists every target.
	List(ctx context.Context, target string, limit int) ([]types.DeploymentResult, error)

	SetPending(ctx context.Context, p Pending) error
	// GetPending returns ErrNotFound when the target has nothing pending.
	GetPending(ctx context.Context, target string) (Pending, error)
	ClearPending(ctx context.Context, target string) error

	// SaveArtifact remembers the last build for target so publish can run
	// without rebuilding.
	SaveArtifact(ctx context.Context, target string, art types.Artifact) error
	// LastArtifact returns ErrNotFound when target was never built.
	LastArtifact(ctx context.Context, target string) (types.Artifact, error)

	Close() error
}
