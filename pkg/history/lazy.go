package history

import (
	"context"
	"fmt"

	"github.com/rzbill/lambdeploy/pkg/lazy"
	"github.com/rzbill/lambdeploy/pkg/types"
)

// Lazy opens its Store on the first call that needs it, so runs that stop
// before recording anything leave nothing on disk.
type Lazy struct {
	value *lazy.Value[Store]
}

// NewLazy returns a Store that calls open on first use. An open failure is
// returned by every method.
func NewLazy(open func() (Store, error)) *Lazy {
	return &Lazy{value: lazy.New(func(context.Context) (Store, error) { return open() })}
}

// Opened reports whether open has been called.
func (l *Lazy) Opened() bool {
	return l.value.Initialized()
}

func (l *Lazy) store(ctx context.Context) (Store, error) {
	s, err := l.value.GetOrInit(ctx)
	if err != nil {
		return nil, fmt.Errorf("history unavailable: %w", err)
	}
	return s, nil
}

func (l *Lazy) Record(ctx context.Context, res types.DeploymentResult) error {
	s, err := l.store(ctx)
	if err != nil {
		return err
	}
	return s.Record(ctx, res)
}

func (l *Lazy) List(ctx context.Context, target string, limit int) ([]types.DeploymentResult, error) {
	s, err := l.store(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, target, limit)
}

func (l *Lazy) SetPending(ctx context.Context, p Pending) error {
	s, err := l.store(ctx)
	if err != nil {
		return err
	}
	return s.SetPending(ctx, p)
}

func (l *Lazy) GetPending(ctx context.Context, target string) (Pending, error) {
	s, err := l.store(ctx)
	if err != nil {
		return Pending{}, err
	}
	return s.GetPending(ctx, target)
}

func (l *Lazy) ClearPending(ctx context.Context, target string) error {
	s, err := l.store(ctx)
	if err != nil {
		return err
	}
	return s.ClearPending(ctx, target)
}

func (l *Lazy) SaveArtifact(ctx context.Context, target string, art types.Artifact) error {
	s, err := l.store(ctx)
	if err != nil {
		return err
	}
	return s.SaveArtifact(ctx, target, art)
}

func (l *Lazy) LastArtifact(ctx context.Context, target string) (types.Artifact, error) {
	s, err := l.store(ctx)
	if err != nil {
		return types.Artifact{}, err
	}
	return s.LastArtifact(ctx, target)
}

// Close closes the store if it was opened.
func (l *Lazy) Close() error {
	if !l.Opened() {
		return nil
	}
	s, err := l.value.GetOrInit(context.Background())
	if err != nil {
		return nil
	}
	return s.Close()
}
