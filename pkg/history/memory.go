package history

import (
	"context"
	"sync"

	"github.com/rzbill/lambdeploy/pkg/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store for tests and --no-history runs.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      []types.DeploymentResult
	pending   map[string]Pending
	artifacts map[string]types.Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: map[string]Pending{}, artifacts: map[string]types.Artifact{}}
}

func (s *MemoryStore) Record(ctx context.Context, run types.DeploymentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, target string, limit int) ([]types.DeploymentResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.DeploymentResult
	for _, r := range s.runs {
		if target == "" || r.Target == target {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetPending(ctx context.Context, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Target] = p
	return nil
}

func (s *MemoryStore) GetPending(ctx context.Context, target string) (Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[target]
	if !ok {
		return Pending{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ClearPending(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, target)
	return nil
}

func (s *MemoryStore) SaveArtifact(ctx context.Context, target string, art types.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[target] = art
	return nil
}

func (s *MemoryStore) LastArtifact(ctx context.Context, target string) (types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[target]
	if !ok {
		return types.Artifact{}, ErrNotFound
	}
	return art, nil
}

func (s *MemoryStore) Close() error { return nil }
