package runner

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRunner is a testify mock of Runner.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) LookPath(name string) (string, error) {
	args := m.Called(name)
	return args.String(0), args.Error(1)
}

func (m *MockRunner) Run(ctx context.Context, opts Options) (Result, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(Result), args.Error(1)
}
