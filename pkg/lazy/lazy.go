// Package lazy holds expensive per-process values that are built on first
// use and reused afterwards.
//
// A Value replaces module-level "cached instance" globals: the owner passes
// the Value around explicitly, and GetOrInit runs the constructor at most
// once per Value. Lambda handlers use it to build their application once per
// execution environment; the CLI uses it for AWS and Docker clients.
package lazy

import (
	"context"
	"sync"
)

// Value is a lazily-constructed singleton.
type Value[T any] struct {
	once sync.Once
	init func(ctx context.Context) (T, error)
	val  T
	err  error
	done bool
	mu   sync.Mutex
}

// New returns a Value whose constructor is init.
func New[T any](init func(ctx context.Context) (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// Of returns an already-initialized Value. Tests use it to inject fakes.
func Of[T any](v T) *Value[T] {
	l := &Value[T]{val: v, done: true}
	l.once.Do(func() {})
	return l
}

// GetOrInit returns the value, running the constructor on the first call.
// A constructor error is cached and returned to every later caller.
func (l *Value[T]) GetOrInit(ctx context.Context) (T, error) {
	l.once.Do(func() {
		v, err := l.init(ctx)
		l.mu.Lock()
		l.val, l.err, l.done = v, err, true
		l.mu.Unlock()
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.val, l.err
}

// Initialized reports whether the constructor has already run.
func (l *Value[T]) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
