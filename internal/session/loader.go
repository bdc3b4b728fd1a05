package session

import "context"

// Loader is the one-time readiness step a session performs before it builds
// its evaluator. A non-nil error is fatal to the session.
type Loader interface {
	Load(ctx context.Context) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) error

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) error { return f(ctx) }

// Loaders runs each loader in order and stops at the first failure.
type Loaders []Loader

// Load implements Loader.
func (ls Loaders) Load(ctx context.Context) error {
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}
