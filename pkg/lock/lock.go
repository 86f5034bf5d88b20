// Package lock provides the run-level guard that keeps two full syncs from
// writing the same target store at once.
package lock

import (
	"context"
	"sync"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Guard acquires a named lock without waiting. A held lock yields a
// BusyError.
type Guard interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// LocalGuard guards within one process.
type LocalGuard struct {
	held map[string]bool
	mu   sync.Mutex
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]bool)}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held[key] {
		return nil, errors.NewBusyError(key)
	}
	g.held[key] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
		return nil
	}, nil
}
