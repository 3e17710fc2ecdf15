package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atmx/settlement-engine/internal/store"
)

// Locker hands out distributed locks shared by every engine replica.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type guardKey struct{}

// guard serializes mutating calls. The context handed to the guarded body
// carries a marker, so a call arriving with that context (for example from
// a transfer callback) is nested and gets ErrReentrant instead of waiting
// on the mutex forever.
type guard struct {
	mu     sync.Mutex
	locker Locker
	key    string
	ttl    time.Duration
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if held, _ := ctx.Value(guardKey{}).(*guard); held == g {
		return nil, nil, ErrReentrant
	}

	g.mu.Lock()
	if g.locker == nil {
		return context.WithValue(ctx, guardKey{}, g), g.mu.Unlock, nil
	}

	unlock, err := g.locker.Acquire(ctx, g.key, g.ttl)
	if err != nil {
		g.mu.Unlock()
		if errors.Is(err, store.ErrLockHeld) {
			return nil, nil, ErrBusy
		}
		return nil, nil, fmt.Errorf("acquire settlement lock: %w", err)
	}
	return context.WithValue(ctx, guardKey{}, g), func() {
		unlock()
		g.mu.Unlock()
	}, nil
}

// guarded runs fn inside the guard and releases it on every exit path.
func (e *Engine) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	gctx, release, err := e.guard.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(gctx)
}
