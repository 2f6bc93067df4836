package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/google/uuid"
)

// lockTable hands out one exclusive lock per id. A lock is a buffered
// channel of size one so waiting can be abandoned when ctx ends.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*keyLock)}
}

func (t *lockTable) acquire(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		t.unref(id, l)
		t.mu.Unlock()
		return ctx.Err()
	}
}

func (t *lockTable) release(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		return
	}
	<-l.ch
	t.unref(id, l)
}

func (t *lockTable) unref(id uuid.UUID, l *keyLock) {
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
}

// acquireAll locks ids in ascending order, skipping those already in held.
// On failure the locks taken by this call are released again.
func (t *lockTable) acquireAll(ctx context.Context, ids []uuid.UUID, held map[uuid.UUID]struct{}, timeout time.Duration) error {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	taken := make([]uuid.UUID, 0, len(ids))
	for _, id := range uniqueSorted(ids) {
		if _, ok := held[id]; ok {
			continue
		}
		if err := t.acquire(lockCtx, id); err != nil {
			for _, acquired := range taken {
				t.release(acquired)
				delete(held, acquired)
			}
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: %s", domain.ErrLockTimeout, id)
			}
			return err
		}
		held[id] = struct{}{}
		taken = append(taken, id)
	}
	return nil
}
