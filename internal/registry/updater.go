package registry

import (
	"context"
	"sync"

	"github.com/mirador/txwatch/internal/watch"
)

// Updater mirrors a watch's confirmation progress into the registry. It is
// bound to a watch ID after the watch has started; events arriving before
// Bind are buffered as a pending high-water mark and flushed on Bind.
type Updater struct {
	reg *RedisRegistry

	mu      sync.Mutex
	watchID string
	pending uint64
}

func NewUpdater(reg *RedisRegistry) *Updater {
	return &Updater{reg: reg}
}

// Bind associates the updater with a registered watch ID.
func (u *Updater) Bind(ctx context.Context, watchID string) error {
	u.mu.Lock()
	u.watchID = watchID
	pending := u.pending
	u.mu.Unlock()

	if pending > 0 {
		return u.reg.Progress(ctx, watchID, pending)
	}
	return nil
}

func (u *Updater) Confirmation(ctx context.Context, ev watch.ConfirmationEvent) error {
	u.mu.Lock()
	id := u.watchID
	if id == "" {
		if ev.Confirmations > u.pending {
			u.pending = ev.Confirmations
		}
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	return u.reg.Progress(ctx, id, ev.Confirmations)
}

var _ watch.Emitter = (*Updater)(nil)
