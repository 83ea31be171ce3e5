// Package dedup collapses equivalent events that arrive through more than
// one channel. A webhook delivery and a poll snapshot describing the same
// status change carry the same dedup key, so whichever lands second inside
// the window is dropped before evaluation.
package dedup

import (
	"context"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/store"
)

// Deduper marks event keys in the store and reports repeats within the
// window. The check and the mark are one atomic store operation, so two
// governors racing on the same event elect exactly one winner.
type Deduper struct {
	store  store.Store
	window time.Duration
}

func New(st store.Store, window time.Duration) *Deduper {
	return &Deduper{store: st, window: window}
}

// IsDuplicate reports whether an equivalent event was already seen inside
// the window, marking this one as seen when it was not.
func (d *Deduper) IsDuplicate(ctx context.Context, event models.Event) (bool, error) {
	key := event.DedupKey()
	if key == "" {
		return false, nil
	}
	return d.store.CheckAndMarkDedup(ctx, key, d.window)
}

// Forget clears the marker for an event so it can be evaluated again.
func (d *Deduper) Forget(ctx context.Context, event models.Event) error {
	key := event.DedupKey()
	if key == "" {
		return nil
	}
	return d.store.ClearDedup(ctx, key)
}
