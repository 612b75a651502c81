package decisions

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/admission/internal/keys"
	"github.com/serroba/admission/internal/messaging"
	"github.com/serroba/admission/internal/ratelimit"
)

// Watcher registers leaky bucket queues for periodic draining.
type Watcher interface {
	Watch(id keys.Identity, window time.Duration) error
}

// Persist returns a handler that saves every decision to store.
func Persist(store Store) messaging.Handler[Decision] {
	return func(ctx context.Context, decision *Decision) error {
		if err := store.Save(ctx, decision); err != nil {
			return fmt.Errorf("save decision: %w", err)
		}

		return nil
	}
}

// WatchLeaks returns a handler that hands admitted leaky bucket identities to w,
// so their queues keep draining while traffic flows. Other decisions are ignored.
func WatchLeaks(w Watcher) messaging.Handler[Decision] {
	return func(_ context.Context, decision *Decision) error {
		if decision.Algorithm != string(ratelimit.LeakyBucketAlgorithm) || !decision.Allowed {
			return nil
		}

		if err := w.Watch(decision.Identity(), decision.Window()); err != nil {
			return fmt.Errorf("watch %s: %w", decision.Identity(), err)
		}

		return nil
	}
}
