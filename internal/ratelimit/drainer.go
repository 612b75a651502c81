package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Leaker drains a leaky bucket queue.
type Leaker interface {
	Leak(ctx context.Context, id Identity, window time.Duration) (removed int64, err error)
	Fetch(ctx context.Context, id Identity, window time.Duration) (count int64, err error)
}

// Drainer leaks every watched queue once per window tick. Each distinct window gets its own
// schedule; a tick that is still running when the next one fires is skipped.
// Identities whose queue is empty after a leak stop being watched until watched again, and a
// window with nothing left to watch loses its schedule.
type Drainer struct {
	leaker Leaker
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	watched map[time.Duration]map[Identity]struct{}
	entries map[time.Duration]cron.EntryID
}

// NewDrainer creates a drainer. Call Start to begin leaking.
func NewDrainer(leaker Leaker, logger *zap.Logger) *Drainer {
	cl := cronLogger{logger: logger.Sugar()}

	return &Drainer{
		leaker: leaker,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		watched: make(map[time.Duration]map[Identity]struct{}),
		entries: make(map[time.Duration]cron.EntryID),
	}
}

// Watch registers id for leaking on the cadence of window.
func (d *Drainer) Watch(id Identity, window time.Duration) error {
	if _, err := WindowSeconds(window); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids, ok := d.watched[window]
	if !ok {
		ids = make(map[Identity]struct{})
		d.watched[window] = ids
	}

	ids[id] = struct{}{}

	if _, scheduled := d.entries[window]; scheduled {
		return nil
	}

	entry, err := d.cron.AddFunc(fmt.Sprintf("@every %s", window), func() {
		ctx, cancel := context.WithTimeout(context.Background(), window)
		defer cancel()

		d.Drain(ctx, window)
	})
	if err != nil {
		return fmt.Errorf("schedule leak every %s: %w", window, err)
	}

	d.entries[window] = entry

	return nil
}

// Watching returns how many identities are currently watched.
func (d *Drainer) Watching() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, ids := range d.watched {
		n += len(ids)
	}

	return n
}

// Schedules returns how many leak schedules are registered, one per watched window.
func (d *Drainer) Schedules() int {
	return len(d.cron.Entries())
}

// Drain runs one leak cycle for every identity watched on window and returns the total number
// of markers removed. Failures are logged and do not stop the cycle.
func (d *Drainer) Drain(ctx context.Context, window time.Duration) int64 {
	var total int64

	for _, id := range d.snapshot(window) {
		removed, err := d.leaker.Leak(ctx, id, window)
		if err != nil {
			d.logger.Error("leak failed",
				zap.String("identity", id.String()),
				zap.Duration("window", window),
				zap.Error(err),
			)

			continue
		}

		total += removed

		left, err := d.leaker.Fetch(ctx, id, window)
		if err != nil {
			d.logger.Error("fetch after leak failed",
				zap.String("identity", id.String()),
				zap.Error(err),
			)

			continue
		}

		if left == 0 {
			d.forget(id, window)
		}
	}

	if total > 0 {
		d.logger.Debug("leaked",
			zap.Duration("window", window),
			zap.Int64("removed", total),
		)
	}

	return total
}

// Start begins the schedules in the background.
func (d *Drainer) Start() {
	d.cron.Start()
	d.logger.Info("drainer started")
}

// Stop halts the schedules and waits for running leaks to finish.
func (d *Drainer) Stop() {
	<-d.cron.Stop().Done()
	d.logger.Info("drainer stopped")
}

// Shutdown stops the drainer when the application stops.
func (d *Drainer) Shutdown() error {
	d.Stop()

	return nil
}

func (d *Drainer) snapshot(window time.Duration) []Identity {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]Identity, 0, len(d.watched[window]))
	for id := range d.watched[window] {
		ids = append(ids, id)
	}

	return ids
}

func (d *Drainer) forget(id Identity, window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := d.watched[window]
	delete(ids, id)

	if len(ids) > 0 {
		return
	}

	if entry, ok := d.entries[window]; ok {
		d.cron.Remove(entry)
	}

	delete(d.watched, window)
	delete(d.entries, window)
}

// cronLogger routes scheduler logs to zap. Routine scheduler chatter goes to debug.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
