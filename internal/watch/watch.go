// Package watch tails the event log and the notification fanout for the CLI.
// It is a read-only observer: it never commits cursors, so watching has no
// effect on pipeline consumers.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/drey/pkg/journal"
)

const defaultBatchSize = 64

// Options configures an event watch.
type Options struct {
	FromStart    bool            // Replay the whole log before following the tail
	PollInterval time.Duration   // Poll cadence (default 500ms)
	Levels       []journal.Level // Only show these levels; empty shows all
	BatchSize    int64
}

// EventHandler receives each matching event. Returning an error stops the
// watch and propagates the error to the caller.
type EventHandler func(*journal.EventEnvelope) error

// Watcher follows the durable event log with plain polling reads.
type Watcher struct {
	client *journal.Client
	opts   Options
	levels map[journal.Level]bool
}

// NewWatcher creates a watcher over the instance's event log.
func NewWatcher(client *journal.Client, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	levels := make(map[journal.Level]bool, len(opts.Levels))
	for _, level := range opts.Levels {
		levels[level] = true
	}

	return &Watcher{client: client, opts: opts, levels: levels}
}

// Run follows the log until the context is cancelled or the handler errors.
// Without FromStart the watch begins at the current end of the log and only
// shows events appended afterwards.
func (w *Watcher) Run(ctx context.Context, handle EventHandler) error {
	var after string
	if !w.opts.FromStart {
		end, err := w.findEnd(ctx)
		if err != nil {
			return err
		}
		after = end
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		events, err := w.client.ReadEventsAfter(ctx, after, w.opts.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}

		for _, event := range events {
			after = event.Offset
			if !w.matches(event) {
				continue
			}
			if err := handle(event); err != nil {
				return err
			}
		}

		// Drain immediately while the log has a backlog
		if int64(len(events)) == w.opts.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// findEnd scans to the current last offset of the log.
func (w *Watcher) findEnd(ctx context.Context) (string, error) {
	var after string
	for {
		events, err := w.client.ReadEventsAfter(ctx, after, w.opts.BatchSize)
		if err != nil {
			return "", fmt.Errorf("failed to scan log: %w", err)
		}
		if len(events) == 0 {
			return after, nil
		}
		after = events[len(events)-1].Offset
	}
}

func (w *Watcher) matches(e *journal.EventEnvelope) bool {
	if len(w.levels) == 0 {
		return true
	}
	return w.levels[e.Level]
}

// DeltaHandler receives each notification delta from the fanout.
type DeltaHandler func(*journal.NotificationDelta) error

// Deltas subscribes to the notification fanout and invokes handle for each
// delta until the context is cancelled, the handler errors, or the
// subscription fails.
func Deltas(ctx context.Context, client *journal.Client, handle DeltaHandler) error {
	sub, err := client.SubscribeDeltas(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			return fmt.Errorf("notification subscription failed: %w", err)
		case delta, ok := <-sub.Deltas():
			if !ok {
				return nil
			}
			if err := handle(delta); err != nil {
				return err
			}
		}
	}
}
