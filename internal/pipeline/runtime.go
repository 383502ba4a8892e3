package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/pkg/journal"
)

// AlertFunc is the side channel fired when an event is dead-lettered.
type AlertFunc func(envelope *journal.EventEnvelope, err error)

// Snapshotter persists derived state periodically so restarts replay only the
// log tail. The readiness projection implements this.
type Snapshotter interface {
	Snapshot(ctx context.Context, cursor string) error
}

// Settings tunes the pipeline runtime. Zero values take defaults.
type Settings struct {
	PollInterval  time.Duration // Log poll cadence (default 200ms)
	MaxAttempts   int           // Cartridge attempts before dead-lettering (default 5)
	BaseBackoff   time.Duration // First retry delay, doubled per attempt (default 100ms)
	SnapshotEvery int           // Events between snapshots; 0 disables unless a Snapshotter is set (then 50)
	BatchSize     int64         // Max events per log read (default 64)
}

func (s *Settings) applyDefaults() {
	if s.PollInterval <= 0 {
		s.PollInterval = 200 * time.Millisecond
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 5
	}
	if s.BaseBackoff <= 0 {
		s.BaseBackoff = 100 * time.Millisecond
	}
	if s.SnapshotEvery <= 0 {
		s.SnapshotEvery = 50
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 64
	}
}

// Runtime is the single ordered consumer of the durable log. It threads each
// event through a fixed cartridge chain (dedup first) and commits its read
// cursor only after the full chain completes, so a crash redelivers the
// in-flight event instead of losing it.
type Runtime struct {
	client      *journal.Client
	consumer    string
	cartridges  []Cartridge
	settings    Settings
	alert       AlertFunc
	snapshotter Snapshotter

	processedSinceSnapshot int
}

// NewRuntime creates a pipeline runtime for the given consumer name.
// The cartridge chain order is fixed at construction; by convention the dedup
// cartridge comes first and the notification projector last.
func NewRuntime(client *journal.Client, consumer string, cartridges []Cartridge, settings Settings) (*Runtime, error) {
	if consumer == "" {
		return nil, fmt.Errorf("consumer name cannot be empty")
	}
	if len(cartridges) == 0 {
		return nil, fmt.Errorf("cartridge chain cannot be empty")
	}
	settings.applyDefaults()

	return &Runtime{
		client:     client,
		consumer:   consumer,
		cartridges: cartridges,
		settings:   settings,
		alert: func(envelope *journal.EventEnvelope, err error) {
			log.Printf("[Pipeline] ALERT: event %s dead-lettered: %v", envelope.Offset, err)
		},
	}, nil
}

// SetAlertFunc replaces the default dead-letter alert side channel.
func (r *Runtime) SetAlertFunc(alert AlertFunc) {
	if alert != nil {
		r.alert = alert
	}
}

// SetSnapshotter enables periodic snapshots of derived state.
func (r *Runtime) SetSnapshotter(s Snapshotter) {
	r.snapshotter = s
}

// Run starts the consumer loop and blocks until the context is cancelled.
// Events are read in strict offset order after the committed cursor.
func (r *Runtime) Run(ctx context.Context) error {
	cursor, err := r.client.GetCursor(ctx, r.consumer)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	r.logEvent("pipeline_started", map[string]interface{}{
		"consumer": r.consumer,
		"cursor":   cursor,
		"chain":    r.chainNames(),
	})

	ticker := time.NewTicker(r.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logEvent("pipeline_stopped", map[string]interface{}{"cursor": cursor})
			return nil
		case <-ticker.C:
		}

		for {
			envelopes, err := r.client.ReadEventsAfter(ctx, cursor, r.settings.BatchSize)
			if err != nil {
				// Store unavailability: fail loudly, retry on the next tick
				log.Printf("[Pipeline] Error reading log after %s: %v", cursor, err)
				break
			}
			if len(envelopes) == 0 {
				break
			}

			for _, envelope := range envelopes {
				if ctx.Err() != nil {
					return nil
				}

				r.processEvent(ctx, envelope)

				if err := r.client.CommitCursor(ctx, r.consumer, envelope.Offset); err != nil {
					// Without a committed cursor the event would replay; stop
					// here rather than racing ahead of durable progress.
					return fmt.Errorf("failed to commit cursor at %s: %w", envelope.Offset, err)
				}
				cursor = envelope.Offset

				r.maybeSnapshot(ctx, cursor)
			}
		}
	}
}

// processEvent threads one envelope through the chain. Each cartridge gets
// bounded retries with exponential backoff; exhaustion dead-letters the event
// and the cursor still advances. A poisoned event must never stall the
// pipeline.
func (r *Runtime) processEvent(ctx context.Context, envelope *journal.EventEnvelope) {
	current := envelope

	for _, cartridge := range r.cartridges {
		next, err := r.processWithRetry(ctx, cartridge, current)
		if err != nil {
			reason := fmt.Sprintf("cartridge %s: %v", cartridge.Name(), err)
			if dlErr := r.client.DeadLetter(ctx, envelope, reason); dlErr != nil {
				log.Printf("[Pipeline] Failed to dead-letter event %s: %v", envelope.Offset, dlErr)
			}
			r.alert(envelope, err)
			r.logEvent("event_dead_lettered", map[string]interface{}{
				"offset":     envelope.Offset,
				"event_type": envelope.EventType,
				"cartridge":  cartridge.Name(),
				"reason":     err.Error(),
			})
			return
		}
		if next == nil {
			// Filtered (e.g. duplicate dropped by dedup) - normal outcome
			r.logEvent("event_filtered", map[string]interface{}{
				"offset":     envelope.Offset,
				"event_type": envelope.EventType,
				"cartridge":  cartridge.Name(),
			})
			return
		}
		current = next
	}
}

// processWithRetry runs a single cartridge with bounded exponential backoff.
// Retrying at cartridge granularity, not whole-chain, so the dedup mark from
// a completed earlier cartridge cannot swallow the event mid-flight.
func (r *Runtime) processWithRetry(ctx context.Context, cartridge Cartridge, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error) {
	backoff := r.settings.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= r.settings.MaxAttempts; attempt++ {
		next, err := cartridge.Process(ctx, envelope)
		if err == nil {
			return next, nil
		}
		lastErr = err

		log.Printf("[Pipeline] Cartridge %s attempt %d/%d failed for event %s: %v",
			cartridge.Name(), attempt, r.settings.MaxAttempts, envelope.Offset, err)

		if attempt == r.settings.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled during retry: %w", lastErr)
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("exhausted %d attempts: %w", r.settings.MaxAttempts, lastErr)
}

func (r *Runtime) maybeSnapshot(ctx context.Context, cursor string) {
	if r.snapshotter == nil {
		return
	}
	r.processedSinceSnapshot++
	if r.processedSinceSnapshot < r.settings.SnapshotEvery {
		return
	}
	r.processedSinceSnapshot = 0

	if err := r.snapshotter.Snapshot(ctx, cursor); err != nil {
		// Snapshots only shorten replay; failure is not fatal
		log.Printf("[Pipeline] Snapshot at %s failed: %v", cursor, err)
	}
}

func (r *Runtime) chainNames() []string {
	names := make([]string, len(r.cartridges))
	for i, c := range r.cartridges {
		names[i] = c.Name()
	}
	return names
}

// logEvent logs a structured event in JSON format.
func (r *Runtime) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "pipeline"
	data["event_type"] = eventType
	data["instance"] = r.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
