package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/pkg/journal"
)

// Waker wakes or spawns the integrator runtime when candidates become ready.
// The session-orchestration mechanics (containers, tmux, whatever hosts the
// integrator) live behind this interface.
type Waker interface {
	SpawnOrWakeIntegrator(ctx context.Context) error
}

// TriggerCartridge feeds the readiness projection and performs the READY
// transition's side effects: enqueueing the candidate and waking the
// integrator. Enqueue uses ZADD NX plus the candidate state guard, so
// replayed or duplicated condition events can never enqueue twice.
type TriggerCartridge struct {
	client     *journal.Client
	projection *Projection
	waker      Waker
}

// NewTriggerCartridge creates the trigger cartridge. waker may be nil when no
// session orchestration is available (the integrator then drains on its own
// schedule).
func NewTriggerCartridge(client *journal.Client, projection *Projection, waker Waker) *TriggerCartridge {
	return &TriggerCartridge{client: client, projection: projection, waker: waker}
}

// Name implements pipeline.Cartridge.
func (t *TriggerCartridge) Name() string { return "readiness-trigger" }

// Process applies the event to the projection; on the first full satisfaction
// of the required condition set it enqueues the candidate and wakes the
// integrator if none holds the lease. The envelope always passes through so
// the notification projector downstream sees every event.
func (t *TriggerCartridge) Process(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error) {
	outcome := t.projection.Apply(envelope, time.Now().UnixMilli())
	if !outcome.BecameReady {
		return envelope, nil
	}

	added, err := t.client.Enqueue(ctx, &journal.QueueEntry{
		Ref:       outcome.Ref,
		ReadyAtMs: outcome.ReadyAtMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue candidate %s: %w", outcome.Ref.Slug, err)
	}
	t.projection.MarkQueued(outcome.Ref.Slug)

	t.logEvent("candidate_ready", map[string]interface{}{
		"slug":        outcome.Ref.Slug,
		"branch":      outcome.Ref.Branch,
		"sha":         outcome.Ref.SHA,
		"newly_added": added,
	})

	t.wakeIfIdle(ctx)
	return envelope, nil
}

// wakeIfIdle spawns or wakes the integrator unless one already holds the
// lease. Best effort: a missed wake only delays the drain.
func (t *TriggerCartridge) wakeIfIdle(ctx context.Context) {
	if t.waker == nil {
		return
	}

	held, err := t.client.LeaseHeld(ctx)
	if err != nil {
		log.Printf("[Readiness] Failed to check lease before wake: %v", err)
		return
	}
	if held {
		return
	}

	if err := t.waker.SpawnOrWakeIntegrator(ctx); err != nil {
		log.Printf("[Readiness] Failed to spawn/wake integrator: %v", err)
	}
}

// logEvent logs a structured event in JSON format.
func (t *TriggerCartridge) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "readiness"
	data["event_type"] = eventType
	data["instance"] = t.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Readiness] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
