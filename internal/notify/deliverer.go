// Package notify turns event-schema lifecycle declarations into
// deduplicated, actionable notification records. One generic projector
// interprets the creates/updates/resolves declaration on each schema; there
// is no per-event-type notification code.
package notify

import (
	"context"
	"log"

	"github.com/dyluth/drey/pkg/journal"
)

// Deliverer is the outbound delivery fanout. Rendering a delta to a human
// (push, telegram, chat) is out of scope for the core; implementations
// receive only the resulting created/updated/resolved delta.
type Deliverer interface {
	Deliver(ctx context.Context, delta *journal.NotificationDelta) error
}

// PubSubDeliverer publishes deltas to the instance's notification channel,
// where external transports and `drey watch` pick them up.
type PubSubDeliverer struct {
	client *journal.Client
}

// NewPubSubDeliverer creates a deliverer backed by the journal's Pub/Sub
// fanout channel.
func NewPubSubDeliverer(client *journal.Client) *PubSubDeliverer {
	return &PubSubDeliverer{client: client}
}

// Deliver implements Deliverer.
func (d *PubSubDeliverer) Deliver(ctx context.Context, delta *journal.NotificationDelta) error {
	return d.client.PublishDelta(ctx, delta)
}

// LogDeliverer writes deltas to the process log. Useful for development and
// as a fallback when no transport is configured.
type LogDeliverer struct{}

// Deliver implements Deliverer.
func (LogDeliverer) Deliver(_ context.Context, delta *journal.NotificationDelta) error {
	log.Printf("[Notify] %s: group=%s status=%s", delta.Kind, delta.Record.GroupKey, delta.Record.Status)
	return nil
}
