package pipeline

import (
	"context"
	"time"

	"github.com/dyluth/drey/pkg/journal"
)

// DedupCartridge drops envelopes whose idempotency key has already been
// processed. It performs exactly one atomic insert-if-absent against the
// dedup store: the insert is simultaneously the duplicate check and the mark,
// so no read-then-write race window exists. It must be the first cartridge in
// the chain so side-effecting cartridges downstream run at most once per key.
type DedupCartridge struct {
	client *journal.Client
}

// NewDedupCartridge creates the dedup cartridge.
func NewDedupCartridge(client *journal.Client) *DedupCartridge {
	return &DedupCartridge{client: client}
}

// Name implements Cartridge.
func (d *DedupCartridge) Name() string { return "dedup" }

// Process inserts the dedup record. A duplicate is dropped silently - that is
// the normal no-op, not an error. Redelivery of the same log entry (crash
// before cursor commit) passes through: the record's offset matches the
// envelope's, and downstream cartridges are idempotent.
func (d *DedupCartridge) Process(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error) {
	inserted, err := d.client.InsertDedup(ctx, envelope.IdempotencyKey, &journal.DedupRecord{
		Offset:   envelope.Offset,
		SeenAtMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		return envelope, nil
	}

	record, err := d.client.GetDedup(ctx, envelope.IdempotencyKey)
	if err != nil {
		if journal.IsNotFound(err) {
			// Record vanished between the insert and the read; treat the
			// envelope as first delivery rather than dropping it.
			return envelope, nil
		}
		return nil, err
	}
	if record.Offset == envelope.Offset {
		return envelope, nil
	}
	return nil, nil
}
