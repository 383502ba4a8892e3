package pipeline

import (
	"context"

	"github.com/dyluth/drey/pkg/journal"
)

// Cartridge is a single processing step in the pipeline's fixed chain.
// Process returns the (possibly same) envelope to pass downstream, or nil to
// filter the event and halt the chain. Cartridges must be safe to re-run:
// the log delivers at least once, and a crash before the cursor commit
// redelivers the event.
type Cartridge interface {
	// Name identifies the cartridge in logs and dead-letter reasons.
	Name() string

	// Process handles one envelope. Returning (nil, nil) filters the event.
	Process(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error)
}

// CartridgeFunc adapts a plain function to the Cartridge interface.
type CartridgeFunc struct {
	CartridgeName string
	Fn            func(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error)
}

// Name implements Cartridge.
func (c CartridgeFunc) Name() string { return c.CartridgeName }

// Process implements Cartridge.
func (c CartridgeFunc) Process(ctx context.Context, envelope *journal.EventEnvelope) (*journal.EventEnvelope, error) {
	return c.Fn(ctx, envelope)
}
