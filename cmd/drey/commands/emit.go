package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	emitInstanceName string
	emitEventType    string
	emitFields       []string
	emitSource       string
	emitLevel        string
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Append an event to the durable log",
	Long: `Append an event to the instance's durable event log.

The event type must be registered in the catalog; its declared idempotency
fields must all be present among the --field values. The assigned offset and
the computed idempotency key are printed on success.

Examples:
  # A review approval for candidate payments-retry
  drey emit --type domain.software-development.review.approved \
    --field slug=payments-retry --field review_round=2

  # A deployment start carrying the merge candidate
  drey emit --type domain.software-development.deployment.started \
    --field slug=payments-retry --field branch=feat/payments-retry \
    --field sha=4f2c91d`,
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringVarP(&emitInstanceName, "name", "n", "", "Target instance name (defaults to DREY_INSTANCE_NAME)")
	emitCmd.Flags().StringVarP(&emitEventType, "type", "t", "", "Event type from the catalog (required)")
	emitCmd.Flags().StringArrayVarP(&emitFields, "field", "f", nil, "Payload field as key=value (repeatable)")
	emitCmd.Flags().StringVar(&emitSource, "source", "cli", "Producer identity recorded on the envelope")
	emitCmd.Flags().StringVar(&emitLevel, "level", "", "Override the schema's significance level (debug, workflow, business)")
	emitCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	payload, err := parseFields(emitFields)
	if err != nil {
		return err
	}

	client, err := newJournalClient(resolveInstance(emitInstanceName))
	if err != nil {
		return err
	}
	defer client.Close()

	producer := journal.NewProducer(journal.DefaultCatalog(), client)

	var opts []journal.EmitOption
	if emitLevel != "" {
		level := journal.Level(emitLevel)
		if err := level.Validate(); err != nil {
			return printer.Error(
				"invalid level",
				err.Error(),
				[]string{"Valid levels: debug, workflow, business"},
			)
		}
		opts = append(opts, journal.WithLevel(level))
	}

	envelope, err := producer.Emit(ctx, emitEventType, payload, emitSource, opts...)
	if err != nil {
		return fmt.Errorf("failed to emit event: %w", err)
	}

	printer.Success("Event appended\n")
	printer.Printf("  type:   %s\n", envelope.EventType)
	printer.Printf("  offset: %s\n", envelope.Offset)
	printer.Printf("  key:    %s\n", envelope.IdempotencyKey)
	return nil
}

// parseFields turns repeated key=value flags into a payload map.
func parseFields(fields []string) (map[string]string, error) {
	payload := make(map[string]string, len(fields))
	for _, field := range fields {
		key, value, found := strings.Cut(field, "=")
		if !found || key == "" {
			return nil, printer.Error(
				"invalid field",
				fmt.Sprintf("Field %q is not in key=value form.", field),
				[]string{"Pass payload fields as --field key=value"},
			)
		}
		payload[key] = value
	}
	return payload, nil
}
