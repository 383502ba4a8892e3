package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/watch"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	watchInstanceName  string
	watchFromStart     bool
	watchLevels        []string
	watchNotifications bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow events or notifications live",
	Long: `Follow the instance's event log (or notification fanout) until interrupted.

Watching is read-only: it never commits a cursor, so running pipelines are
unaffected.

Examples:
  # Follow new events as workers emit them
  drey watch

  # Replay everything, then follow, hiding debug noise
  drey watch --from-start --level workflow --level business

  # Follow notification lifecycle changes instead of raw events
  drey watch --notifications`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Target instance name (defaults to DREY_INSTANCE_NAME)")
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "Replay the full log before following the tail")
	watchCmd.Flags().StringArrayVarP(&watchLevels, "level", "l", nil, "Only show these levels (repeatable)")
	watchCmd.Flags().BoolVar(&watchNotifications, "notifications", false, "Follow the notification fanout instead of raw events")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newJournalClient(resolveInstance(watchInstanceName))
	if err != nil {
		return err
	}
	defer client.Close()

	if watchNotifications {
		printer.Step("Watching notifications (Ctrl-C to stop)\n")
		return watch.Deltas(ctx, client, printDelta)
	}

	levels := make([]journal.Level, 0, len(watchLevels))
	for _, raw := range watchLevels {
		level := journal.Level(raw)
		if err := level.Validate(); err != nil {
			return printer.Error(
				"invalid level",
				err.Error(),
				[]string{"Valid levels: debug, workflow, business"},
			)
		}
		levels = append(levels, level)
	}

	printer.Step("Watching events (Ctrl-C to stop)\n")
	watcher := watch.NewWatcher(client, watch.Options{
		FromStart: watchFromStart,
		Levels:    levels,
	})
	return watcher.Run(ctx, printEvent)
}

func printEvent(e *journal.EventEnvelope) error {
	printer.Dim("%s %s ", time.UnixMilli(e.EmittedAtMs).UTC().Format("15:04:05"), e.Offset)
	printer.Printf("%s", e.EventType)
	printer.Dim(" [%s, %s]\n", e.Level, e.Source)
	for key, value := range e.Payload {
		printer.Dim("    %s: %s\n", key, value)
	}
	return nil
}

func printDelta(delta *journal.NotificationDelta) error {
	printer.Printf("%s  %s ", delta.Record.GroupKey, printer.NotificationStatus(delta.Record.Status))
	printer.Dim("(%s)\n", delta.Kind)
	return nil
}
