package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	notificationsInstanceName string
	notificationsAll          bool
	notificationsOutput       string
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List notification records",
	Long: `List the instance's notification records.

By default only open records are shown (unseen first). Resolved records are
included with --all.

Output Formats:
  default - Human-readable list with status coloring
  json    - JSON array of complete records

Examples:
  # Open notifications for the inferred instance
  drey notifications

  # Everything, machine-readable
  drey notifications --all --output=json | jq '.[].group_key'`,
	RunE: runNotifications,
}

func init() {
	notificationsCmd.Flags().StringVarP(&notificationsInstanceName, "name", "n", "", "Target instance name (defaults to DREY_INSTANCE_NAME)")
	notificationsCmd.Flags().BoolVarP(&notificationsAll, "all", "a", false, "Include resolved records")
	notificationsCmd.Flags().StringVarP(&notificationsOutput, "output", "o", "default", "Output format: default or json")
	rootCmd.AddCommand(notificationsCmd)
}

func runNotifications(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if notificationsOutput != "default" && notificationsOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", notificationsOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	client, err := newJournalClient(resolveInstance(notificationsInstanceName))
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.ListNotifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}

	if !notificationsAll {
		open := records[:0]
		for _, record := range records {
			if record.Open() {
				open = append(open, record)
			}
		}
		records = open
	}

	// Unseen first, then most recently touched
	sort.Slice(records, func(i, j int) bool {
		iUnseen := records[i].Status == journal.NotificationUnseen
		jUnseen := records[j].Status == journal.NotificationUnseen
		if iUnseen != jUnseen {
			return iUnseen
		}
		return records[i].UpdatedAtMs > records[j].UpdatedAtMs
	})

	if notificationsOutput == "json" {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal notifications: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	if len(records) == 0 {
		printer.Println("No notifications.")
		return nil
	}

	for _, record := range records {
		printer.Printf("%s  %s\n", printer.NotificationStatus(record.Status), record.GroupKey)
		printer.Dim("    updated %s\n", time.UnixMilli(record.UpdatedAtMs).UTC().Format(time.RFC3339))
		for key, value := range record.LastMeaningful {
			printer.Dim("    %s: %s\n", key, value)
		}
	}
	return nil
}
