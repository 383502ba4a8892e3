package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/readiness"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	statusInstanceName string
	statusConfigPath   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordination state for an instance",
	Long: `Show the current coordination state: integration lease, queue contents,
merge candidates, and dead-letter backlog.

Candidate state is derived read-only by replaying the event log against the
workflow configuration; running pipelines are not disturbed.

Examples:
  # Status of the inferred instance
  drey status

  # Status of a named instance with an explicit config
  drey status --name prod --config ./drey.yml`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusInstanceName, "name", "n", "", "Target instance name (defaults to DREY_INSTANCE_NAME)")
	statusCmd.Flags().StringVarP(&statusConfigPath, "config", "c", "drey.yml", "Path to workflow configuration")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	instanceName := resolveInstance(statusInstanceName)

	client, err := newJournalClient(instanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.Error(
			"Redis not accessible",
			err.Error(),
			[]string{"Check REDIS_URL and that the instance's Redis is running"},
		)
	}

	printer.Printf("Instance: %s\n\n", instanceName)

	if err := printLease(ctx, client); err != nil {
		return err
	}
	if err := printQueue(ctx, client); err != nil {
		return err
	}
	if err := printCandidates(ctx, client); err != nil {
		return err
	}
	return printDeadLetters(ctx, client)
}

func printLease(ctx context.Context, client *journal.Client) error {
	lease, err := client.CurrentLease(ctx)
	if journal.IsNotFound(err) {
		printer.Printf("Lease:    (free)\n")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lease: %w", err)
	}
	printer.Printf("Lease:    held by %s (token %d)\n", lease.HolderID, lease.Token)
	return nil
}

func printQueue(ctx context.Context, client *journal.Client) error {
	entries, err := client.QueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	printer.Printf("Queue:    %d waiting\n", len(entries))
	for i, entry := range entries {
		readyAt := time.UnixMilli(entry.ReadyAtMs).UTC().Format(time.RFC3339)
		printer.Printf("  %d. %s ", i+1, entry.Ref.Slug)
		printer.Dim("(%s @ %s, ready %s)\n", entry.Ref.Branch, shortSHA(entry.Ref.SHA), readyAt)
	}
	return nil
}

// printCandidates rebuilds the readiness projection read-only and lists the
// candidates it knows about. Without a config file the section is skipped:
// the projection's trigger rules live in drey.yml.
func printCandidates(ctx context.Context, client *journal.Client) error {
	cfg, err := config.Load(statusConfigPath)
	if err != nil {
		printer.Dim("Candidates: (no workflow config at %s, skipping)\n", statusConfigPath)
		return nil
	}

	rules := make(map[string]string, len(cfg.Workflow.Triggers))
	for _, trigger := range cfg.Workflow.Triggers {
		rules[trigger.EventType] = trigger.Condition
	}

	projection, err := readiness.NewProjection(cfg.Workflow.RequiredConditions, rules)
	if err != nil {
		return fmt.Errorf("invalid workflow config: %w", err)
	}
	if _, err := readiness.Replay(ctx, client, projection); err != nil {
		return fmt.Errorf("failed to replay log: %w", err)
	}

	candidates := projection.Candidates()
	printer.Printf("Candidates: %d known\n", len(candidates))
	for _, candidate := range candidates {
		printer.Printf("  %-24s %s ", candidate.Ref.Slug, printer.CandidateState(candidate.State))
		printer.Dim("(%d/%d conditions)\n", satisfiedCount(candidate.Conditions), len(cfg.Workflow.RequiredConditions))
	}
	return nil
}

func printDeadLetters(ctx context.Context, client *journal.Client) error {
	count, err := client.DeadLetterCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dead-letter stream: %w", err)
	}

	if count > 0 {
		printer.Warning("Dead letters: %d (inspect before they pile up)\n", count)
	} else {
		printer.Printf("Dead letters: 0\n")
	}
	return nil
}

func satisfiedCount(conditions map[string]bool) int {
	n := 0
	for _, satisfied := range conditions {
		if satisfied {
			n++
		}
	}
	return n
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "?"
	}
	return sha
}
