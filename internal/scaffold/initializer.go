package scaffold

import (
	"fmt"
	"os"

	"github.com/dyluth/drey/internal/config"
	"gopkg.in/yaml.v3"
)

const configHeader = `# drey.yml - workflow coordination configuration
#
# required_conditions is the full set a candidate must satisfy before it is
# READY to merge. Each trigger maps an event type from the catalog to the
# condition it satisfies. Every required condition needs at least one trigger.
`

// Initialize creates the Drey project configuration in the current directory.
// If force is true, an existing drey.yml is overwritten.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := renderDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile("drey.yml", content, 0644); err != nil {
		return fmt.Errorf("failed to write drey.yml: %w", err)
	}

	return validateCreatedConfig()
}

// handleForce removes the existing config if --force was specified
func handleForce() error {
	if _, err := os.Stat("drey.yml"); err == nil {
		fmt.Println("⚠️  Removing existing drey.yml...")
		if err := os.Remove("drey.yml"); err != nil {
			return fmt.Errorf("failed to remove drey.yml: %w", err)
		}
	}
	return nil
}

// renderDefaultConfig marshals the default workflow configuration with an
// explanatory header.
func renderDefaultConfig() ([]byte, error) {
	body, err := yaml.Marshal(config.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to render default configuration: %w", err)
	}
	return append([]byte(configHeader), body...), nil
}

// validateCreatedConfig round-trips the file through the strict loader so a
// scaffolding bug can never produce a config that drey itself rejects.
func validateCreatedConfig() error {
	if _, err := config.Load("drey.yml"); err != nil {
		return fmt.Errorf("created drey.yml failed validation: %w", err)
	}
	return nil
}

// PrintSuccess prints the success message with next steps
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Drey project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ drey.yml")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust required_conditions and triggers for your workflow")
	fmt.Println("  2. Start the pipeline: drey-pipeline (or your deployment of it)")
	fmt.Println("  3. Emit events: drey emit --type <event-type> --field k=v")
}
