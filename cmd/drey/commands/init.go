package commands

import (
	"fmt"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Drey project",
	Long: `Initialize a new Drey project with a default workflow configuration.

Creates:
  • drey.yml - Workflow configuration (required conditions and event triggers)

This command must be run from the root of a Git repository with the
integration remote configured, since the integrator merges into it.

Use --force to reinitialize an existing project (WARNING: overwrites existing configuration).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialization (overwrites existing drey.yml)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// Validate Git context first
	checker := git.NewChecker()
	if err := checker.ValidateGitContext(config.DefaultRemote); err != nil {
		return err
	}

	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}
