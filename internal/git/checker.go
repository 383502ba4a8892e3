package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Checker provides Git repository validation functionality
type Checker struct{}

// NewChecker creates a new Git checker
func NewChecker() *Checker {
	return &Checker{}
}

// IsGitRepository checks if the current directory is within a Git repository
func (c *Checker) IsGitRepository() (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	err := cmd.Run()
	if err != nil {
		// Check if error is because git command not found
		if _, ok := err.(*exec.Error); ok {
			return false, fmt.Errorf("git not found in PATH\nDrey requires Git to be installed.\nInstall Git: https://git-scm.com/downloads")
		}
		// Not in a Git repository
		return false, nil
	}
	return true, nil
}

// GetGitRoot returns the absolute path to the Git repository root
func (c *Checker) GetGitRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get Git root: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// IsGitRoot checks if the current directory is the Git repository root
func (c *Checker) IsGitRoot() (bool, string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return false, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	gitRoot, err := c.GetGitRoot()
	if err != nil {
		return false, "", err
	}

	isRoot := filepath.Clean(currentDir) == filepath.Clean(gitRoot)
	return isRoot, gitRoot, nil
}

// HasRemote checks that the named remote is configured; the integrator can
// only push to a remote that exists.
func (c *Checker) HasRemote(remote string) (bool, error) {
	cmd := exec.Command("git", "remote", "get-url", remote)
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return false, fmt.Errorf("git not found in PATH")
		}
		return false, nil
	}
	return true, nil
}

// ValidateGitContext validates that we're in a Git repository at its root
// with the given remote configured.
// Returns a user-friendly error if validation fails
func (c *Checker) ValidateGitContext(remote string) error {
	isRepo, err := c.IsGitRepository()
	if err != nil {
		return err
	}
	if !isRepo {
		return fmt.Errorf("not a Git repository\n\nDrey coordinates merges into a Git integration branch.\n\nRun 'git init' first, then 'drey init'")
	}

	isRoot, gitRoot, err := c.IsGitRoot()
	if err != nil {
		return err
	}
	if !isRoot {
		return fmt.Errorf("not at the Git repository root\n\nRun 'drey init' from: %s", gitRoot)
	}

	hasRemote, err := c.HasRemote(remote)
	if err != nil {
		return err
	}
	if !hasRemote {
		return fmt.Errorf("remote %q is not configured\n\nThe integrator pushes the integration branch to this remote.\n\nAdd it with: git remote add %s <url>", remote, remote)
	}

	return nil
}
