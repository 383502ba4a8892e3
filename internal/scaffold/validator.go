package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if drey.yml already exists.
// Returns an error if it does, nil otherwise
func CheckExisting() error {
	if _, err := os.Stat("drey.yml"); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: drey.yml\n\nUse 'drey init --force' to reinitialize (this will overwrite existing configuration)")
	}
	return nil
}
