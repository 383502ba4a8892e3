package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/drey/pkg/journal"
	"github.com/redis/go-redis/v9"
)

const defaultRedisURL = "redis://localhost:6379"

// resolveInstance picks the target instance: flag first, then environment,
// then the literal default.
func resolveInstance(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("DREY_INSTANCE_NAME"); env != "" {
		return env
	}
	return "default"
}

// newJournalClient connects to the instance's Redis. The URL comes from
// REDIS_URL or falls back to localhost.
func newJournalClient(instanceName string) (*journal.Client, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL %q: %w", redisURL, err)
	}

	return journal.NewClient(redisOpts, instanceName)
}
