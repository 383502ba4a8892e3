package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/internal/integrator"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("DREY_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")
	configPath := os.Getenv("DREY_CONFIG")
	if configPath == "" {
		configPath = "drey.yml"
	}
	repoPath := os.Getenv("DREY_REPO_PATH")
	if repoPath == "" {
		repoPath = "/repo"
	}

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: DREY_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create journal client
	journalClient, err := journal.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create journal client: %v\n", err)
		os.Exit(1)
	}
	defer journalClient.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := journalClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Load drey.yml for integrator settings
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	fmt.Printf("Integrator starting for instance '%s' (merging into %s/%s)\n",
		instanceName, cfg.Integrator.Remote, cfg.Integrator.MainBranch)

	// 6. Assemble the runtime over the integration clone
	repo := git.NewRepo(repoPath, cfg.Integrator.Remote, cfg.Integrator.MainBranch)
	producer := journal.NewProducer(journal.DefaultCatalog(), journalClient)

	runtime := integrator.NewRuntime(journalClient, producer, repo, integrator.Options{
		LeaseTTL: cfg.LeaseTTL(),
	})

	// 7. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 8. Run. A spawned session (DREY_SESSION_ID set) drains once and exits;
	// a long-lived deployment serves wake signals until stopped.
	errCh := make(chan error, 1)
	oneShot := os.Getenv("DREY_SESSION_ID") != ""
	go func() {
		if oneShot {
			errCh <- runtime.Run(runCtx)
		} else {
			errCh <- runtime.Serve(runCtx)
		}
	}()

	// 9. Wait for shutdown signal or completion
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Integrator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Integrator stopped")
}
