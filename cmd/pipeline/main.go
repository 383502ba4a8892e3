package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/client"
	"github.com/dyluth/drey/internal/config"
	dockerpkg "github.com/dyluth/drey/internal/docker"
	"github.com/dyluth/drey/internal/integrator"
	"github.com/dyluth/drey/internal/notify"
	"github.com/dyluth/drey/internal/pipeline"
	"github.com/dyluth/drey/internal/readiness"
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

	// 5. Load drey.yml workflow configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	fmt.Printf("Pipeline starting for instance '%s' with %d required conditions\n",
		instanceName, len(cfg.Workflow.RequiredConditions))

	// 6. Build the readiness projection and catch it up from durable state
	rules := make(map[string]string, len(cfg.Workflow.Triggers))
	for _, trigger := range cfg.Workflow.Triggers {
		rules[trigger.EventType] = trigger.Condition
	}

	projection, err := readiness.NewProjection(cfg.Workflow.RequiredConditions, rules)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid workflow configuration: %v\n", err)
		os.Exit(1)
	}

	cursor, err := readiness.Rebuild(ctx, journalClient, projection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to rebuild projection: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Projection caught up to offset '%s'\n", cursor)

	// 7. Pick the integrator waker: spawn containers when Docker and an
	// image are available, otherwise fall back to pub/sub wake only
	var waker readiness.Waker = integrator.PubSubWaker{Client: journalClient}
	var dockerClient *client.Client
	if cfg.Integrator.Image != "" {
		dockerClient, err = dockerpkg.NewClient(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (integrator spawning disabled)\n", err)
		} else {
			waker = integrator.NewDockerSessions(dockerClient, journalClient, instanceName, integrator.SessionOptions{
				Image:         cfg.Integrator.Image,
				RedisURL:      redisURL,
				RepoPath:      os.Getenv("DREY_REPO_PATH"),
				ConfigPath:    configPath,
				NetworkName:   dockerpkg.NetworkName(instanceName),
				RemoveStopped: true,
			})
			fmt.Println("Docker client initialized for integrator spawning")
		}
	}

	// 8. Assemble the cartridge chain: dedup first, notifications last
	catalog := journal.DefaultCatalog()
	cartridges := []pipeline.Cartridge{
		pipeline.NewDedupCartridge(journalClient),
		readiness.NewTriggerCartridge(journalClient, projection, waker),
		notify.NewProjector(journalClient, catalog, notify.NewPubSubDeliverer(journalClient)),
	}

	runtime, err := pipeline.NewRuntime(journalClient, "pipeline", cartridges, pipeline.Settings{
		PollInterval:  cfg.PollInterval(),
		MaxAttempts:   cfg.Pipeline.MaxAttempts,
		BaseBackoff:   cfg.BaseBackoff(),
		SnapshotEvery: cfg.Pipeline.SnapshotEvery,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create pipeline runtime: %v\n", err)
		os.Exit(1)
	}
	runtime.SetSnapshotter(readiness.NewSnapshotWriter(journalClient, projection))

	// 9. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 10. Start pipeline in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- runtime.Run(runCtx)
	}()

	// 11. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Pipeline error: %v\n", runErr)
			os.Exit(1)
		}
	}

	if dockerClient != nil {
		dockerClient.Close()
	}

	fmt.Println("Pipeline stopped")
}
