package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// NewClient connects to the Docker daemon and verifies it answers. Drey only
// needs Docker when the pipeline spawns integrator session containers, so a
// missing daemon is reported with that context rather than treated as fatal
// by callers.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("Docker daemon not accessible (required for spawning integrator sessions): %w", err)
	}

	return cli, nil
}
