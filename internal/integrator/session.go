package integrator

import (
	"context"
	"fmt"
	"log"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	dockerpkg "github.com/dyluth/drey/internal/docker"
	"github.com/dyluth/drey/pkg/journal"
)

// SessionOptions configures integrator container spawning.
type SessionOptions struct {
	Image         string // Integrator image to run
	RedisURL      string // Redis URL reachable from inside the container
	RepoPath      string // Host path of the integration clone, mounted at /repo
	ConfigPath    string // Host path of drey.yml, mounted read-only
	NetworkName   string // Docker network to attach (default: instance network)
	RemoveStopped bool   // Remove an exited integrator before respawning
}

// DockerSessions spawns the integrator as an ephemeral container. If an
// integrator for the instance is already running it only publishes a wake;
// spawning is idempotent with respect to the singleton guarantee because the
// lease, not the container count, decides who actually drains.
type DockerSessions struct {
	dockerClient *client.Client
	journal      *journal.Client
	instanceName string
	opts         SessionOptions
}

// NewDockerSessions creates a Docker-backed integrator session manager.
func NewDockerSessions(dockerClient *client.Client, journalClient *journal.Client, instanceName string, opts SessionOptions) *DockerSessions {
	if opts.NetworkName == "" {
		opts.NetworkName = dockerpkg.NetworkName(instanceName)
	}
	return &DockerSessions{
		dockerClient: dockerClient,
		journal:      journalClient,
		instanceName: instanceName,
		opts:         opts,
	}
}

// SpawnOrWakeIntegrator implements readiness.Waker. A running integrator gets
// a wake signal; otherwise a fresh container is created and started.
func (s *DockerSessions) SpawnOrWakeIntegrator(ctx context.Context) error {
	existing, err := s.findIntegrator(ctx)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.State == "running" {
			log.Printf("[Sessions] Integrator already running for %s, waking", s.instanceName)
			return s.journal.PublishWake(ctx)
		}

		if !s.opts.RemoveStopped {
			return fmt.Errorf("integrator container %s exists in state %q; remove it or enable RemoveStopped", existing.ID[:12], existing.State)
		}
		if err := s.dockerClient.ContainerRemove(ctx, existing.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stopped integrator: %w", err)
		}
	}

	return s.spawn(ctx)
}

// findIntegrator locates this instance's integrator container, if any.
func (s *DockerSessions) findIntegrator(ctx context.Context) (*types.Container, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, s.instanceName))
	filter.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelComponent, dockerpkg.ComponentIntegrator))

	containers, err := s.dockerClient.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return nil, nil
	}
	return &containers[0], nil
}

// spawn creates and starts a new integrator container.
func (s *DockerSessions) spawn(ctx context.Context) error {
	containerName := dockerpkg.IntegratorContainerName(s.instanceName)
	sessionID := dockerpkg.GenerateSessionID()

	log.Printf("[Sessions] Spawning integrator %s (session %s)", containerName, sessionID)

	containerConfig := &container.Config{
		Image: s.opts.Image,
		Env: []string{
			fmt.Sprintf("DREY_INSTANCE_NAME=%s", s.instanceName),
			fmt.Sprintf("REDIS_URL=%s", s.opts.RedisURL),
			fmt.Sprintf("DREY_SESSION_ID=%s", sessionID),
			"DREY_CONFIG=/etc/drey/drey.yml",
			"DREY_REPO_PATH=/repo",
		},
		Labels: dockerpkg.BuildLabels(s.instanceName, sessionID, dockerpkg.ComponentIntegrator),
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(s.opts.NetworkName),
		AutoRemove:  false,
	}
	if s.opts.RepoPath != "" {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: s.opts.RepoPath,
			Target: "/repo",
		})
	}
	if s.opts.ConfigPath != "" {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   s.opts.ConfigPath,
			Target:   "/etc/drey/drey.yml",
			ReadOnly: true,
		})
	}

	resp, err := s.dockerClient.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create integrator container: %w", err)
	}

	if err := s.dockerClient.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		s.dockerClient.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return fmt.Errorf("failed to start integrator container: %w", err)
	}

	log.Printf("[Sessions] Integrator started: %s", resp.ID[:12])
	return nil
}

// PubSubWaker is the container-free readiness.Waker: it assumes an integrator
// daemon is already running (cmd/integrator) and only signals it.
type PubSubWaker struct {
	Client *journal.Client
}

// SpawnOrWakeIntegrator implements readiness.Waker.
func (w PubSubWaker) SpawnOrWakeIntegrator(ctx context.Context) error {
	return w.Client.PublishWake(ctx)
}
