package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerManager runs the document store as a local Docker container for
// development and single-node deployments.
type DockerManager struct {
	containerName string
	image         string
	port          string
	logger        *slog.Logger
}

// NewDockerManager creates a manager for the store container.
func NewDockerManager(containerName, img, port string, logger *slog.Logger) *DockerManager {
	return &DockerManager{
		containerName: containerName,
		image:         img,
		port:          port,
		logger:        logger,
	}
}

// URL returns the store's HTTP endpoint.
func (dm *DockerManager) URL() string {
	return fmt.Sprintf("http://localhost:%s", dm.port)
}

// Start ensures the container is running, pulling the image if needed,
// then waits for the store to answer its health check.
func (dm *DockerManager) Start(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	existing, err := dm.findContainer(ctx, cli)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.State == "running" {
			dm.logger.Info("store container already running", "container", dm.containerName)
			return dm.waitForReady(ctx)
		}
		dm.logger.Info("starting existing store container", "container", dm.containerName)
		if err := cli.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
		return dm.waitForReady(ctx)
	}

	dm.logger.Info("pulling store image", "image", dm.image)
	pull, err := cli.ImagePull(ctx, dm.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	if err := drainAndClose(pull); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	portSpec := nat.Port("9181/tcp")
	resp, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image: dm.image,
			Cmd:   []string{"start", "--no-keyring"},
			ExposedPorts: nat.PortSet{
				portSpec: struct{}{},
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				portSpec: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: dm.port}},
			},
			RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		},
		nil, nil, dm.containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	dm.logger.Info("starting store container", "container", dm.containerName, "port", dm.port)
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	return dm.waitForReady(ctx)
}

// Stop stops the container if it is running.
func (dm *DockerManager) Stop(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	existing, err := dm.findContainer(ctx, cli)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	timeout := 10
	if err := cli.ContainerStop(ctx, existing.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	dm.logger.Info("store container stopped", "container", dm.containerName)
	return nil
}

// Status returns the container state ("running", "exited", ...) or
// "not found" when no container exists.
func (dm *DockerManager) Status(ctx context.Context) (string, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	existing, err := dm.findContainer(ctx, cli)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "not found", nil
	}
	return existing.State, nil
}

func (dm *DockerManager) findContainer(ctx context.Context, cli *client.Client) (*container.Summary, error) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range containers {
		for _, name := range c.Names {
			if name == "/"+dm.containerName {
				return &c, nil
			}
		}
	}
	return nil, nil
}

// drainAndClose consumes the pull progress stream so the pull completes.
func drainAndClose(r io.ReadCloser) error {
	_, err := io.Copy(io.Discard, r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	return err
}

// waitForReady polls the store health endpoint until it answers.
func (dm *DockerManager) waitForReady(ctx context.Context) error {
	sc := NewClient(dm.URL())
	err := retry.Do(
		func() error {
			return sc.HealthCheck(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		return fmt.Errorf("store did not become ready: %w", err)
	}
	dm.logger.Info("store ready", "url", dm.URL())
	return nil
}
