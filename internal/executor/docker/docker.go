// Package docker runs the execution service as a local container.
//
// The launcher is optional: in production the service runs on its own and the
// server only needs its URL. For local development the server can start the
// image itself, publish its port on the loopback interface, wait until
// /api/health answers, and remove the container on shutdown.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the part of the Docker client the launcher uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Probe reports whether the service is ready. remote.Client.Health fits.
type Probe func(ctx context.Context) error

// Launcher owns one execution-service container.
type Launcher struct {
	cli         dockerAPI
	config      Config
	logger      *slog.Logger
	containerID string
}

// New connects to the Docker daemon configured in the environment.
func New(cfg Config, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newLauncher(cli, cfg, logger), nil
}

func newLauncher(cli dockerAPI, cfg Config, logger *slog.Logger) *Launcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Launcher{cli: cli, config: cfg, logger: logger}
}

// BaseURL is where the started service can be reached.
func (l *Launcher) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", l.config.HostPort)
}

// Start creates and starts the container, then blocks until ready passes or
// StartTimeout elapses. A container that never becomes healthy is removed.
func (l *Launcher) Start(ctx context.Context, ready Probe) error {
	if l.containerID != "" {
		return errors.New("docker: launcher already started")
	}

	if l.config.Pull {
		if err := l.pull(ctx); err != nil {
			return err
		}
	}

	port, err := nat.NewPort("tcp", strconv.Itoa(l.config.ContainerPort))
	if err != nil {
		return fmt.Errorf("invalid container port: %w", err)
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(l.config.HostPort)}},
		},
		Resources: container.Resources{
			Memory:   l.config.MemoryLimit,
			NanoCPUs: int64(l.config.CPULimit * 1e9),
		},
	}

	resp, err := l.cli.ContainerCreate(ctx, &container.Config{
		Image:        l.config.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Env: []string{
			"CODE_TIMEOUT=" + strconv.Itoa(int(l.config.CodeTimeout.Seconds())),
		},
	}, hostConfig, nil, nil, l.config.Name)
	if err != nil {
		return fmt.Errorf("ContainerCreate failed: %w", err)
	}
	l.containerID = resp.ID

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.remove()
		return fmt.Errorf("ContainerStart failed: %w", err)
	}
	l.logger.Info("execution service container started",
		slog.String("id", shortID(resp.ID)),
		slog.String("image", l.config.Image),
		slog.String("url", l.BaseURL()),
	)

	if err := l.waitReady(ctx, ready); err != nil {
		l.remove()
		return err
	}
	return nil
}

func (l *Launcher) pull(ctx context.Context) error {
	l.logger.Info("ensuring docker image is available", slog.String("image", l.config.Image))
	reader, err := l.cli.ImagePull(ctx, l.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// waitReady polls ready until it succeeds.
func (l *Launcher) waitReady(ctx context.Context, ready Probe) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, probeCancel := context.WithTimeout(ctx, l.config.PollInterval*4)
		lastErr = ready(probeCtx)
		probeCancel()
		if lastErr == nil {
			l.logger.Info("execution service is healthy")
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("execution service not healthy after %s: %w", l.config.StartTimeout, lastErr)
		}
	}
}

// Close removes the container, if any, and closes the Docker client.
func (l *Launcher) Close() error {
	l.remove()
	return l.cli.Close()
}

// remove force removes the container.
func (l *Launcher) remove() {
	if l.containerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := l.cli.ContainerRemove(ctx, l.containerID, container.RemoveOptions{Force: true})
	if err != nil {
		l.logger.Error("failed to remove container",
			slog.String("id", shortID(l.containerID)),
			slog.String("error", err.Error()),
		)
	} else {
		l.logger.Info("execution service container removed", slog.String("id", shortID(l.containerID)))
	}
	l.containerID = ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
