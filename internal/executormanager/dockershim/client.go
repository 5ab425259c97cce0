// Package dockershim adapts the three-call shim.Shim contract onto a
// Docker container, so an application can name shim "docker" and have
// the Executor Manager run its process in an isolated container instead
// of the in-process log adapter.
package dockershim

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/flame-sh/flame/internal/flame/config"
	"github.com/flame-sh/flame/internal/flame/logger"
)

// Client wraps the Docker SDK with the container lifecycle calls a shim
// needs: create, start, exec-for-task, remove.
type Client struct {
	cli *client.Client
	log *logger.Logger
}

// NewClient builds a Client against the daemon described by cfg.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{cli: cli, log: log}, nil
}

// Close releases the underlying Docker client's connections.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ContainerConfig describes the container backing one executor session.
type ContainerConfig struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	Labels     map[string]string
}

// CreateContainer creates (without starting) a container for cfg.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		Labels:     cfg.Labels,
		OpenStdin:  true,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{AutoRemove: false}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}
	c.log.Info("container created", zap.String("id", resp.ID), zap.String("name", cfg.Name))
	return resp.ID, nil
}

// StartContainer starts a previously created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

// ExecTask runs argv inside containerID, feeding input on stdin and
// returning everything written to stdout before the exec exits.
func (c *Client) ExecTask(ctx context.Context, containerID string, argv []string, input []byte) ([]byte, error) {
	exec, err := c.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec in %s: %w", containerID, err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec in %s: %w", containerID, err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write(input); err != nil {
		return nil, fmt.Errorf("write task input to %s: %w", containerID, err)
	}
	attach.CloseWrite()

	output, err := io.ReadAll(attach.Reader)
	if err != nil {
		return nil, fmt.Errorf("read exec output from %s: %w", containerID, err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return output, fmt.Errorf("inspect exec in %s: %w", containerID, err)
	}
	if inspect.ExitCode != 0 {
		return output, fmt.Errorf("task exec in %s exited %d", containerID, inspect.ExitCode)
	}
	return output, nil
}

// RemoveContainer force-removes containerID.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}
