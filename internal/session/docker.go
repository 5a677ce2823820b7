package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// Container labels set on every session container.
const (
	LabelRun      = "dante-sweep.run"
	LabelSession  = "dante-sweep.session"
	LabelResource = "dante-sweep.resource"
)

// dockerAPI is the part of the docker client the launcher uses.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// DockerLauncher runs each session as a detached container.
type DockerLauncher struct {
	logger *zap.Logger
	cli    dockerAPI
	cfg    config.DockerSettings
	shell  string
}

// NewDockerLauncher connects to the docker daemon from the environment, or to
// cfg.Docker.Endpoint when set.
func NewDockerLauncher(cfg *config.SessionSettings, logger *zap.Logger) (*DockerLauncher, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Docker.Endpoint != "" {
		opts = append(opts, client.WithHost(cfg.Docker.Endpoint))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create docker client: %v", models.ErrLaunch, err)
	}
	return newDockerLauncher(cfg, cli, logger), nil
}

func newDockerLauncher(cfg *config.SessionSettings, cli dockerAPI, logger *zap.Logger) *DockerLauncher {
	shell := cfg.Shell
	if shell == "" {
		shell = "bash"
	}
	return &DockerLauncher{logger: logger, cli: cli, cfg: cfg.Docker, shell: shell}
}

func (d *DockerLauncher) Backend() string { return config.BackendDocker }

func (d *DockerLauncher) Close() error { return d.cli.Close() }

// Create creates and starts a container named after the session. The
// session's working directory is bind-mounted at the configured work dir.
func (d *DockerLauncher) Create(ctx context.Context, req LaunchRequest) (models.SessionHandle, error) {
	if _, err := d.cli.ContainerInspect(ctx, req.Name); err == nil {
		return models.SessionHandle{}, fmt.Errorf("%w: %w: container %q", models.ErrLaunch, models.ErrSessionExists, req.Name)
	} else if !client.IsErrNotFound(err) {
		return models.SessionHandle{}, fmt.Errorf("%w: inspecting container %q: %v", models.ErrLaunch, req.Name, err)
	}

	hostDir := req.WorkDir
	if hostDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return models.SessionHandle{}, fmt.Errorf("%w: resolving working directory: %v", models.ErrLaunch, err)
		}
		hostDir = wd
	}

	containerConfig := &container.Config{
		Image:      d.cfg.Image,
		Cmd:        []string{d.shell, "-c", req.Command},
		WorkingDir: d.cfg.WorkDir,
		Tty:        true,
		OpenStdin:  true,
		Labels: map[string]string{
			LabelRun:      req.RunID,
			LabelSession:  req.Name,
			LabelResource: strconv.Itoa(req.ResourceID),
		},
	}

	// Every device is exposed so the command's own device prefix keeps the
	// host numbering.
	hostConfig := &container.HostConfig{
		Binds: append([]string{fmt.Sprintf("%s:%s", hostDir, d.cfg.WorkDir)}, d.cfg.ExtraBinds...),
	}
	hostConfig.DeviceRequests = []container.DeviceRequest{
		{
			Driver:       d.cfg.GPUDriver,
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, req.Name)
	if err != nil {
		return models.SessionHandle{}, fmt.Errorf("%w: failed to create container %q: %v", models.ErrLaunch, req.Name, err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("Docker create warning", zap.String("session", req.Name), zap.String("warning", w))
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			d.logger.Warn("Failed to remove container after start failure", zap.String("container_id", resp.ID), zap.Error(rmErr))
		}
		return models.SessionHandle{}, fmt.Errorf("%w: failed to start container %q: %v", models.ErrLaunch, req.Name, err)
	}

	d.logger.Info("Container session started",
		zap.String("session", req.Name),
		zap.String("container_id", resp.ID),
		zap.Int("resource_id", req.ResourceID),
	)
	return models.SessionHandle{
		Name:         req.Name,
		Backend:      config.BackendDocker,
		ResourceID:   req.ResourceID,
		Combinations: req.Combinations,
		WorkDir:      req.WorkDir,
		ContainerID:  resp.ID,
		RunID:        req.RunID,
		LaunchedAt:   time.Now().UTC(),
	}, nil
}

// List returns a table of every container carrying the run label.
func (d *DockerLauncher) List(ctx context.Context) (string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelRun)),
	})
	if err != nil {
		return "", fmt.Errorf("listing containers: %w", err)
	}

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRESOURCE\tRUN\tSTATE\tSTATUS")
	for _, c := range containers {
		name := c.Labels[LabelSession]
		if name == "" && len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, c.Labels[LabelResource], c.Labels[LabelRun], c.State, c.Status)
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Attach is not supported by the docker backend.
func (d *DockerLauncher) Attach(_ context.Context, name string) error {
	return fmt.Errorf("%w: attach with `docker attach %s` (detach with ctrl-p ctrl-q)", errors.ErrUnsupported, name)
}
