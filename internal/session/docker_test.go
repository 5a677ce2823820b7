package session

import (
	"context"
	"errors"
	"testing"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notFoundError struct{}

func (notFoundError) Error() string { return "No such container" }
func (notFoundError) NotFound()     {}

type fakeDocker struct {
	existing   map[string]bool
	startErr   error
	created    []*container.Config
	hostConfig []*container.HostConfig
	names      []string
	removed    []string
	listOpts   container.ListOptions
	containers []container.Summary
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	if f.existing[id] {
		return container.InspectResponse{}, nil
	}
	return container.InspectResponse{}, notFoundError{}
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.created = append(f.created, cfg)
	f.hostConfig = append(f.hostConfig, hostCfg)
	f.names = append(f.names, name)
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.listOpts = opts
	return f.containers, nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerLauncher_Create(t *testing.T) {
	api := &fakeDocker{}
	l := newDockerLauncher(settings(), api, zap.NewNop())

	h, err := l.Create(context.Background(), LaunchRequest{
		Name:         "gpu_session_2",
		Command:      "CUDA_VISIBLE_DEVICES=2 python training.py",
		WorkDir:      "/tmp/snap",
		ResourceID:   2,
		Combinations: 4,
		RunID:        "run-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", h.ContainerID)
	assert.Equal(t, config.BackendDocker, h.Backend)
	assert.Equal(t, 4, h.Combinations)

	require.Len(t, api.created, 1)
	cfg := api.created[0]
	assert.Equal(t, "pytorch/pytorch:latest", cfg.Image)
	assert.Equal(t, []string{"bash", "-c", "CUDA_VISIBLE_DEVICES=2 python training.py"}, []string(cfg.Cmd))
	assert.Equal(t, "/workspace", cfg.WorkingDir)
	assert.Equal(t, "run-7", cfg.Labels[LabelRun])
	assert.Equal(t, "2", cfg.Labels[LabelResource])
	assert.Equal(t, "gpu_session_2", api.names[0])

	host := api.hostConfig[0]
	assert.Equal(t, []string{"/tmp/snap:/workspace"}, host.Binds)
	require.Len(t, host.DeviceRequests, 1)
	assert.Equal(t, "nvidia", host.DeviceRequests[0].Driver)
	assert.Equal(t, -1, host.DeviceRequests[0].Count)
	assert.Equal(t, [][]string{{"gpu"}}, host.DeviceRequests[0].Capabilities)
}

func TestDockerLauncher_CreateExisting(t *testing.T) {
	api := &fakeDocker{existing: map[string]bool{"gpu_session_0": true}}
	l := newDockerLauncher(settings(), api, zap.NewNop())

	_, err := l.Create(context.Background(), LaunchRequest{Name: "gpu_session_0", WorkDir: "/tmp"})
	assert.ErrorIs(t, err, models.ErrSessionExists)
	assert.Empty(t, api.created)
}

func TestDockerLauncher_StartFailureRemovesContainer(t *testing.T) {
	api := &fakeDocker{startErr: errors.New("could not select device driver")}
	l := newDockerLauncher(settings(), api, zap.NewNop())

	_, err := l.Create(context.Background(), LaunchRequest{Name: "gpu_session_0", WorkDir: "/tmp"})
	assert.ErrorIs(t, err, models.ErrLaunch)
	assert.Equal(t, []string{"c0ffee"}, api.removed)
}

func TestDockerLauncher_List(t *testing.T) {
	api := &fakeDocker{containers: []container.Summary{
		{
			Names:  []string{"/gpu_session_0"},
			State:  "running",
			Status: "Up 3 minutes",
			Labels: map[string]string{LabelRun: "run-7", LabelResource: "0"},
		},
	}}
	l := newDockerLauncher(settings(), api, zap.NewNop())

	out, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "gpu_session_0")
	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, "Up 3 minutes")
	assert.True(t, api.listOpts.All)
	assert.Equal(t, []string{LabelRun}, api.listOpts.Filters.Get("label"))
}

func TestDockerLauncher_Attach(t *testing.T) {
	l := newDockerLauncher(settings(), &fakeDocker{}, zap.NewNop())
	err := l.Attach(context.Background(), "gpu_session_0")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Contains(t, err.Error(), "docker attach gpu_session_0")
}
