package gpu

import (
	"context"
	"testing"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/executor"
	"github.com/dante-gpu/dante-sweep/internal/executor/executortest"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func smiOutput(out string) *executortest.FakeRunner {
	return &executortest.FakeRunner{
		Respond: func(executortest.Call) executor.ExecutionResult {
			return executor.ExecutionResult{Stdout: out}
		},
	}
}

func TestParseUtilization(t *testing.T) {
	devices, err := ParseUtilization("0, 0\n1, 57\n2, 0\n")
	require.NoError(t, err)
	assert.Equal(t, []DeviceUtilization{
		{Index: 0, Utilization: 0},
		{Index: 1, Utilization: 57},
		{Index: 2, Utilization: 0},
	}, devices)

	devices, err = ParseUtilization("")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestParseUtilization_Malformed(t *testing.T) {
	for _, out := range []string{
		"0, [N/A]\n",
		"0\n",
		"x, 0\n",
		"0, 1, 2\n",
		"-1, 0\n",
	} {
		_, err := ParseUtilization(out)
		assert.ErrorIs(t, err, models.ErrResourceDiscovery, "output %q", out)
	}
}

func TestDetector_DiscoverIdleOnly(t *testing.T) {
	runner := smiOutput("0, 0\n1, 35\n2, 0\n3, 0\n")
	cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", OnDiscoveryError: config.PolicyFatal}

	ids, err := NewDetector(cfg, runner, zap.NewNop()).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ResourceID{0, 2, 3}, ids)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nvidia-smi --query-gpu=index,utilization.gpu --format=csv,noheader,nounits", calls[0].String())
}

func TestDetector_DiscoverThreshold(t *testing.T) {
	runner := smiOutput("0, 3\n1, 35\n")
	cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", IdleUtilization: 5, OnDiscoveryError: config.PolicyFatal}

	ids, err := NewDetector(cfg, runner, zap.NewNop()).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ResourceID{0}, ids)
}

func TestDetector_DiscoverFailurePolicies(t *testing.T) {
	failing := func() *executortest.FakeRunner {
		return &executortest.FakeRunner{
			Respond: func(executortest.Call) executor.ExecutionResult {
				return executortest.Failure(9, "NVIDIA-SMI has failed")
			},
		}
	}

	t.Run("fatal", func(t *testing.T) {
		cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", OnDiscoveryError: config.PolicyFatal}
		_, err := NewDetector(cfg, failing(), zap.NewNop()).Discover(context.Background())
		assert.ErrorIs(t, err, models.ErrResourceDiscovery)
	})

	t.Run("empty", func(t *testing.T) {
		cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", OnDiscoveryError: config.PolicyEmpty}
		ids, err := NewDetector(cfg, failing(), zap.NewNop()).Discover(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("tool missing", func(t *testing.T) {
		runner := &executortest.FakeRunner{Missing: map[string]bool{"nvidia-smi": true}}
		cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", OnDiscoveryError: config.PolicyFatal}
		_, err := NewDetector(cfg, runner, zap.NewNop()).Discover(context.Background())
		assert.ErrorIs(t, err, models.ErrResourceDiscovery)
		assert.Empty(t, runner.Calls())
	})

	t.Run("non-numeric reading", func(t *testing.T) {
		cfg := &config.ResourceSettings{NvidiaSmiPath: "nvidia-smi", OnDiscoveryError: config.PolicyFatal}
		_, err := NewDetector(cfg, smiOutput("0, [N/A]\n"), zap.NewNop()).Discover(context.Background())
		assert.ErrorIs(t, err, models.ErrResourceDiscovery)
	})
}

func TestDetector_Select(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ResourceSettings
		in   []ResourceID
		want []ResourceID
	}{
		{"identity", config.ResourceSettings{}, []ResourceID{0, 1, 2}, []ResourceID{0, 1, 2}},
		{"swap", config.ResourceSettings{Remap: map[int]int{0: 1, 1: 0}}, []ResourceID{0, 1, 2}, []ResourceID{1, 0, 2}},
		{"allow list before remap", config.ResourceSettings{AllowedIDs: []int{1, 2}, Remap: map[int]int{1: 5}}, []ResourceID{0, 1, 2}, []ResourceID{5, 2}},
		{"collision dropped", config.ResourceSettings{Remap: map[int]int{0: 1}}, []ResourceID{0, 1}, []ResourceID{1}},
		{"cap after remap", config.ResourceSettings{Remap: map[int]int{0: 3}, MaxResources: 2}, []ResourceID{0, 1, 2}, []ResourceID{3, 1}},
		{"cap larger than pool", config.ResourceSettings{MaxResources: 8}, []ResourceID{0, 1}, []ResourceID{0, 1}},
		{"nothing discovered", config.ResourceSettings{}, nil, []ResourceID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			d := NewDetector(&cfg, &executortest.FakeRunner{}, zap.NewNop())
			assert.Equal(t, tt.want, d.Select(tt.in))
		})
	}
}

func TestRemap_PureAndTotal(t *testing.T) {
	src := map[int]int{0: 1, 1: 0}
	r := NewRemap(src)

	for id := ResourceID(0); id < 8; id++ {
		once := r.Apply(id)
		assert.Equal(t, once, r.Apply(id), "lookup must be deterministic for %d", id)
	}
	assert.Equal(t, ResourceID(1), r.Apply(0))
	assert.Equal(t, ResourceID(0), r.Apply(1))
	assert.Equal(t, ResourceID(7), r.Apply(7))

	// The table is copied.
	src[0] = 9
	assert.Equal(t, ResourceID(1), r.Apply(0))
}
