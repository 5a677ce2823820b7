package gpu

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/executor"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"go.uber.org/zap"
)

// ResourceID is a device index as understood by CUDA_VISIBLE_DEVICES.
type ResourceID int

// DeviceUtilization is one row of the utilization query.
type DeviceUtilization struct {
	Index       ResourceID
	Utilization uint32 // percent
}

// Detector discovers idle devices using nvidia-smi.
type Detector struct {
	logger *zap.Logger
	cfg    *config.ResourceSettings
	runner executor.Runner
	remap  Remap
}

// NewDetector creates a new GPU detector.
func NewDetector(cfg *config.ResourceSettings, runner executor.Runner, logger *zap.Logger) *Detector {
	return &Detector{
		logger: logger,
		cfg:    cfg,
		runner: runner,
		remap:  NewRemap(cfg.Remap),
	}
}

// Utilization queries the current utilization of every device.
func (d *Detector) Utilization(ctx context.Context) ([]DeviceUtilization, error) {
	nvidiaSmiCmd := d.cfg.NvidiaSmiPath
	if nvidiaSmiCmd == "" {
		nvidiaSmiCmd = "nvidia-smi"
	}
	if _, err := d.runner.LookPath(nvidiaSmiCmd); err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", models.ErrResourceDiscovery, nvidiaSmiCmd, err)
	}

	res := d.runner.Run(ctx, nvidiaSmiCmd, "--query-gpu=index,utilization.gpu", "--format=csv,noheader,nounits")
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v: %s", models.ErrResourceDiscovery, res.Error, executor.Snippet(strings.TrimSpace(res.Stderr), 256))
	}
	return ParseUtilization(res.Stdout)
}

// ParseUtilization parses "index, utilization" lines. Any malformed or
// non-numeric line fails the whole query.
func ParseUtilization(output string) ([]DeviceUtilization, error) {
	var devices []DeviceUtilization
	for lineNo, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed nvidia-smi line %d: %q", models.ErrResourceDiscovery, lineNo+1, line)
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || index < 0 {
			return nil, fmt.Errorf("%w: invalid device index on line %d: %q", models.ErrResourceDiscovery, lineNo+1, fields[0])
		}
		util, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid utilization on line %d: %q", models.ErrResourceDiscovery, lineNo+1, fields[1])
		}
		devices = append(devices, DeviceUtilization{Index: ResourceID(index), Utilization: uint32(util)})
	}
	return devices, nil
}

// Discover returns the effective ids of the idle devices, in device order.
// Query failures either fail the run or degrade to an empty list depending
// on resources.on_discovery_error.
func (d *Detector) Discover(ctx context.Context) ([]ResourceID, error) {
	d.logger.Info("Starting GPU discovery", zap.String("nvidia_smi", d.cfg.NvidiaSmiPath))

	devices, err := d.Utilization(ctx)
	if err != nil {
		if d.cfg.OnDiscoveryError == config.PolicyEmpty {
			d.logger.Warn("GPU discovery failed, continuing with no resources", zap.Error(err))
			return []ResourceID{}, nil
		}
		d.logger.Error("GPU discovery failed", zap.Error(err))
		return nil, err
	}

	var idle []ResourceID
	for _, dev := range devices {
		if dev.Utilization <= d.cfg.IdleUtilization {
			idle = append(idle, dev.Index)
		} else {
			d.logger.Debug("GPU busy", zap.Int("index", int(dev.Index)), zap.Uint32("utilization", dev.Utilization))
		}
	}

	selected := d.Select(idle)
	d.logger.Info("GPU discovery completed",
		zap.Int("gpu_count", len(devices)),
		zap.Int("idle_count", len(idle)),
		zap.Ints("selected", toInts(selected)),
	)
	return selected, nil
}

// Select applies the allow-list, the remap table, de-duplication and the
// resource cap, in that order.
func (d *Detector) Select(discovered []ResourceID) []ResourceID {
	allowed := make(map[ResourceID]struct{}, len(d.cfg.AllowedIDs))
	for _, id := range d.cfg.AllowedIDs {
		allowed[ResourceID(id)] = struct{}{}
	}

	out := make([]ResourceID, 0, len(discovered))
	seen := make(map[ResourceID]struct{}, len(discovered))
	for _, id := range discovered {
		if len(allowed) > 0 {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		eff := d.remap.Apply(id)
		if _, dup := seen[eff]; dup {
			d.logger.Warn("Remapped GPU collides with another selected GPU, dropping it",
				zap.Int("discovered", int(id)), zap.Int("effective", int(eff)))
			continue
		}
		seen[eff] = struct{}{}
		out = append(out, eff)
	}

	if d.cfg.MaxResources > 0 && len(out) > d.cfg.MaxResources {
		d.logger.Info("Capping selected GPUs", zap.Int("available", len(out)), zap.Int("max_resources", d.cfg.MaxResources))
		out = out[:d.cfg.MaxResources]
	}
	return out
}

// Remap returns the detector's remap table.
func (d *Detector) Remap() Remap {
	return d.remap
}

func toInts(ids []ResourceID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
