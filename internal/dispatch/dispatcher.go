// Package dispatch turns a grid spec and a set of idle resources into
// detached sessions, one partition of the grid per resource.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/gpu"
	"github.com/dante-gpu/dante-sweep/internal/grid"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/dante-gpu/dante-sweep/internal/nats"
	"github.com/dante-gpu/dante-sweep/internal/session"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Snapshotter stages the source tree before anything is launched.
type Snapshotter interface {
	Take(ctx context.Context, runID string) (string, error)
}

// Options tune a Dispatcher.
type Options struct {
	// DryRun plans and logs everything but takes no snapshot and launches nothing.
	DryRun bool
	// Host is reported in dispatch events.
	Host string
	// Snapshotter is nil when snapshots are disabled.
	Snapshotter Snapshotter
	// Publisher receives one event per launched session; nil disables publishing.
	Publisher nats.Publisher
}

// Dispatcher runs one sweep: expand, partition, snapshot, launch.
type Dispatcher struct {
	logger   *zap.Logger
	cfg      *config.Config
	launcher session.Launcher
	opts     Options
	newRunID func() string
}

// New creates a dispatcher launching through launcher.
func New(cfg *config.Config, launcher session.Launcher, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Publisher == nil {
		opts.Publisher = nats.NoopPublisher{}
	}
	return &Dispatcher{
		logger:   logger,
		cfg:      cfg,
		launcher: launcher,
		opts:     opts,
		newRunID: func() string { return uuid.New().String() },
	}
}

// Plan expands spec and assigns it to resources without side effects.
func (d *Dispatcher) Plan(spec *grid.Spec, resources []gpu.ResourceID) (*Plan, error) {
	return buildPlan(d.cfg, spec, resources)
}

// Dispatch launches one detached session per planned session and returns
// their handles. A failed launch does not stop the remaining ones; all
// launch failures are returned together and wrap models.ErrLaunch.
func (d *Dispatcher) Dispatch(ctx context.Context, spec *grid.Spec, resources []gpu.ResourceID) ([]models.SessionHandle, error) {
	runID := d.newRunID()
	logger := d.logger.With(zap.String("run_id", runID))

	plan, err := d.Plan(spec, resources)
	if err != nil {
		if errors.Is(err, models.ErrNoResourcesAvailable) && d.cfg.Dispatch.OnNoResources == config.PolicySkip {
			logger.Warn("No idle resources, nothing dispatched")
			return nil, nil
		}
		return nil, err
	}

	logger.Info("Grid expanded",
		zap.Strings("grid_keys", plan.Expansion.Keys),
		zap.Int("combinations", len(plan.Expansion.Combinations)),
		zap.Int("resources", len(plan.Resources)),
		zap.Int("chunk_size", plan.ChunkSize),
		zap.String("template", plan.Expansion.Template.String()),
	)
	for i, id := range plan.Resources {
		logger.Info("Resource assignment",
			zap.Int("resource_id", int(id)),
			zap.Int("combinations", len(plan.Assignments[i])),
		)
	}
	if len(plan.Sessions) == 0 {
		logger.Warn("Grid has no combinations, nothing dispatched")
		return nil, nil
	}

	if d.opts.DryRun {
		for _, s := range plan.Sessions {
			logger.Info("Dry run: would launch session",
				zap.String("session", s.Name),
				zap.Int("resource_id", int(s.ResourceID)),
				zap.String("command", s.Script),
			)
		}
		return nil, nil
	}

	var workDir string
	if d.opts.Snapshotter != nil {
		workDir, err = d.opts.Snapshotter.Take(ctx, runID)
		if err != nil {
			logger.Error("Snapshot failed, nothing launched", zap.Error(err))
			return nil, err
		}
	}

	var (
		handles []models.SessionHandle
		errs    error
	)
	for _, s := range plan.Sessions {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: session %s not launched: %w", models.ErrLaunch, s.Name, err))
			continue
		}

		handle, err := d.launcher.Create(ctx, session.LaunchRequest{
			Name:         s.Name,
			Command:      s.Script,
			WorkDir:      workDir,
			ResourceID:   int(s.ResourceID),
			Combinations: len(s.Combinations),
			RunID:        runID,
		})
		if err != nil {
			if !errors.Is(err, models.ErrLaunch) {
				err = fmt.Errorf("%w: %w", models.ErrLaunch, err)
			}
			logger.Error("Failed to launch session", zap.String("session", s.Name), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}

		logger.Info("Session launched",
			zap.String("session", handle.Name),
			zap.String("backend", handle.Backend),
			zap.Int("resource_id", handle.ResourceID),
			zap.Int("combinations", handle.Combinations),
		)
		handles = append(handles, handle)

		cmds := make([]string, len(s.Commands))
		for i, c := range s.Commands {
			cmds[i] = c.Shell()
		}
		if err := d.opts.Publisher.PublishDispatch(models.NewDispatchEvent(d.opts.Host, handle, cmds)); err != nil {
			logger.Warn("Failed to publish dispatch event", zap.String("session", handle.Name), zap.Error(err))
		}
	}

	logger.Info("Dispatch finished",
		zap.Int("launched", len(handles)),
		zap.Int("failed", len(multierr.Errors(errs))),
	)
	return handles, errs
}
