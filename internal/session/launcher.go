// Package session starts detached, named sessions that outlive the launcher.
package session

import (
	"context"
	"fmt"

	"github.com/alessio/shellescape"
	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/executor"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"go.uber.org/zap"
)

// LaunchRequest describes one session to start.
type LaunchRequest struct {
	Name         string
	Command      string // shell text, already quoted
	WorkDir      string // empty means the launcher's working directory
	ResourceID   int
	Combinations int
	RunID        string
}

// Launcher starts detached sessions on one backend.
type Launcher interface {
	// Create starts the session and returns without waiting for it.
	Create(ctx context.Context, req LaunchRequest) (models.SessionHandle, error)
	// List returns the backend's own listing of sessions.
	List(ctx context.Context) (string, error)
	// Attach connects the terminal to a running session.
	Attach(ctx context.Context, name string) error
	Backend() string
	Close() error
}

// New returns the launcher selected by cfg.Backend.
func New(cfg *config.SessionSettings, runner executor.Runner, logger *zap.Logger) (Launcher, error) {
	switch cfg.Backend {
	case config.BackendScreen, "":
		return NewScreenLauncher(cfg, runner, logger), nil
	case config.BackendTmux:
		return NewTmuxLauncher(cfg, runner, logger), nil
	case config.BackendDocker:
		return NewDockerLauncher(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown session backend %q", models.ErrInvalidSpec, cfg.Backend)
	}
}

// inDir prefixes command with a cd that aborts the session if dir is missing.
func inDir(dir, command string) string {
	if dir == "" {
		return command
	}
	return "cd " + shellescape.Quote(dir) + " || exit 1; " + command
}
