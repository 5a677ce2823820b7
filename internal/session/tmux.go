package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/config"
	"github.com/dante-gpu/dante-sweep/internal/executor"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"go.uber.org/zap"
)

// TmuxLauncher runs each session in a detached tmux session.
type TmuxLauncher struct {
	logger *zap.Logger
	runner executor.Runner
	tmux   string
	shell  string
}

// NewTmuxLauncher creates a launcher for the tmux backend.
func NewTmuxLauncher(cfg *config.SessionSettings, runner executor.Runner, logger *zap.Logger) *TmuxLauncher {
	tmux := cfg.TmuxPath
	if tmux == "" {
		tmux = "tmux"
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "bash"
	}
	return &TmuxLauncher{logger: logger, runner: runner, tmux: tmux, shell: shell}
}

func (t *TmuxLauncher) Backend() string { return config.BackendTmux }

func (t *TmuxLauncher) Close() error { return nil }

// Create runs `tmux new-session -d -s <name> [-c <dir>] <shell> -c <command>`.
func (t *TmuxLauncher) Create(ctx context.Context, req LaunchRequest) (models.SessionHandle, error) {
	if _, err := t.runner.LookPath(t.tmux); err != nil {
		return models.SessionHandle{}, fmt.Errorf("%w: %s not found: %v", models.ErrLaunch, t.tmux, err)
	}

	// has-session succeeds only when the session exists. The "=" prefix
	// disables tmux's prefix matching.
	if res := t.runner.Run(ctx, t.tmux, "has-session", "-t", "="+req.Name); res.Error == nil {
		return models.SessionHandle{}, fmt.Errorf("%w: %w: tmux session %q", models.ErrLaunch, models.ErrSessionExists, req.Name)
	}

	args := []string{"new-session", "-d", "-s", req.Name}
	if req.WorkDir != "" {
		args = append(args, "-c", req.WorkDir)
	}
	args = append(args, t.shell, "-c", req.Command)

	res := t.runner.Run(ctx, t.tmux, args...)
	if res.Error != nil {
		return models.SessionHandle{}, fmt.Errorf("%w: tmux session %q: %v: %s", models.ErrLaunch, req.Name, res.Error,
			executor.Snippet(strings.TrimSpace(res.Stderr), 256))
	}

	t.logger.Info("Tmux session started", zap.String("session", req.Name), zap.Int("resource_id", req.ResourceID))
	return models.SessionHandle{
		Name:         req.Name,
		Backend:      config.BackendTmux,
		ResourceID:   req.ResourceID,
		Combinations: req.Combinations,
		WorkDir:      req.WorkDir,
		RunID:        req.RunID,
		LaunchedAt:   time.Now().UTC(),
	}, nil
}

// List returns `tmux list-sessions`. No running server means no sessions.
func (t *TmuxLauncher) List(ctx context.Context) (string, error) {
	res := t.runner.Run(ctx, t.tmux, "list-sessions")
	if res.ExitCode < 0 {
		return "", fmt.Errorf("listing tmux sessions: %w", res.Error)
	}
	if res.Error != nil {
		return "", nil
	}
	return res.Stdout, nil
}

// Attach runs `tmux attach-session -t <name>`.
func (t *TmuxLauncher) Attach(ctx context.Context, name string) error {
	return t.runner.Interactive(ctx, t.tmux, "attach-session", "-t", "="+name)
}
