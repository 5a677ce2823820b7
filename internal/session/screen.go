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

// ScreenLauncher runs each session in a detached GNU screen.
type ScreenLauncher struct {
	logger *zap.Logger
	runner executor.Runner
	screen string
	shell  string
}

// NewScreenLauncher creates a launcher for the screen backend.
func NewScreenLauncher(cfg *config.SessionSettings, runner executor.Runner, logger *zap.Logger) *ScreenLauncher {
	screen := cfg.ScreenPath
	if screen == "" {
		screen = "screen"
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "bash"
	}
	return &ScreenLauncher{logger: logger, runner: runner, screen: screen, shell: shell}
}

func (s *ScreenLauncher) Backend() string { return config.BackendScreen }

func (s *ScreenLauncher) Close() error { return nil }

// Create runs `screen -dmS <name> <shell> -c <command>`.
func (s *ScreenLauncher) Create(ctx context.Context, req LaunchRequest) (models.SessionHandle, error) {
	if _, err := s.runner.LookPath(s.screen); err != nil {
		return models.SessionHandle{}, fmt.Errorf("%w: %s not found: %v", models.ErrLaunch, s.screen, err)
	}

	exists, err := s.exists(ctx, req.Name)
	if err != nil {
		return models.SessionHandle{}, err
	}
	if exists {
		return models.SessionHandle{}, fmt.Errorf("%w: %w: screen session %q", models.ErrLaunch, models.ErrSessionExists, req.Name)
	}

	res := s.runner.Run(ctx, s.screen, "-dmS", req.Name, s.shell, "-c", inDir(req.WorkDir, req.Command))
	if res.Error != nil {
		return models.SessionHandle{}, fmt.Errorf("%w: screen session %q: %v: %s", models.ErrLaunch, req.Name, res.Error,
			executor.Snippet(strings.TrimSpace(res.Stderr), 256))
	}

	s.logger.Info("Screen session started", zap.String("session", req.Name), zap.Int("resource_id", req.ResourceID))
	return models.SessionHandle{
		Name:         req.Name,
		Backend:      config.BackendScreen,
		ResourceID:   req.ResourceID,
		Combinations: req.Combinations,
		WorkDir:      req.WorkDir,
		RunID:        req.RunID,
		LaunchedAt:   time.Now().UTC(),
	}, nil
}

// exists looks for name in `screen -ls`. screen exits non-zero whenever the
// listing is empty, so only the output is trusted.
func (s *ScreenLauncher) exists(ctx context.Context, name string) (bool, error) {
	res := s.runner.Run(ctx, s.screen, "-ls")
	if res.ExitCode < 0 {
		return false, fmt.Errorf("%w: listing screen sessions: %v", models.ErrLaunch, res.Error)
	}
	return screenHasSession(res.Stdout, name), nil
}

// screenHasSession matches "<pid>.<name>" entries of a screen listing.
func screenHasSession(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		_, sessionName, ok := strings.Cut(fields[0], ".")
		if ok && sessionName == name {
			return true
		}
	}
	return false
}

// List returns the raw `screen -ls` output.
func (s *ScreenLauncher) List(ctx context.Context) (string, error) {
	res := s.runner.Run(ctx, s.screen, "-ls")
	if res.ExitCode < 0 {
		return "", fmt.Errorf("listing screen sessions: %w", res.Error)
	}
	return res.Stdout, nil
}

// Attach reattaches the terminal with `screen -r <name>`.
func (s *ScreenLauncher) Attach(ctx context.Context, name string) error {
	return s.runner.Interactive(ctx, s.screen, "-r", name)
}
