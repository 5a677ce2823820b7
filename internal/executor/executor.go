package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ExecutionResult holds the outcome of an external tool invocation.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    error // Setup errors or non-zero exits; nil on success
}

// Runner runs short-lived external tools (nvidia-smi, screen, tmux).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ExecutionResult
	// Interactive hands the terminal over to the tool until it exits.
	Interactive(ctx context.Context, name string, args ...string) error
	// LookPath reports whether the tool can be found.
	LookPath(name string) (string, error)
}

// CommandRunner implements Runner on top of os/exec.
type CommandRunner struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewCommandRunner creates a new CommandRunner. A zero timeout means no limit.
func NewCommandRunner(logger *zap.Logger, timeout time.Duration) *CommandRunner {
	return &CommandRunner{logger: logger, timeout: timeout}
}

// Run executes the tool and captures its output.
func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) ExecutionResult {
	var execCtx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	r.logger.Debug("Running external tool", zap.String("tool", name), zap.Strings("args", args))
	runErr := cmd.Run()

	result := ExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			result.ExitCode = -2
			result.Error = fmt.Errorf("%s timed out after %v", name, r.timeout)
		} else if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Errorf("%s exited with code %d: %w", name, result.ExitCode, exitErr)
		} else {
			result.ExitCode = -1
			result.Error = fmt.Errorf("failed to run %s: %w", name, runErr)
		}
	}

	r.logger.Debug("External tool finished",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)),
	)

	return result
}

// Interactive runs the tool attached to the current terminal.
func (r *CommandRunner) Interactive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// LookPath resolves the tool through PATH.
func (r *CommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Snippet returns s truncated to maxLength, for log fields.
func Snippet(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "... (truncated)"
}
