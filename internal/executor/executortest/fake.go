// Package executortest provides a scripted executor.Runner for tests.
package executortest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dante-gpu/dante-sweep/internal/executor"
)

// Call records one invocation.
type Call struct {
	Name string
	Args []string
}

// String renders the call as a single command line, for assertions.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Responder produces the result of a call.
type Responder func(c Call) executor.ExecutionResult

// FakeRunner records calls and answers them from Respond.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []Call
	Respond Responder
	// Missing lists tools LookPath should fail for.
	Missing map[string]bool
}

// Run records the call and returns Respond's answer, or success with no output.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) executor.ExecutionResult {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.Respond == nil {
		return executor.ExecutionResult{}
	}
	return f.Respond(c)
}

// Interactive records the call like Run.
func (f *FakeRunner) Interactive(ctx context.Context, name string, args ...string) error {
	return f.Run(ctx, name, args...).Error
}

// LookPath fails for tools listed in Missing.
func (f *FakeRunner) LookPath(name string) (string, error) {
	if f.Missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// Calls returns a copy of the recorded calls.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Failure is a convenience result for a non-zero exit.
func Failure(code int, stderr string) executor.ExecutionResult {
	return executor.ExecutionResult{
		Stderr:   stderr,
		ExitCode: code,
		Error:    fmt.Errorf("exited with code %d", code),
	}
}
