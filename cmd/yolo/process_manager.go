// Copyright (C) 2025 the yolo authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package main provides the yolo launch orchestrator.

ProcessManager abstracts external process execution. All exec.Command calls
in the orchestration code go through this interface to enable mocking in
unit tests.

# Design Rationale

Direct calls to exec.Command are not testable because they execute real
processes. By abstracting process execution behind an interface, we can:
  - Mock process execution in tests
  - Capture and verify command invocations
  - Simulate success/failure scenarios without real processes
*/
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ProcessManager handles external process operations.
//
// This interface abstracts all interaction with the container runtime CLI,
// the version-control CLI, and host process inspection, enabling testable
// code that doesn't require real process execution.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
type ProcessManager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Description
	//
	// Executes the specified command with arguments and waits for completion.
	// Stderr is captured and folded into the returned error on failure.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: stdout output
	//   - error: Non-nil if command fails or is cancelled
	//
	// # Examples
	//
	//   output, err := pm.Run(ctx, "podman", "ps", "--format", "json")
	//   if err != nil {
	//       return fmt.Errorf("failed to list containers: %w", err)
	//   }
	//
	// # Limitations
	//
	//   - Large output may consume significant memory
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// # Description
	//
	// Executes the specified command and pipes the input data to the
	// process's stdin. Used for commands that consume sensitive data from
	// stdin so secrets never appear in argument lists.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - input: Data to write to stdin
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: stdout output
	//   - error: Non-nil if command fails, stdin write fails, or cancelled
	//
	// # Limitations
	//
	//   - Input is fully buffered in memory before being written
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunInteractive executes a command attached to the caller's terminal.
	//
	// # Description
	//
	// Wires the process directly to the operator's stdin/stdout/stderr and
	// blocks until it exits. Used for the final container handoff and for
	// the disposable authentication container, both of which are
	// operator-paced foreground sessions.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - error: Non-nil if the process could not start or exited non-zero
	//
	// # Limitations
	//
	//   - Output is not captured; it goes straight to the terminal
	RunInteractive(ctx context.Context, name string, args ...string) error

	// IsRunning checks if a host process matching the pattern exists.
	//
	// # Description
	//
	// Searches for running processes whose command line matches the given
	// pattern. Uses pgrep for process detection. This is how an
	// interactive container is tied back to a live owning launcher process.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - pattern: String pattern to match against process command lines
	//
	// # Outputs
	//
	//   - bool: True if at least one matching process is running
	//   - int: PID of first matching process (0 if not found)
	//   - error: Non-nil if process detection fails (not for "not found")
	//
	// # Limitations
	//
	//   - Pattern matching behavior depends on the platform's pgrep
	//   - Only returns first matching PID, not all matches
	//
	// # Assumptions
	//
	//   - pgrep is available on the system (standard on macOS/Linux)
	IsRunning(ctx context.Context, pattern string) (bool, int, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
//
// This is the production implementation that executes real processes on the
// system. Use MockProcessManager in tests instead.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a new DefaultProcessManager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandFailure(name, args, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// RunWithInput executes a command with data piped to stdin.
func (pm *DefaultProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandFailure(name, args, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// commandFailure wraps a subprocess failure as a CommandError carrying
// the exit code and captured stderr.
func commandFailure(name string, args []string, stderr string, err error) *CommandError {
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return NewCommandError(name+" "+strings.Join(args, " "), exitCode, stderr, err)
}

// RunInteractive executes a command attached to the caller's terminal.
func (pm *DefaultProcessManager) RunInteractive(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s exited: %w", name, err)
	}
	return nil
}

// IsRunning checks if a process matching the pattern exists.
func (pm *DefaultProcessManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	output, err := cmd.Output()

	if err != nil {
		// pgrep returns exit code 1 when no processes found - this is not an error
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("pgrep failed: %w", err)
	}

	// Parse the first PID from output
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > 0 && lines[0] != "" {
		pid, err := strconv.Atoi(lines[0])
		if err != nil {
			return true, 0, nil // Process found but PID parse failed
		}
		return true, pid, nil
	}

	return false, 0, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "podman" && args[0] == "ps" {
//	            return []byte("[]"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInputFunc is called when RunWithInput is invoked
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunInteractiveFunc is called when RunInteractive is invoked
	RunInteractiveFunc func(ctx context.Context, name string, args ...string) error

	// IsRunningFunc is called when IsRunning is invoked
	IsRunningFunc func(ctx context.Context, pattern string) (bool, int, error)

	// Calls records all method invocations for verification
	Calls []ProcessManagerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ProcessManagerCall records a single method invocation.
type ProcessManagerCall struct {
	Method string
	Name   string
	Args   []string
	Input  []byte
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "Run",
		Name:   name,
		Args:   args,
	})
	if m.RunFunc == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput delegates to RunWithInputFunc and records the call.
func (m *MockProcessManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "RunWithInput",
		Name:   name,
		Args:   args,
		Input:  input,
	})
	if m.RunWithInputFunc == nil {
		panic("MockProcessManager.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// RunInteractive delegates to RunInteractiveFunc and records the call.
func (m *MockProcessManager) RunInteractive(ctx context.Context, name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "RunInteractive",
		Name:   name,
		Args:   args,
	})
	if m.RunInteractiveFunc == nil {
		panic("MockProcessManager.RunInteractiveFunc not set")
	}
	return m.RunInteractiveFunc(ctx, name, args...)
}

// IsRunning delegates to IsRunningFunc and records the call.
func (m *MockProcessManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ProcessManagerCall{
		Method: "IsRunning",
		Name:   pattern,
	})
	if m.IsRunningFunc == nil {
		panic("MockProcessManager.IsRunningFunc not set")
	}
	return m.IsRunningFunc(ctx, pattern)
}

// Reset clears all recorded calls.
func (m *MockProcessManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []ProcessManagerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ProcessManagerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
